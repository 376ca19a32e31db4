package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/status", APIKeyMiddleware(key), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header string
		query  string
		want   int
	}{
		{name: "auth disabled", key: "", want: http.StatusOK},
		{name: "missing key", key: "secret", want: http.StatusUnauthorized},
		{name: "wrong key", key: "secret", header: "nope", want: http.StatusForbidden},
		{name: "header key", key: "secret", header: "secret", want: http.StatusOK},
		{name: "query key", key: "secret", query: "secret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/v1/status"
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(tt.key).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
