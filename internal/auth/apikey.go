package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// queryName carries the key for WebSocket clients, which cannot set headers.
	queryName = "api_key"
)

// providedKey returns the key sent with the request, header first.
func providedKey(c *gin.Context) string {
	if key := c.GetHeader(headerName); key != "" {
		return key
	}
	return c.Query(queryName)
}

// APIKeyMiddleware guards the admin API. A missing key is 401 and a wrong
// one 403. An empty apiKey turns the check off.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	want := []byte(apiKey)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		switch key := providedKey(c); {
		case key == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
		case subtle.ConstantTimeCompare([]byte(key), want) != 1:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
		default:
			c.Next()
		}
	}
}
