package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type SystemHandler struct {
	checks map[string]Check
}

// NewSystemHandler takes the readiness checks keyed by dependency name.
// Nil checks are skipped.
func NewSystemHandler(checks map[string]Check) *SystemHandler {
	filtered := make(map[string]Check, len(checks))
	for name, check := range checks {
		if check != nil {
			filtered[name] = check
		}
	}
	return &SystemHandler{checks: filtered}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz runs every check in parallel under one deadline and reports 503
// when any of them fails.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
	)
	for name, check := range h.checks {
		name, check := name, check
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	healthy := true
	for _, result := range results {
		if result != "ok" {
			healthy = false
		}
	}

	status, label := http.StatusOK, "ready"
	if !healthy {
		status, label = http.StatusServiceUnavailable, "not ready"
	}
	c.JSON(status, gin.H{"status": label, "checks": results})
}
