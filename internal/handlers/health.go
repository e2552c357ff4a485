package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kiro2api-go/internal/version"
)

// Root describes the service for probes hitting "/".
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "kiro2api-go",
		"version": version.Version,
		"status":  "running",
	})
}

// Health reports liveness plus credential pool visibility.
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	if h.auth.PoolSize() == 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"version":   version.Version,
		"accounts":  h.auth.PoolSize(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
