package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/logging"
)

// RequestLogger logs one structured line per request after completion.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		modelVal, _ := c.Get("model")
		extras := log.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": logging.DurationMS(time.Since(start)),
			"method":     method,
			"path":       path,
			"user_agent": c.Request.UserAgent(),
		}
		if modelVal != nil {
			extras["model"] = modelVal
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
