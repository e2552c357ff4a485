package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apierrors "kiro2api-go/internal/errors"
	"kiro2api-go/internal/httpformat"
)

// Recovery converts handler panics into a dialect-aware 500 response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"error":     r,
					"stack":     string(debug.Stack()),
					"path":      c.Request.URL.Path,
					"method":    c.Request.Method,
					"client_ip": c.ClientIP(),
				}).Error("panic recovered")

				apiErr := apierrors.New(http.StatusInternalServerError,
					"panic_recovered", "api_error", "Internal server error")
				WriteAPIError(c, apiErr)
			}
		}()
		c.Next()
	}
}

// SafeGo starts a named goroutine that logs panics instead of crashing the
// process. Used for background tasks like batch runs and token refresh.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"goroutine": name,
					"error":     r,
					"stack":     string(debug.Stack()),
				}).Error("goroutine panic recovered")
			}
		}()
		fn()
	}()
}

// WriteAPIError renders an APIError in the format the client speaks and
// aborts the request.
func WriteAPIError(c *gin.Context, apiErr *apierrors.APIError) {
	format := httpformat.DetectFromContext(c)
	payload, err := apiErr.ToJSON(format)
	if err != nil {
		c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{"error": gin.H{
			"message": apiErr.Message,
			"type":    apiErr.Type,
			"code":    apiErr.Code,
		}})
		return
	}
	c.Data(apiErr.HTTPStatus, "application/json", payload)
	c.Abort()
}
