package httpformat

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "kiro2api-go/internal/errors"
)

// DetectFromContext determines the error envelope format for a request.
// Anthropic clients are recognized by the /v1/messages routes or the
// anthropic-version header.
func DetectFromContext(c *gin.Context) apperrors.ErrorFormat {
	if c == nil {
		return apperrors.FormatOpenAI
	}
	if c.GetHeader("anthropic-version") != "" {
		return apperrors.FormatAnthropic
	}
	if path := c.FullPath(); path != "" {
		return DetectFromPath(path)
	}
	return DetectFromRequest(c.Request)
}

// DetectFromRequest determines the error format using a raw HTTP request.
func DetectFromRequest(r *http.Request) apperrors.ErrorFormat {
	if r == nil || r.URL == nil {
		return apperrors.FormatOpenAI
	}
	if r.Header.Get("anthropic-version") != "" {
		return apperrors.FormatAnthropic
	}
	return DetectFromPath(r.URL.Path)
}

// DetectFromPath determines the error format from a path string.
func DetectFromPath(path string) apperrors.ErrorFormat {
	if strings.Contains(strings.ToLower(path), "/v1/messages") {
		return apperrors.FormatAnthropic
	}
	return apperrors.FormatOpenAI
}
