package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apierrors "kiro2api-go/internal/errors"
)

// KeyValidator resolves an API key to a user identity. Returning an error
// rejects the request with 401.
type KeyValidator func(ctx context.Context, key string) (userID any, err error)

// AuthConfig selects between a static key list and a backing validator.
type AuthConfig struct {
	StaticKeys []string
	Validator  KeyValidator
}

// APIKeyAuth authenticates clients via "Authorization: Bearer" or the
// Anthropic-style "x-api-key" header. With neither keys nor a validator
// configured the gateway runs open.
func APIKeyAuth(cfg AuthConfig) gin.HandlerFunc {
	keys := make([][]byte, 0, len(cfg.StaticKeys))
	for _, k := range cfg.StaticKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(c *gin.Context) {
		if len(keys) == 0 && cfg.Validator == nil {
			c.Next()
			return
		}

		provided := bearerToken(c)
		if provided == "" {
			provided = strings.TrimSpace(c.GetHeader("x-api-key"))
		}
		if provided == "" {
			rejectUnauthorized(c, "API key not provided")
			return
		}

		if cfg.Validator != nil {
			userID, err := cfg.Validator(c.Request.Context(), provided)
			if err != nil {
				log.WithError(err).Debug("api key validation failed")
				rejectUnauthorized(c, "Invalid API key")
				return
			}
			c.Set("api_key", provided)
			c.Set("user_id", userID)
			c.Next()
			return
		}

		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(provided), k) == 1 {
				c.Set("api_key", provided)
				c.Next()
				return
			}
		}
		rejectUnauthorized(c, "Invalid API key")
	}
}

func bearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func rejectUnauthorized(c *gin.Context, message string) {
	WriteAPIError(c, apierrors.New(http.StatusUnauthorized,
		"invalid_api_key", "invalid_request_error", message))
}
