package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "kiro2api-go/internal/errors"
	"kiro2api-go/internal/middleware"
	"kiro2api-go/internal/models"
)

func anthropicDialect(c *gin.Context) bool {
	return c.GetHeader("anthropic-version") != ""
}

// ListModels serves the static model registry in the caller's dialect. The
// upstream listing refreshes the cache opportunistically; its failure never
// breaks the endpoint.
func (h *Handler) ListModels(c *gin.Context) {
	h.cache.Refresh(c.Request.Context(), h.client)

	ids := models.AvailableModels
	if anthropicDialect(c) {
		c.JSON(http.StatusOK, models.AnthropicModelListOf(ids))
		return
	}
	c.JSON(http.StatusOK, models.OpenAIModelList(ids))
}

// GetModel serves one registry entry, 404 for unknown ids.
func (h *Handler) GetModel(c *gin.Context) {
	id := c.Param("id")
	for _, known := range models.AvailableModels {
		if known != id {
			continue
		}
		if anthropicDialect(c) {
			c.JSON(http.StatusOK, models.AnthropicModel{
				ID:          id,
				Type:        "model",
				DisplayName: id,
				CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		c.JSON(http.StatusOK, models.OpenAIModel{
			ID:      id,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "anthropic",
		})
		return
	}
	middleware.WriteAPIError(c, apierrors.New(http.StatusNotFound,
		"model_not_found", "invalid_request_error", "Model "+id+" not found"))
}
