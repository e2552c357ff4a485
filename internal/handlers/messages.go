package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/models"
	"kiro2api-go/internal/monitoring"
	"kiro2api-go/internal/streaming"
	"kiro2api-go/internal/tokenizer"
	"kiro2api-go/internal/translator"
)

// Messages serves the Anthropic-compatible endpoint. Requests are lifted
// into the OpenAI-shaped form first, so the rest of the pipeline is shared.
func (h *Handler) Messages(c *gin.Context) {
	var req models.AnthropicMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		invalidRequest(c, "model is required")
		return
	}
	if req.MaxTokens <= 0 {
		invalidRequest(c, "max_tokens must be positive")
		return
	}
	if len(req.Messages) == 0 {
		invalidRequest(c, "messages must not be empty")
		return
	}
	c.Set("model", req.Model)
	log.WithFields(log.Fields{"model": req.Model, "stream": req.Stream}).Info("anthropic message request")

	openaiReq := translator.AnthropicToOpenAI(&req)
	inputEstimate := tokenizer.CountAnthropicMessages(req.Messages) +
		tokenizer.CountAnthropicTools(req.Tools) +
		tokenizer.CountAnthropicSystem(req.System)

	if err := h.preflight(c, req.Model, inputEstimate); err != nil {
		abortWithError(c, err)
		return
	}

	src, closeBody, err := h.execute(c, openaiReq)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer closeBody()

	opts := streaming.Options{
		Model:         req.Model,
		EstimateInput: func() int { return inputEstimate },
	}
	monitoring.UpstreamModelRequests.WithLabelValues(req.Model).Inc()

	if req.Stream {
		setSSEHeaders(c)
		usage, err := streaming.StreamAnthropic(c.Writer, src, opts)
		if err != nil {
			monitoring.SSEDisconnectsTotal.WithLabelValues("anthropic", "error").Inc()
		} else {
			monitoring.SSEDisconnectsTotal.WithLabelValues("anthropic", "complete").Inc()
		}
		h.settleStreaming(c, req.Model, usage)
		return
	}

	collected, err := streaming.Collect(src, opts)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.settle(c.Request.Context(), c, req.Model, collected.Usage); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, translator.OpenAIResponseToAnthropic(collected))
}

// CountTokens estimates the input token footprint without contacting the
// upstream.
func (h *Handler) CountTokens(c *gin.Context) {
	var req models.AnthropicMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body: "+err.Error())
		return
	}
	total := tokenizer.CountAnthropicMessages(req.Messages) +
		tokenizer.CountAnthropicTools(req.Tools) +
		tokenizer.CountAnthropicSystem(req.System)
	c.JSON(http.StatusOK, gin.H{"input_tokens": total})
}
