package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/eventstream"
	"kiro2api-go/internal/models"
	"kiro2api-go/internal/monitoring"
	"kiro2api-go/internal/streaming"
	"kiro2api-go/internal/tokenizer"
	"kiro2api-go/internal/translator"
)

// ChatCompletions serves the OpenAI-compatible completion endpoint, in both
// streaming and collected form.
func (h *Handler) ChatCompletions(c *gin.Context) {
	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		invalidRequest(c, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		invalidRequest(c, "messages must not be empty")
		return
	}
	c.Set("model", req.Model)
	log.WithFields(log.Fields{"model": req.Model, "stream": req.Stream}).Info("chat completion request")

	inputEstimate := tokenizer.EstimateRequest(req.Messages, req.Tools)
	if err := h.preflight(c, req.Model, inputEstimate); err != nil {
		abortWithError(c, err)
		return
	}

	src, closeBody, err := h.execute(c, &req)
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
		usage, err := streaming.StreamOpenAI(c.Writer, src, opts)
		if err != nil {
			monitoring.SSEDisconnectsTotal.WithLabelValues("openai", "error").Inc()
		} else {
			monitoring.SSEDisconnectsTotal.WithLabelValues("openai", "complete").Inc()
		}
		h.settleStreaming(c, req.Model, usage)
		return
	}

	resp, err := streaming.Collect(src, opts)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.settle(c.Request.Context(), c, req.Model, resp.Usage); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// execute translates the OpenAI-shaped request into the upstream payload and
// opens the event stream.
func (h *Handler) execute(c *gin.Context, req *models.ChatCompletionRequest) (streaming.Source, func(), error) {
	return h.executeCtx(c.Request.Context(), req)
}

func (h *Handler) executeCtx(ctx context.Context, req *models.ChatCompletionRequest) (streaming.Source, func(), error) {
	sel := auth.NewSelection()
	token, err := h.auth.GetAccessToken(ctx, sel)
	if err != nil {
		return nil, nil, err
	}

	payload, err := translator.BuildKiroPayload(req, translator.NewConversationID(), profileArnFor(token))
	if err != nil {
		return nil, nil, invalidPayloadError(err)
	}

	resp, err := h.client.GenerateAssistantResponse(ctx, sel, payload)
	if err != nil {
		return nil, nil, err
	}
	return eventstream.NewDemuxer(resp.Body), func() { _ = resp.Body.Close() }, nil
}
