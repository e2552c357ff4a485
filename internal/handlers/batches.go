package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"kiro2api-go/internal/batch"
	"kiro2api-go/internal/constants"
	apierrors "kiro2api-go/internal/errors"
	"kiro2api-go/internal/middleware"
	"kiro2api-go/internal/models"
	"kiro2api-go/internal/monitoring"
	"kiro2api-go/internal/streaming"
	"kiro2api-go/internal/tokenizer"
	"kiro2api-go/internal/translator"
)

type createBatchRequest struct {
	Requests []batch.Item `json:"requests"`
}

// runBatchItem executes one batch entry as a non-streaming completion and
// returns the Anthropic message body.
func (h *Handler) runBatchItem(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	// Batch items never stream regardless of what the caller put in params.
	params, _ = sjson.SetBytes(params, "stream", false)
	var req models.AnthropicMessageRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.Model == "" {
		return nil, errors.New("model is required")
	}

	openaiReq := translator.AnthropicToOpenAI(&req)
	src, closeBody, err := h.executeCtx(ctx, openaiReq)
	if err != nil {
		return nil, err
	}
	defer closeBody()

	inputEstimate := tokenizer.CountAnthropicMessages(req.Messages) +
		tokenizer.CountAnthropicTools(req.Tools) +
		tokenizer.CountAnthropicSystem(req.System)
	collected, err := streaming.Collect(src, streaming.Options{
		Model:         req.Model,
		EstimateInput: func() int { return inputEstimate },
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(translator.OpenAIResponseToAnthropic(collected))
}

// CreateBatch registers the batch and starts processing in the background.
func (h *Handler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body: "+err.Error())
		return
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	host := c.Request.Host
	snap := h.batches.Create(req.Requests, func(id string) string {
		return scheme + "://" + host + "/v1/messages/batches/" + id + "/results"
	})
	monitoring.BatchesTotal.WithLabelValues("created").Inc()
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListBatches(c *gin.Context) {
	list := h.batches.List()
	out := gin.H{"data": list, "has_more": false}
	if len(list) > 0 {
		out["first_id"] = list[0].ID
		out["last_id"] = list[len(list)-1].ID
	} else {
		out["first_id"] = nil
		out["last_id"] = nil
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetBatch(c *gin.Context) {
	snap, ok := h.batches.Get(c.Param("id"))
	if !ok {
		batchNotFound(c)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) CancelBatch(c *gin.Context) {
	snap, ok := h.batches.Cancel(c.Param("id"))
	if !ok {
		batchNotFound(c)
		return
	}
	monitoring.BatchesTotal.WithLabelValues("canceled").Inc()
	c.JSON(http.StatusOK, snap)
}

// DeleteBatch removes a terminal batch; active batches conflict.
func (h *Handler) DeleteBatch(c *gin.Context) {
	id := c.Param("id")
	switch err := h.batches.Delete(id); {
	case errors.Is(err, batch.ErrNotFound):
		batchNotFound(c)
	case errors.Is(err, batch.ErrActive):
		middleware.WriteAPIError(c, apierrors.New(http.StatusConflict,
			"batch_in_progress", "invalid_request_error",
			"Batch is still processing; cancel it before deleting"))
	default:
		monitoring.BatchesTotal.WithLabelValues("deleted").Inc()
		c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
	}
}

// BatchResults streams results as NDJSON, polling until the batch reaches a
// terminal state.
func (h *Handler) BatchResults(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.batches.Get(id); !ok {
		batchNotFound(c)
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Writer)

	offset := 0
	for {
		results, done, ok := h.batches.ResultsAfter(id, offset)
		if !ok {
			return
		}
		for _, res := range results {
			if err := enc.Encode(res); err != nil {
				return
			}
			offset++
		}
		c.Writer.Flush()
		if done {
			return
		}
		select {
		case <-c.Request.Context().Done():
			return
		case <-time.After(constants.BatchResultsPollMS):
		}
	}
}

func batchNotFound(c *gin.Context) {
	middleware.WriteAPIError(c, apierrors.New(http.StatusNotFound,
		"batch_not_found", "invalid_request_error", "Batch not found"))
}
