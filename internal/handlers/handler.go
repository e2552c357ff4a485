// Package handlers implements the client-facing HTTP endpoints: OpenAI chat
// completions, Anthropic messages and batches, model listings, and health.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/batch"
	"kiro2api-go/internal/billing"
	"kiro2api-go/internal/config"
	"kiro2api-go/internal/credential"
	apierrors "kiro2api-go/internal/errors"
	"kiro2api-go/internal/middleware"
	"kiro2api-go/internal/models"
	"kiro2api-go/internal/monitoring"
	"kiro2api-go/internal/upstream/kiro"
)

// Handler carries the services every endpoint needs.
type Handler struct {
	cfg     *config.Config
	client  *kiro.Client
	auth    *auth.Manager
	cache   *kiro.ModelCache
	billing *billing.Engine
	batches *batch.Registry
}

func New(cfg *config.Config, client *kiro.Client, mgr *auth.Manager, cache *kiro.ModelCache, engine *billing.Engine) *Handler {
	h := &Handler{
		cfg:     cfg,
		client:  client,
		auth:    mgr,
		cache:   cache,
		billing: engine,
	}
	h.batches = batch.NewRegistry(h.runBatchItem)
	return h
}

// Batches exposes the registry for shutdown-time inspection.
func (h *Handler) Batches() *batch.Registry { return h.batches }

// abortWithError renders err in the client's dialect. Non-APIError values
// become an opaque 500.
func abortWithError(c *gin.Context, err error) {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierrors.New(http.StatusInternalServerError, "internal_error", "api_error", err.Error())
	}
	middleware.WriteAPIError(c, apiErr)
}

func invalidRequest(c *gin.Context, message string) {
	middleware.WriteAPIError(c, apierrors.New(http.StatusBadRequest,
		"invalid_request_error", "invalid_request_error", message))
}

// invalidPayloadError wraps translation failures as client errors; they are
// always caused by the request shape, never the upstream.
func invalidPayloadError(err error) *apierrors.APIError {
	return apierrors.New(http.StatusBadRequest,
		"invalid_request_error", "invalid_request_error", err.Error())
}

// profileArn is sent only for desktop-mechanism tokens; device-oauth
// accounts get 403 from the upstream when it is present.
func profileArnFor(token *auth.TokenInfo) string {
	if token.Mechanism == credential.MechanismDesktop {
		return token.ProfileArn
	}
	return ""
}

// preflight estimates the request cost and verifies the caller's balance.
func (h *Handler) preflight(c *gin.Context, modelID string, inputTokens int) error {
	if h.billing == nil || !h.billing.Enabled() {
		return nil
	}
	userID, ok := c.Get("user_id")
	if !ok {
		return nil
	}
	required, err := h.billing.PreflightCharge(modelID, inputTokens, 0)
	if err != nil {
		monitoring.BillingRejectionsTotal.WithLabelValues("pricing").Inc()
		return err
	}
	if err := h.billing.Preflight(c.Request.Context(), userID, required); err != nil {
		monitoring.BillingRejectionsTotal.WithLabelValues("preflight").Inc()
		return err
	}
	return nil
}

// settle deducts the final charge after a completed request. The returned
// error is nil when billing is off or no user identity is attached.
func (h *Handler) settle(ctx context.Context, c *gin.Context, modelID string, usage models.Usage) error {
	monitoring.ObserveUsage(usage.PromptTokens, usage.CompletionTokens, usage.CacheWriteTokens, usage.CacheHitTokens)
	if h.billing == nil || !h.billing.Enabled() {
		return nil
	}
	userID, ok := c.Get("user_id")
	if !ok {
		return nil
	}
	charge, err := h.billing.Deduct(ctx, userID, modelID, usage)
	if err != nil {
		monitoring.BillingRejectionsTotal.WithLabelValues("deduct").Inc()
		return err
	}
	if f, _ := charge.Float64(); f > 0 {
		monitoring.CreditsDeductedTotal.Add(f)
	}
	return nil
}

// settleStreaming runs settle after the response already went out; failures
// can only be logged at that point.
func (h *Handler) settleStreaming(c *gin.Context, modelID string, usage models.Usage) {
	if err := h.settle(context.WithoutCancel(c.Request.Context()), c, modelID, usage); err != nil {
		log.WithError(err).WithField("model", modelID).Warn("post-stream deduction failed")
	}
}

func setSSEHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}
