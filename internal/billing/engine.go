package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/config"
	apierrors "kiro2api-go/internal/errors"
	"kiro2api-go/internal/models"
)

var perMillion = decimal.NewFromInt(1_000_000)

// Engine charges usage against the pricing table and settles against the
// ledger. All arithmetic stays in decimal; floats never enter the charge
// path.
type Engine struct {
	cfg    config.BillingConfig
	table  *Table
	ledger Ledger
}

func NewEngine(cfg config.BillingConfig, ledger Ledger) *Engine {
	return &Engine{cfg: cfg, table: NewTable(cfg), ledger: ledger}
}

func (e *Engine) Enabled() bool { return e.cfg.Enabled }

// Charge computes the quantized cost of one request:
//
//	subtotal = (prompt*in + completion*out + cacheWrite*cw + cacheHit*ch) / 1e6
//	charged  = max(subtotal * multiplier, 0) quantized half-up
//
// Estimated usage bills its output side only when charge_estimated is on.
func (e *Engine) Charge(modelID string, usage models.Usage) (decimal.Decimal, error) {
	if !e.cfg.Enabled {
		return decimal.Zero, nil
	}
	pricing, err := e.table.Resolve(modelID)
	if err != nil {
		return decimal.Zero, unknownModelError(modelID, err)
	}

	completion := usage.CompletionTokens
	if usage.Estimated && !e.cfg.ChargeEstimated {
		completion = 0
	}

	subtotal := tokens(usage.PromptTokens).Mul(pricing.Input).
		Add(tokens(completion).Mul(pricing.Output)).
		Add(tokens(usage.CacheWriteTokens).Mul(pricing.CacheWrite)).
		Add(tokens(usage.CacheHitTokens).Mul(pricing.CacheHit)).
		Div(perMillion)

	charged := subtotal.Mul(pricing.Multiplier)
	if charged.IsNegative() {
		charged = decimal.Zero
	}
	return e.quantize(charged), nil
}

// PreflightCharge estimates the request-side cost before contacting the
// upstream. Only input tokens are known at this point.
func (e *Engine) PreflightCharge(modelID string, promptTokens, toolTokens int) (decimal.Decimal, error) {
	n := promptTokens + toolTokens
	if n < 0 {
		n = 0
	}
	return e.Charge(modelID, models.Usage{PromptTokens: n})
}

// Preflight rejects the request up front when enforcement is on and the
// user's balance cannot cover the estimate.
func (e *Engine) Preflight(ctx context.Context, userID any, required decimal.Decimal) error {
	if !e.cfg.Enabled || !e.cfg.EnforceSufficientCredits {
		return nil
	}
	if !required.IsPositive() {
		return nil
	}
	balance, err := e.ledger.Balance(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoBalance) {
			return insufficientCreditsError(required)
		}
		return apierrors.New(http.StatusInternalServerError, "billing_unavailable", "api_error",
			fmt.Sprintf("Credit balance lookup failed: %v", err))
	}
	if balance.LessThan(required) {
		return insufficientCreditsError(required)
	}
	return nil
}

// Deduct computes the final charge and decrements the ledger under the
// sufficient-balance predicate. A zero charge skips the ledger entirely.
func (e *Engine) Deduct(ctx context.Context, userID any, modelID string, usage models.Usage) (decimal.Decimal, error) {
	charge, err := e.Charge(modelID, usage)
	if err != nil {
		return decimal.Zero, err
	}
	if !charge.IsPositive() {
		return decimal.Zero, nil
	}
	ok, err := e.ledger.DeductAtomic(ctx, userID, charge)
	if err != nil {
		return decimal.Zero, apierrors.New(http.StatusInternalServerError, "billing_unavailable", "api_error",
			fmt.Sprintf("Credit deduction failed: %v", err))
	}
	if !ok {
		return decimal.Zero, insufficientCreditsError(charge)
	}
	log.WithFields(log.Fields{"model": modelID, "charge": charge.String()}).Info("credits deducted")
	return charge, nil
}

func (e *Engine) quantize(v decimal.Decimal) decimal.Decimal {
	places := e.cfg.DecimalPlaces
	if places < 0 {
		places = 0
	}
	return v.Round(int32(places))
}

func tokens(n int) decimal.Decimal {
	if n < 0 {
		n = 0
	}
	return decimal.NewFromInt(int64(n))
}

func insufficientCreditsError(required decimal.Decimal) *apierrors.APIError {
	return apierrors.New(http.StatusPaymentRequired, "insufficient_credits", "billing_error",
		fmt.Sprintf("Insufficient credits: requires at least %s credits", required.String()))
}

func unknownModelError(modelID string, err error) error {
	if errors.Is(err, ErrUnknownModel) {
		return apierrors.New(http.StatusBadRequest, "unknown_model_pricing", "invalid_request_error",
			fmt.Sprintf("Model %q has no configured pricing", modelID))
	}
	return err
}
