// Package billing computes request charges in exact decimal arithmetic and
// settles them against a credit ledger.
package billing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/config"
)

// Unknown-model policies.
const (
	PolicyReject  = "reject"
	PolicyFree    = "free"
	PolicyDefault = "default"
)

// ErrUnknownModel reports a pricing lookup miss under the reject policy.
var ErrUnknownModel = errors.New("model pricing not configured")

// Pricing is one resolved pricing row. Unit prices are per million tokens.
type Pricing struct {
	ModelID    string
	Input      decimal.Decimal
	Output     decimal.Decimal
	CacheWrite decimal.Decimal
	CacheHit   decimal.Decimal
	Multiplier decimal.Decimal
}

var freePricing = Pricing{Multiplier: decimal.NewFromInt(1)}

// NormalizeModelID lowercases the id and strips a trailing date suffix, so
// "claude-sonnet-4-5-20250929" and "Claude-Sonnet-4-5" share a pricing row.
func NormalizeModelID(id string) string {
	key := strings.ToLower(strings.TrimSpace(id))
	if i := strings.LastIndexByte(key, '-'); i > 0 && len(key)-i-1 == 8 {
		if allDigits(key[i+1:]) {
			return key[:i]
		}
	}
	return key
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Table indexes pricing rows by raw and normalized model id.
type Table struct {
	byKey  map[string]Pricing
	def    Pricing
	policy string
}

// NewTable builds the pricing index from configuration. Rows without an id
// are skipped; unparsable prices fall back to zero with a warning.
func NewTable(cfg config.BillingConfig) *Table {
	t := &Table{
		byKey:  make(map[string]Pricing, len(cfg.Models)*2),
		def:    rowFromConfig(cfg.Default),
		policy: cfg.UnknownModelPolicy,
	}
	for _, row := range cfg.Models {
		id := strings.TrimSpace(row.ID)
		if id == "" {
			continue
		}
		p := rowFromConfig(row)
		t.byKey[strings.ToLower(id)] = p
		t.byKey[NormalizeModelID(id)] = p
	}
	return t
}

func rowFromConfig(row config.ModelPricing) Pricing {
	mult := decimal.NewFromFloat(row.Multiplier)
	if row.Multiplier == 0 {
		mult = decimal.NewFromInt(1)
	}
	return Pricing{
		ModelID:    row.ID,
		Input:      parsePrice(row.InputPricePerMTok, row.ID, "input"),
		Output:     parsePrice(row.OutputPricePerMTok, row.ID, "output"),
		CacheWrite: parsePrice(row.CacheWritePricePerMTok, row.ID, "cache_write"),
		CacheHit:   parsePrice(row.CacheHitPricePerMTok, row.ID, "cache_hit"),
		Multiplier: mult,
	}
}

func parsePrice(raw, modelID, field string) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		log.WithFields(log.Fields{"model": modelID, "field": field, "value": raw}).
			Warn("unparsable price, treating as zero")
		return decimal.Zero
	}
	return d
}

// Resolve returns the pricing row for a model id, trying the raw key first
// and the normalized key second, then applying the unknown-model policy.
func (t *Table) Resolve(modelID string) (Pricing, error) {
	if p, ok := t.byKey[strings.ToLower(modelID)]; ok {
		return p, nil
	}
	if p, ok := t.byKey[NormalizeModelID(modelID)]; ok {
		return p, nil
	}
	switch t.policy {
	case PolicyFree:
		return freePricing, nil
	case PolicyReject:
		return Pricing{}, ErrUnknownModel
	default:
		return t.def, nil
	}
}
