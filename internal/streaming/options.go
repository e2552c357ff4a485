package streaming

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"kiro2api-go/internal/eventstream"
	"kiro2api-go/internal/models"
)

// Options parameterizes one encoding run.
type Options struct {
	Model string
	// EstimateInput supplies the tokenizer-based input count used when the
	// upstream never reports usage. May be nil.
	EstimateInput func() int
}

// Source yields normalized events; satisfied by eventstream.Demuxer.
type Source interface {
	Next() (eventstream.Event, error)
}

func newCompletionID() string {
	u := uuid.New()
	return "chatcmpl-" + hex.EncodeToString(u[:])
}

func newMessageID() string {
	u := uuid.New()
	return "msg_" + hex.EncodeToString(u[:])
}

func nowUnix() int64 { return time.Now().Unix() }

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// fallbackUsage builds the estimated usage object for streams that ended
// without a usage frame. Output side is a length-based estimate of the
// emitted text.
func fallbackUsage(opts Options, emittedText string) models.Usage {
	u := models.Usage{Estimated: true}
	if opts.EstimateInput != nil {
		u.PromptTokens = opts.EstimateInput()
	}
	if emittedText != "" {
		u.CompletionTokens = len(emittedText)/4 + 1
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func foldUsage(into *models.Usage, ev eventstream.Usage) {
	into.PromptTokens += ev.PromptTokens
	into.CompletionTokens += ev.CompletionTokens
	into.CacheWriteTokens += ev.CacheWriteTokens
	into.CacheHitTokens += ev.CacheHitTokens
	into.TotalTokens = into.PromptTokens + into.CompletionTokens
}
