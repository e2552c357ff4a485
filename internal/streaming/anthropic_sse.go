package streaming

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/eventstream"
	"kiro2api-go/internal/models"
	"kiro2api-go/internal/translator"
)

// Anthropic SSE frame payloads.

type anthropicMessageStart struct {
	Type    string            `json:"type"`
	Message anthropicMsgShell `json:"message"`
}

type anthropicMsgShell struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model"`
	Content      []any                 `json:"content"`
	StopReason   *string               `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        anthropicUsageCompact `json:"usage"`
}

type anthropicUsageCompact struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type anthropicBlockDelta struct {
	Type  string             `json:"type"`
	Index int                `json:"index"`
	Delta anthropicTextDelta `json:"delta"`
}

type anthropicTextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type anthropicMessageDelta struct {
	Type  string                 `json:"type"`
	Delta anthropicStopDelta     `json:"delta"`
	Usage anthropicUsageOutFirst `json:"usage"`
}

type anthropicStopDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type anthropicUsageOutFirst struct {
	OutputTokens int `json:"output_tokens"`
	InputTokens  int `json:"input_tokens"`
}

type anthropicErrorFrame struct {
	Type  string             `json:"type"`
	Error anthropicErrorBody `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// pendingTool buffers one tool call until its arguments are complete; the
// dialect publishes tool_use blocks whole, with parsed input.
type pendingTool struct {
	id   string
	name string
	args strings.Builder
}

// StreamAnthropic encodes the event source as Anthropic typed SSE.
//
// Frame order: message_start, content_block_start(text, 0), text deltas at
// index 0, then on the first finished tool call content_block_stop(0) and
// per tool call a content_block_start/content_block_stop pair, finally
// message_delta with stop reason and usage, and message_stop. A mid-stream
// upstream error emits an error frame and message_stop so the client is
// released. Returns the folded usage for billing.
func StreamAnthropic(w io.Writer, src Source, opts Options) (models.Usage, error) {
	out := newSSEWriter(w)
	messageID := newMessageID()

	if err := out.writeEvent("message_start", anthropicMessageStart{
		Type: "message_start",
		Message: anthropicMsgShell{
			ID:      messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   opts.Model,
			Content: []any{},
		},
	}); err != nil {
		return models.Usage{}, err
	}
	if err := out.writeEvent("content_block_start", anthropicBlockStart{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: anthropicTextBlock{Type: "text"},
	}); err != nil {
		return models.Usage{}, err
	}

	textBlockOpen := true
	nextIndex := 0
	var emitted strings.Builder

	pending := map[string]*pendingTool{}
	var pendingOrder []string
	toolsEmitted := false

	var usage models.Usage
	usageSeen := false
	finishReason := "stop"

	closeTextBlock := func() error {
		if !textBlockOpen {
			return nil
		}
		textBlockOpen = false
		return out.writeEvent("content_block_stop", anthropicBlockStop{Type: "content_block_stop", Index: 0})
	}

	emitTool := func(pt *pendingTool) error {
		if err := closeTextBlock(); err != nil {
			return err
		}
		toolsEmitted = true
		nextIndex++
		args := pt.args.String()
		if args == "" {
			args = "{}"
		}
		block := anthropicToolUseBlock{
			Type:  "tool_use",
			ID:    pt.id,
			Name:  pt.name,
			Input: translator.SafeJSONLoads(args),
		}
		if err := out.writeEvent("content_block_start", anthropicBlockStart{
			Type:         "content_block_start",
			Index:        nextIndex,
			ContentBlock: block,
		}); err != nil {
			return err
		}
		return out.writeEvent("content_block_stop", anthropicBlockStop{Type: "content_block_stop", Index: nextIndex})
	}

	for {
		ev, err := src.Next()
		if err != nil {
			break
		}
		switch ev.Kind {
		case eventstream.KindTextDelta:
			emitted.WriteString(ev.Text)
			if err := out.writeEvent("content_block_delta", anthropicBlockDelta{
				Type:  "content_block_delta",
				Index: 0,
				Delta: anthropicTextDelta{Type: "text_delta", Text: ev.Text},
			}); err != nil {
				return usage, err
			}

		case eventstream.KindToolCallStart:
			if _, ok := pending[ev.ToolCallID]; !ok {
				pending[ev.ToolCallID] = &pendingTool{id: ev.ToolCallID, name: ev.ToolName}
				pendingOrder = append(pendingOrder, ev.ToolCallID)
			}

		case eventstream.KindToolCallDelta:
			if pt, ok := pending[ev.ToolCallID]; ok {
				pt.args.WriteString(ev.Arguments)
			}

		case eventstream.KindToolCallEnd:
			if pt, ok := pending[ev.ToolCallID]; ok {
				if err := emitTool(pt); err != nil {
					return usage, err
				}
				delete(pending, ev.ToolCallID)
				pendingOrder = removeID(pendingOrder, ev.ToolCallID)
			}

		case eventstream.KindUsage:
			usageSeen = true
			foldUsage(&usage, ev.Usage)

		case eventstream.KindStop:
			finishReason = ev.FinishReason

		case eventstream.KindError:
			log.WithError(ev.Err).Error("upstream stream error; terminating SSE")
			_ = out.writeEvent("error", anthropicErrorFrame{
				Type:  "error",
				Error: anthropicErrorBody{Type: "internal_error", Message: ev.Err.Error()},
			})
			_ = out.writeEvent("message_stop", map[string]string{"type": "message_stop"})
			return usage, ev.Err
		}
	}

	// Tool calls the upstream never closed still publish whole.
	for _, id := range pendingOrder {
		if err := emitTool(pending[id]); err != nil {
			return usage, err
		}
	}
	if err := closeTextBlock(); err != nil {
		return usage, err
	}

	if !usageSeen {
		usage = fallbackUsage(opts, emitted.String())
	}
	stopReason := translator.StopReason(finishReason, toolsEmitted)
	if err := out.writeEvent("message_delta", anthropicMessageDelta{
		Type:  "message_delta",
		Delta: anthropicStopDelta{StopReason: stopReason},
		Usage: anthropicUsageOutFirst{OutputTokens: usage.CompletionTokens, InputTokens: usage.PromptTokens},
	}); err != nil {
		return usage, err
	}
	return usage, out.writeEvent("message_stop", map[string]string{"type": "message_stop"})
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
