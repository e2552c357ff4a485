package streaming

import (
	"regexp"
	"strings"

	"kiro2api-go/internal/eventstream"
	"kiro2api-go/internal/models"
)

// Upstream sometimes narrates a tool invocation into the assistant text in
// addition to emitting the structured tool event.
var toolNarrationRe = regexp.MustCompile(`\[Called \S+ with args\b[^\]]*\]`)

// Collect drains the event source into a single chat completion response.
// Tool calls are indexed by id; per-frame usage counters fold into one
// usage object; a stream that ends without usage gets an estimated one.
func Collect(src Source, opts Options) (*models.ChatCompletionResponse, error) {
	var text strings.Builder
	var toolOrder []string
	toolCalls := map[string]*models.ToolCall{}

	finishReason := "stop"
	var usage models.Usage
	usageSeen := false

	for {
		ev, err := src.Next()
		if err != nil {
			break
		}
		switch ev.Kind {
		case eventstream.KindTextDelta:
			text.WriteString(ev.Text)
		case eventstream.KindToolCallStart:
			if _, ok := toolCalls[ev.ToolCallID]; !ok {
				toolOrder = append(toolOrder, ev.ToolCallID)
				toolCalls[ev.ToolCallID] = &models.ToolCall{
					ID:       ev.ToolCallID,
					Type:     "function",
					Function: models.FunctionCall{Name: ev.ToolName},
				}
			}
		case eventstream.KindToolCallDelta:
			if tc, ok := toolCalls[ev.ToolCallID]; ok {
				tc.Function.Arguments += ev.Arguments
			}
		case eventstream.KindUsage:
			usageSeen = true
			foldUsage(&usage, ev.Usage)
		case eventstream.KindStop:
			finishReason = ev.FinishReason
		case eventstream.KindError:
			return nil, ev.Err
		}
	}

	if !usageSeen {
		usage = fallbackUsage(opts, text.String())
	}

	content := text.String()
	if len(toolOrder) > 0 {
		content = strings.TrimSpace(toolNarrationRe.ReplaceAllString(content, ""))
	}

	message := models.ChatMessage{Role: "assistant"}
	if content != "" {
		message.Content = mustJSON(content)
	}
	for _, id := range toolOrder {
		tc := toolCalls[id]
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		message.ToolCalls = append(message.ToolCalls, *tc)
	}
	if len(message.ToolCalls) > 0 {
		finishReason = "tool_calls"
	}

	return &models.ChatCompletionResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: nowUnix(),
		Model:   opts.Model,
		Choices: []models.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: usage,
	}, nil
}
