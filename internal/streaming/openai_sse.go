package streaming

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/eventstream"
	"kiro2api-go/internal/models"
)

// StreamOpenAI encodes the event source as OpenAI chat-completion chunks.
// The stream always terminates with "data: [DONE]", including after a
// mid-stream upstream error, so clients never hang. Returns the folded
// usage for billing.
func StreamOpenAI(w io.Writer, src Source, opts Options) (models.Usage, error) {
	out := newSSEWriter(w)
	id := newCompletionID()
	created := nowUnix()

	chunk := func(choice models.ChunkChoice, usage *models.Usage) *models.ChatCompletionChunk {
		return &models.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   opts.Model,
			Choices: []models.ChunkChoice{choice},
			Usage:   usage,
		}
	}

	// Role announcement first, matching upstream OpenAI behaviour.
	if err := out.writeData(chunk(models.ChunkChoice{Delta: models.ChunkDelta{Role: "assistant"}}, nil)); err != nil {
		return models.Usage{}, err
	}

	var emitted strings.Builder
	toolIndex := map[string]int{}
	var usage models.Usage
	usageSeen := false
	finishReason := "stop"

	for {
		ev, err := src.Next()
		if err != nil {
			break
		}
		switch ev.Kind {
		case eventstream.KindTextDelta:
			emitted.WriteString(ev.Text)
			if err := out.writeData(chunk(models.ChunkChoice{Delta: models.ChunkDelta{Content: ev.Text}}, nil)); err != nil {
				return usage, err
			}

		case eventstream.KindToolCallStart:
			idx, ok := toolIndex[ev.ToolCallID]
			if !ok {
				idx = len(toolIndex)
				toolIndex[ev.ToolCallID] = idx
			}
			delta := models.ChunkDelta{ToolCalls: []models.ChunkToolCall{{
				Index:    idx,
				ID:       ev.ToolCallID,
				Type:     "function",
				Function: &models.ChunkFunction{Name: ev.ToolName},
			}}}
			if err := out.writeData(chunk(models.ChunkChoice{Delta: delta}, nil)); err != nil {
				return usage, err
			}

		case eventstream.KindToolCallDelta:
			idx := toolIndex[ev.ToolCallID]
			delta := models.ChunkDelta{ToolCalls: []models.ChunkToolCall{{
				Index:    idx,
				Function: &models.ChunkFunction{Arguments: ev.Arguments},
			}}}
			if err := out.writeData(chunk(models.ChunkChoice{Delta: delta}, nil)); err != nil {
				return usage, err
			}

		case eventstream.KindUsage:
			usageSeen = true
			foldUsage(&usage, ev.Usage)

		case eventstream.KindStop:
			finishReason = ev.FinishReason

		case eventstream.KindError:
			// Mid-stream failure: nothing to retry, terminate cleanly.
			log.WithError(ev.Err).Error("upstream stream error; terminating SSE")
			_ = out.writeDone()
			return usage, ev.Err
		}
	}

	if !usageSeen {
		usage = fallbackUsage(opts, emitted.String())
	}
	final := chunk(models.ChunkChoice{Delta: models.ChunkDelta{}, FinishReason: &finishReason}, &usage)
	if err := out.writeData(final); err != nil {
		return usage, err
	}
	return usage, out.writeDone()
}
