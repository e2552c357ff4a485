package eventstream

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Upstream event types.
const (
	eventAssistantResponse = "assistantResponseEvent"
	eventToolUse           = "toolUseEvent"
	eventSupplementaryWeb  = "supplementaryWebLinksEvent"
	eventUsage             = "usageEvent"
	eventError             = "errorEvent"
)

// Demuxer turns decoded frames into normalized events. One frame can fan
// out into several events (a tool-use fragment may open, extend, and close
// a call at once), so Next drains an internal queue before decoding more.
type Demuxer struct {
	dec     *Decoder
	pending []Event

	startedTools map[string]bool
	toolSeen     bool
	stopped      bool
}

func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{dec: NewDecoder(r), startedTools: map[string]bool{}}
}

// Next returns the next normalized event. The final event of a healthy
// stream is KindStop; after it Next returns io.EOF.
func (d *Demuxer) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.stopped {
			return Event{}, io.EOF
		}

		frame, err := d.dec.Next()
		if err == io.EOF {
			d.stopped = true
			reason := "stop"
			if d.toolSeen {
				reason = "tool_calls"
			}
			return Event{Kind: KindStop, FinishReason: reason}, nil
		}
		if err != nil {
			d.stopped = true
			return Event{Kind: KindError, Err: err}, nil
		}
		d.dispatch(frame)
	}
}

func (d *Demuxer) dispatch(frame *Frame) {
	if frame.MessageType() == "exception" {
		d.pending = append(d.pending, Event{
			Kind: KindError,
			Err: fmt.Errorf("upstream exception %s: %s",
				frame.ExceptionType(), gjson.GetBytes(frame.Payload, "message").String()),
		})
		return
	}

	switch frame.EventType() {
	case eventAssistantResponse:
		if text := gjson.GetBytes(frame.Payload, "content").String(); text != "" {
			d.pending = append(d.pending, Event{Kind: KindTextDelta, Text: text})
		}

	case eventToolUse:
		d.toolSeen = true
		id := gjson.GetBytes(frame.Payload, "toolUseId").String()
		if !d.startedTools[id] {
			d.startedTools[id] = true
			d.pending = append(d.pending, Event{
				Kind:       KindToolCallStart,
				ToolCallID: id,
				ToolName:   gjson.GetBytes(frame.Payload, "name").String(),
			})
		}
		if input := gjson.GetBytes(frame.Payload, "input").String(); input != "" {
			d.pending = append(d.pending, Event{
				Kind:       KindToolCallDelta,
				ToolCallID: id,
				Arguments:  input,
			})
		}
		if gjson.GetBytes(frame.Payload, "stop").Bool() {
			d.pending = append(d.pending, Event{Kind: KindToolCallEnd, ToolCallID: id})
		}

	case eventUsage:
		d.pending = append(d.pending, Event{Kind: KindUsage, Usage: Usage{
			PromptTokens:     int(gjson.GetBytes(frame.Payload, "inputTokens").Int()),
			CompletionTokens: int(gjson.GetBytes(frame.Payload, "outputTokens").Int()),
			CacheWriteTokens: int(gjson.GetBytes(frame.Payload, "cacheWriteInputTokens").Int()),
			CacheHitTokens:   int(gjson.GetBytes(frame.Payload, "cacheReadInputTokens").Int()),
		}})

	case eventError:
		d.pending = append(d.pending, Event{
			Kind: KindError,
			Err:  fmt.Errorf("upstream error: %s", gjson.GetBytes(frame.Payload, "message").String()),
		})

	case eventSupplementaryWeb:
		// Web references are not part of either client dialect.
		log.Debug("eventstream: dropping supplementary web links event")

	default:
		log.WithField("event_type", frame.EventType()).Debug("eventstream: unknown event type")
	}
}
