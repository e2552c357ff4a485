package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"kiro2api-go/internal/eventstream"
)

type scriptSource struct {
	events []eventstream.Event
	i      int
}

func (s *scriptSource) Next() (eventstream.Event, error) {
	if s.i >= len(s.events) {
		return eventstream.Event{}, io.EOF
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, raw string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			default:
				t.Fatalf("unexpected SSE line %q", line)
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func TestStreamOpenAIChunkSequence(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: "Hel"},
		{Kind: eventstream.KindTextDelta, Text: "lo"},
		{Kind: eventstream.KindUsage, Usage: eventstream.Usage{PromptTokens: 12, CompletionTokens: 2}},
		{Kind: eventstream.KindStop, FinishReason: "stop"},
	}}
	var buf bytes.Buffer
	usage, err := StreamOpenAI(&buf, src, Options{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("StreamOpenAI: %v", err)
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 2 || usage.TotalTokens != 14 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	frames := parseSSE(t, buf.String())
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	if got := gjson.Get(frames[0].data, "choices.0.delta.role").String(); got != "assistant" {
		t.Fatalf("first chunk role = %q", got)
	}
	if got := gjson.Get(frames[1].data, "choices.0.delta.content").String(); got != "Hel" {
		t.Fatalf("delta 1 = %q", got)
	}
	if got := gjson.Get(frames[2].data, "choices.0.delta.content").String(); got != "lo" {
		t.Fatalf("delta 2 = %q", got)
	}
	final := frames[3].data
	if got := gjson.Get(final, "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish_reason = %q", got)
	}
	if got := gjson.Get(final, "usage.total_tokens").Int(); got != 14 {
		t.Fatalf("final usage total = %d", got)
	}
	if gjson.Get(final, "object").String() != "chat.completion.chunk" {
		t.Fatalf("object = %q", gjson.Get(final, "object").String())
	}
	if frames[4].data != "[DONE]" {
		t.Fatalf("terminator = %q", frames[4].data)
	}
}

func TestStreamOpenAIToolCallChunks(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindToolCallStart, ToolCallID: "tu_1", ToolName: "get_weather"},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_1", Arguments: `{"city":`},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_1", Arguments: `"Oslo"}`},
		{Kind: eventstream.KindToolCallEnd, ToolCallID: "tu_1"},
		{Kind: eventstream.KindStop, FinishReason: "tool_calls"},
	}}
	var buf bytes.Buffer
	if _, err := StreamOpenAI(&buf, src, Options{Model: "claude-sonnet-4-5"}); err != nil {
		t.Fatalf("StreamOpenAI: %v", err)
	}
	frames := parseSSE(t, buf.String())

	start := frames[1].data
	if gjson.Get(start, "choices.0.delta.tool_calls.0.id").String() != "tu_1" {
		t.Fatalf("tool start frame: %s", start)
	}
	if gjson.Get(start, "choices.0.delta.tool_calls.0.function.name").String() != "get_weather" {
		t.Fatalf("tool start name: %s", start)
	}
	args := gjson.Get(frames[2].data, "choices.0.delta.tool_calls.0.function.arguments").String() +
		gjson.Get(frames[3].data, "choices.0.delta.tool_calls.0.function.arguments").String()
	if args != `{"city":"Oslo"}` {
		t.Fatalf("accumulated arguments = %q", args)
	}
	final := frames[len(frames)-2].data
	if gjson.Get(final, "choices.0.finish_reason").String() != "tool_calls" {
		t.Fatalf("finish_reason = %q", gjson.Get(final, "choices.0.finish_reason").String())
	}
}

func TestStreamOpenAIErrorTerminatesWithDone(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: "partial"},
		{Kind: eventstream.KindError, Err: errors.New("upstream exploded")},
	}}
	var buf bytes.Buffer
	_, err := StreamOpenAI(&buf, src, Options{Model: "claude-sonnet-4-5"})
	if err == nil || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("expected upstream error, got %v", err)
	}
	frames := parseSSE(t, buf.String())
	if frames[len(frames)-1].data != "[DONE]" {
		t.Fatalf("stream must end with [DONE], got %q", frames[len(frames)-1].data)
	}
}

func TestStreamAnthropicEventOrder(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: "Checking "},
		{Kind: eventstream.KindTextDelta, Text: "now."},
		{Kind: eventstream.KindToolCallStart, ToolCallID: "tu_1", ToolName: "get_weather"},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_1", Arguments: `{"city":"Oslo"}`},
		{Kind: eventstream.KindToolCallEnd, ToolCallID: "tu_1"},
		{Kind: eventstream.KindUsage, Usage: eventstream.Usage{PromptTokens: 30, CompletionTokens: 9}},
		{Kind: eventstream.KindStop, FinishReason: "tool_calls"},
	}}
	var buf bytes.Buffer
	usage, err := StreamAnthropic(&buf, src, Options{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("StreamAnthropic: %v", err)
	}
	if usage.PromptTokens != 30 || usage.CompletionTokens != 9 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	frames := parseSSE(t, buf.String())
	wantOrder := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(frames) != len(wantOrder) {
		t.Fatalf("expected %d frames, got %d", len(wantOrder), len(frames))
	}
	for i, want := range wantOrder {
		if frames[i].event != want {
			t.Fatalf("frame %d = %q, want %q", i, frames[i].event, want)
		}
	}

	start := frames[0].data
	if !strings.HasPrefix(gjson.Get(start, "message.id").String(), "msg_") {
		t.Fatalf("message id = %q", gjson.Get(start, "message.id").String())
	}
	if gjson.Get(start, "message.role").String() != "assistant" {
		t.Fatalf("message role = %q", gjson.Get(start, "message.role").String())
	}
	if gjson.Get(start, "message.stop_reason").Type != gjson.Null {
		t.Fatalf("message_start stop_reason must be null")
	}

	if gjson.Get(frames[1].data, "content_block.type").String() != "text" {
		t.Fatalf("first block must be text")
	}
	if gjson.Get(frames[2].data, "delta.text").String() != "Checking " {
		t.Fatalf("delta text = %q", gjson.Get(frames[2].data, "delta.text").String())
	}

	toolStart := frames[5].data
	if gjson.Get(toolStart, "index").Int() != 1 {
		t.Fatalf("tool block index = %d", gjson.Get(toolStart, "index").Int())
	}
	if gjson.Get(toolStart, "content_block.type").String() != "tool_use" {
		t.Fatalf("tool block type = %q", gjson.Get(toolStart, "content_block.type").String())
	}
	if gjson.Get(toolStart, "content_block.input.city").String() != "Oslo" {
		t.Fatalf("tool input not parsed: %s", toolStart)
	}

	md := frames[7].data
	if gjson.Get(md, "delta.stop_reason").String() != "tool_use" {
		t.Fatalf("stop_reason = %q", gjson.Get(md, "delta.stop_reason").String())
	}
	if gjson.Get(md, "delta.stop_sequence").Type != gjson.Null {
		t.Fatalf("stop_sequence must be null")
	}
	if gjson.Get(md, "usage.output_tokens").Int() != 9 || gjson.Get(md, "usage.input_tokens").Int() != 30 {
		t.Fatalf("message_delta usage: %s", md)
	}
}

func TestStreamAnthropicErrorEmitsStopFrame(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: "partial"},
		{Kind: eventstream.KindError, Err: errors.New("connection reset")},
	}}
	var buf bytes.Buffer
	_, err := StreamAnthropic(&buf, src, Options{Model: "claude-sonnet-4-5"})
	if err == nil {
		t.Fatalf("expected error surfaced")
	}
	frames := parseSSE(t, buf.String())
	errFrame := frames[len(frames)-2]
	if errFrame.event != "error" {
		t.Fatalf("penultimate frame = %q, want error", errFrame.event)
	}
	if gjson.Get(errFrame.data, "error.type").String() != "internal_error" {
		t.Fatalf("error frame: %s", errFrame.data)
	}
	if frames[len(frames)-1].event != "message_stop" {
		t.Fatalf("stream must close with message_stop")
	}
}

func TestStreamAnthropicUnclosedToolFlushesAtEnd(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindToolCallStart, ToolCallID: "tu_9", ToolName: "search"},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_9", Arguments: `{"q":"go"}`},
		{Kind: eventstream.KindStop, FinishReason: "tool_calls"},
	}}
	var buf bytes.Buffer
	if _, err := StreamAnthropic(&buf, src, Options{Model: "claude-sonnet-4-5"}); err != nil {
		t.Fatalf("StreamAnthropic: %v", err)
	}
	raw := buf.String()
	if !strings.Contains(raw, `"name":"search"`) {
		t.Fatalf("unclosed tool call must still be published: %s", raw)
	}
	if !strings.Contains(raw, `"stop_reason":"tool_use"`) {
		t.Fatalf("stop reason must reflect tool use: %s", raw)
	}
}

func TestCollectFoldsToolsAndUsage(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: "Let me check."},
		{Kind: eventstream.KindToolCallStart, ToolCallID: "tu_1", ToolName: "get_weather"},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_1", Arguments: `{"city":`},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_1", Arguments: `"Oslo"}`},
		{Kind: eventstream.KindToolCallEnd, ToolCallID: "tu_1"},
		{Kind: eventstream.KindUsage, Usage: eventstream.Usage{PromptTokens: 50, CompletionTokens: 11, CacheHitTokens: 5}},
		{Kind: eventstream.KindStop, FinishReason: "stop"},
	}}
	resp, err := Collect(src, Options{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" {
		t.Fatalf("finish_reason = %q", choice.FinishReason)
	}
	var content string
	if err := json.Unmarshal(choice.Message.Content, &content); err != nil || content != "Let me check." {
		t.Fatalf("content = %q (%v)", content, err)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(choice.Message.ToolCalls))
	}
	tc := choice.Message.ToolCalls[0]
	if tc.ID != "tu_1" || tc.Function.Name != "get_weather" || tc.Function.Arguments != `{"city":"Oslo"}` {
		t.Fatalf("tool call %+v", tc)
	}
	if resp.Usage.PromptTokens != 50 || resp.Usage.CacheHitTokens != 5 || resp.Usage.TotalTokens != 61 {
		t.Fatalf("usage %+v", resp.Usage)
	}
	if resp.Usage.Estimated {
		t.Fatalf("usage reported by upstream must not be flagged estimated")
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("id = %q", resp.ID)
	}
}

func TestCollectStripsToolNarration(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: "Sure. [Called get_weather with args {\"city\":\"Oslo\"}]"},
		{Kind: eventstream.KindToolCallStart, ToolCallID: "tu_1", ToolName: "get_weather"},
		{Kind: eventstream.KindToolCallDelta, ToolCallID: "tu_1", Arguments: `{"city":"Oslo"}`},
		{Kind: eventstream.KindToolCallEnd, ToolCallID: "tu_1"},
		{Kind: eventstream.KindStop, FinishReason: "stop"},
	}}
	resp, err := Collect(src, Options{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var content string
	if err := json.Unmarshal(resp.Choices[0].Message.Content, &content); err != nil || content != "Sure." {
		t.Fatalf("content = %q (%v)", content, err)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Choices[0].Message.ToolCalls)
	}
}

func TestCollectEstimatedFallback(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindTextDelta, Text: strings.Repeat("word ", 20)},
		{Kind: eventstream.KindStop, FinishReason: "stop"},
	}}
	resp, err := Collect(src, Options{
		Model:         "claude-sonnet-4-5",
		EstimateInput: func() int { return 42 },
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !resp.Usage.Estimated {
		t.Fatalf("fallback usage must be flagged estimated")
	}
	if resp.Usage.PromptTokens != 42 {
		t.Fatalf("prompt tokens = %d", resp.Usage.PromptTokens)
	}
	if resp.Usage.CompletionTokens == 0 {
		t.Fatalf("completion estimate must be positive for non-empty text")
	}
}

func TestCollectSurfacesStreamError(t *testing.T) {
	src := &scriptSource{events: []eventstream.Event{
		{Kind: eventstream.KindError, Err: errors.New("bad frame")},
	}}
	if _, err := Collect(src, Options{Model: "claude-sonnet-4-5"}); err == nil {
		t.Fatalf("expected error")
	}
}
