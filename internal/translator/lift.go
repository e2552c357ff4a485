package translator

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"kiro2api-go/internal/models"
)

// AnthropicToOpenAI lifts a Messages API request into the OpenAI chat form.
//
// Lifting rules:
//   - system (string or block list) becomes a prepended system message with
//     the concatenated text of its non-tool blocks.
//   - user messages carrying tool_result blocks split: text blocks stay a
//     user message, each tool_result becomes its own "tool" message whose
//     tool_call_id is the block's tool_use_id.
//   - assistant block lists pass through structurally so the payload
//     builder can see tool_use blocks.
//   - tool_choice "any" maps to "required"; {type:"tool",name} maps to the
//     function form.
func AnthropicToOpenAI(req *models.AnthropicMessageRequest) *models.ChatCompletionRequest {
	var messages []models.ChatMessage

	if systemText := ContentToText(req.System); systemText != "" {
		messages = append(messages, textMessage("system", systemText))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, liftUserMessage(msg.Content)...)
		case "system":
			if text := ContentToText(msg.Content); text != "" {
				messages = append(messages, textMessage("system", text))
			}
		default:
			// Assistant (and anything unknown) passes through structurally.
			messages = append(messages, models.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	return &models.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       liftTools(req.Tools),
		ToolChoice:  liftToolChoice(req.ToolChoice),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        marshalStop(req.StopSequences),
	}
}

func textMessage(role, text string) models.ChatMessage {
	raw, _ := json.Marshal(text)
	return models.ChatMessage{Role: role, Content: raw}
}

// liftUserMessage splits a user message into at most one user message plus
// one tool message per tool_result block, in block order.
func liftUserMessage(content json.RawMessage) []models.ChatMessage {
	parsed := gjson.ParseBytes(content)
	if !parsed.IsArray() {
		if text := ContentToText(content); text != "" {
			return []models.ChatMessage{textMessage("user", text)}
		}
		return nil
	}

	type textPart struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	var textParts []textPart
	var toolMessages []models.ChatMessage

	parsed.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_result" {
			toolMessages = append(toolMessages, models.ChatMessage{
				Role:       "tool",
				Content:    mustMarshal(resultToText(block.Get("content"))),
				ToolCallID: block.Get("tool_use_id").String(),
			})
			return true
		}
		if block.Get("type").String() == "text" {
			textParts = append(textParts, textPart{Type: "text", Text: block.Get("text").String()})
			return true
		}
		// Non-text block (e.g. image): keep a text placeholder.
		textParts = append(textParts, textPart{Type: "text", Text: resultToText(block)})
		return true
	})

	var out []models.ChatMessage
	if len(textParts) > 0 {
		out = append(out, models.ChatMessage{Role: "user", Content: mustMarshal(textParts)})
	}
	return append(out, toolMessages...)
}

func liftTools(tools []models.AnthropicTool) []models.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]models.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, models.Tool{
			Type: "function",
			Function: models.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func liftToolChoice(choice json.RawMessage) json.RawMessage {
	if len(choice) == 0 {
		return nil
	}
	parsed := gjson.ParseBytes(choice)
	if parsed.Type == gjson.String {
		if parsed.String() == "any" {
			return mustMarshal("required")
		}
		return choice
	}
	if parsed.IsObject() {
		name := parsed.Get("name").String()
		if parsed.Get("type").String() == "tool" && name != "" {
			return mustMarshal(map[string]any{
				"type":     "function",
				"function": map[string]string{"name": name},
			})
		}
	}
	return choice
}

func marshalStop(stops []string) json.RawMessage {
	if len(stops) == 0 {
		return nil
	}
	return mustMarshal(stops)
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
