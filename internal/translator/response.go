package translator

import "kiro2api-go/internal/models"

// OpenAIResponseToAnthropic converts a collected chat completion into the
// Messages API response shape.
func OpenAIResponseToAnthropic(resp *models.ChatCompletionResponse) models.AnthropicResponse {
	out := models.AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: models.AnthropicUsage{
			InputTokens:              resp.Usage.PromptTokens,
			OutputTokens:             resp.Usage.CompletionTokens,
			CacheCreationInputTokens: resp.Usage.CacheWriteTokens,
			CacheReadInputTokens:     resp.Usage.CacheHitTokens,
		},
	}
	if len(resp.Choices) == 0 {
		out.StopReason = "end_turn"
		out.Content = []models.AnthropicBlock{}
		return out
	}

	choice := resp.Choices[0]
	blocks := []models.AnthropicBlock{}
	if text := choice.Message.ContentText(); text != "" {
		blocks = append(blocks, models.AnthropicBlock{Type: "text", Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		blocks = append(blocks, models.AnthropicBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: SafeJSONLoads(args),
		})
	}

	out.Content = blocks
	out.StopReason = StopReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0)
	return out
}

// StopReason maps an OpenAI finish reason to the Anthropic vocabulary.
// Any tool call seen forces tool_use.
func StopReason(finishReason string, toolsSeen bool) string {
	if finishReason == "length" {
		return "max_tokens"
	}
	if finishReason == "tool_calls" || toolsSeen {
		return "tool_use"
	}
	return "end_turn"
}
