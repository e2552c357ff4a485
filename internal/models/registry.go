package models

import "time"

// AvailableModels is the static registry served when the upstream listing
// is unreachable or stale. Ordering is the presentation order.
var AvailableModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-sonnet-4-5",
	"claude-sonnet-4-20250514",
	"claude-haiku-4-5-20251001",
	"claude-3-7-sonnet-20250219",
	"claude-3-5-haiku-20241022",
}

// OpenAIModelList renders ids in the OpenAI listing shape.
func OpenAIModelList(ids []string) ModelList {
	now := time.Now().Unix()
	data := make([]OpenAIModel, 0, len(ids))
	for _, id := range ids {
		data = append(data, OpenAIModel{
			ID:          id,
			Object:      "model",
			Created:     now,
			OwnedBy:     "anthropic",
			Description: "Claude model via Kiro API",
		})
	}
	return ModelList{Object: "list", Data: data}
}

// AnthropicModelListOf renders ids in the Anthropic listing shape.
func AnthropicModelListOf(ids []string) AnthropicModelList {
	now := time.Now().UTC().Format(time.RFC3339)
	data := make([]AnthropicModel, 0, len(ids))
	for _, id := range ids {
		data = append(data, AnthropicModel{
			ID:          id,
			Type:        "model",
			DisplayName: id,
			CreatedAt:   now,
		})
	}
	out := AnthropicModelList{Data: data}
	if len(data) > 0 {
		out.FirstID = &data[0].ID
		out.LastID = &data[len(data)-1].ID
	}
	return out
}
