// Package tokenizer estimates Claude token counts with the cl100k_base
// encoding plus an empirical correction factor. The exact Claude tokenizer
// is not public; cl100k_base undercounts it by roughly 15%.
package tokenizer

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"kiro2api-go/internal/models"
)

// ClaudeCorrectionFactor scales cl100k_base counts toward observed Claude
// context usage.
const ClaudeCorrectionFactor = 1.15

const (
	perMessageTokens = 4   // role markers and delimiters
	perToolTokens    = 4   // tool structure overhead
	primingTokens    = 3   // assistant priming at the end of the prompt
	imageTokens      = 100 // midpoint of the 85-170 range
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.WithError(err).Warn("tokenizer: cl100k_base unavailable, falling back to length estimate")
			return
		}
		encoding = enc
	})
	return encoding
}

// countRaw counts without the correction factor.
func countRaw(text string) int {
	if text == "" {
		return 0
	}
	if enc := getEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

func corrected(n int) int {
	return int(float64(n) * ClaudeCorrectionFactor)
}

// CountText counts tokens in free text, correction applied.
func CountText(text string) int {
	return corrected(countRaw(text))
}

// CountMessages counts an OpenAI-shaped message list. Per-message service
// tokens and the final priming tokens are included; the correction factor
// is applied once over the total.
func CountMessages(messages []models.ChatMessage) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for i := range messages {
		m := &messages[i]
		total += perMessageTokens
		total += countRaw(m.Role)
		total += countContent(m.Content)
		for _, tc := range m.ToolCalls {
			total += perToolTokens
			total += countRaw(tc.Function.Name)
			total += countRaw(tc.Function.Arguments)
		}
		if m.ToolCallID != "" {
			total += countRaw(m.ToolCallID)
		}
	}
	total += primingTokens
	return corrected(total)
}

func countContent(content json.RawMessage) int {
	if len(content) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return countRaw(s)
	}
	total := 0
	gjson.ParseBytes(content).ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			total += countRaw(part.Get("text").String())
		case "image_url", "image":
			total += imageTokens
		}
		return true
	})
	return total
}

// CountTools counts OpenAI tool definitions: name, description, and the
// JSON-serialized parameter schema.
func CountTools(tools []models.Tool) int {
	if len(tools) == 0 {
		return 0
	}
	total := 0
	for _, t := range tools {
		total += perToolTokens
		total += countRaw(t.Function.Name)
		total += countRaw(t.Function.Description)
		if len(t.Function.Parameters) > 0 {
			total += countRaw(string(t.Function.Parameters))
		}
	}
	return corrected(total)
}

// EstimateRequest is the input-side fallback estimate for a whole request.
func EstimateRequest(messages []models.ChatMessage, tools []models.Tool) int {
	return CountMessages(messages) + CountTools(tools)
}

// CountAnthropicMessages counts Anthropic-format messages. Thinking blocks
// in assistant messages are prior-turn reasoning and are not billed as
// input, so they are skipped.
func CountAnthropicMessages(messages []models.AnthropicMessage) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += perMessageTokens
		total += countRaw(m.Role)
		if len(m.Content) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			total += countRaw(s)
			continue
		}
		gjson.ParseBytes(m.Content).ForEach(func(_, block gjson.Result) bool {
			if m.Role == "assistant" && block.Get("type").String() == "thinking" {
				return true
			}
			total += countAnthropicBlock(block)
			return true
		})
	}
	total += primingTokens
	return corrected(total)
}

func countAnthropicBlock(block gjson.Result) int {
	switch block.Get("type").String() {
	case "text":
		return countRaw(block.Get("text").String())
	case "thinking":
		return countRaw(block.Get("thinking").String())
	case "image":
		return imageTokens
	case "tool_use":
		n := perToolTokens
		n += countRaw(block.Get("name").String())
		if input := block.Get("input"); input.Exists() {
			n += countRaw(input.Raw)
		}
		return n
	case "tool_result":
		n := perToolTokens
		n += countRaw(block.Get("tool_use_id").String())
		content := block.Get("content")
		if content.Type == gjson.String {
			n += countRaw(content.String())
		} else if content.IsArray() {
			content.ForEach(func(_, nested gjson.Result) bool {
				n += countAnthropicBlock(nested)
				return true
			})
		}
		return n
	}
	return 0
}

// CountAnthropicTools counts Anthropic tool definitions.
func CountAnthropicTools(tools []models.AnthropicTool) int {
	if len(tools) == 0 {
		return 0
	}
	total := 0
	for _, t := range tools {
		total += perToolTokens
		total += countRaw(t.Name)
		total += countRaw(t.Description)
		if len(t.InputSchema) > 0 {
			total += countRaw(string(t.InputSchema))
		}
	}
	return corrected(total)
}

// CountAnthropicSystem counts a system prompt, string or block-list form.
func CountAnthropicSystem(system json.RawMessage) int {
	if len(system) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(system, &s); err == nil {
		return CountText(s)
	}
	total := 0
	gjson.ParseBytes(system).ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			total += countRaw(block.Get("text").String())
		}
		return true
	})
	return corrected(total)
}
