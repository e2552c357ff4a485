package translator

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"kiro2api-go/internal/models"
)

// Upstream payload shapes. The service consumes a conversation state with
// one current user message and the preceding turns as history.

type kiroPayload struct {
	ConversationState kiroConversationState `json:"conversationState"`
	ProfileArn        string                `json:"profileArn,omitempty"`
}

type kiroConversationState struct {
	ChatTriggerType string     `json:"chatTriggerType"`
	ConversationID  string     `json:"conversationId"`
	CurrentMessage  kiroTurn   `json:"currentMessage"`
	History         []kiroTurn `json:"history,omitempty"`
}

// kiroTurn is either a user or an assistant entry; exactly one side is set.
type kiroTurn struct {
	UserInputMessage         *kiroUserMessage      `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *kiroAssistantMessage `json:"assistantResponseMessage,omitempty"`
}

type kiroUserMessage struct {
	Content string           `json:"content"`
	ModelID string           `json:"modelId,omitempty"`
	Origin  string           `json:"origin"`
	Context *kiroUserContext `json:"userInputMessageContext,omitempty"`
}

type kiroUserContext struct {
	ToolResults []kiroToolResult `json:"toolResults,omitempty"`
	Tools       []kiroToolSpec   `json:"tools,omitempty"`
}

type kiroToolResult struct {
	ToolUseID string            `json:"toolUseId"`
	Content   []kiroToolContent `json:"content"`
	Status    string            `json:"status"`
}

type kiroToolContent struct {
	Text string `json:"text"`
}

type kiroToolSpec struct {
	ToolSpecification kiroToolSpecification `json:"toolSpecification"`
}

type kiroToolSpecification struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema kiroInputSchema `json:"inputSchema"`
}

type kiroInputSchema struct {
	JSON json.RawMessage `json:"json"`
}

type kiroAssistantMessage struct {
	Content  string        `json:"content"`
	ToolUses []kiroToolUse `json:"toolUses,omitempty"`
}

type kiroToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

const (
	chatTriggerManual = "MANUAL"
	originAIEditor    = "AI_EDITOR"
)

// BuildKiroPayload turns the OpenAI-shaped request into the upstream body.
// System text folds into the first user turn. Tool results attach to the
// user turn that follows them. The profile identifier travels only for
// desktop-mechanism accounts; pass it empty otherwise.
func BuildKiroPayload(req *models.ChatCompletionRequest, conversationID, profileArn string) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("request has no messages")
	}

	var systemParts []string
	var turns []kiroTurn
	var pendingResults []kiroToolResult

	flushUser := func(content string) {
		um := &kiroUserMessage{Content: content, ModelID: req.Model, Origin: originAIEditor}
		if len(pendingResults) > 0 {
			um.Context = &kiroUserContext{ToolResults: pendingResults}
			pendingResults = nil
		}
		turns = append(turns, kiroTurn{UserInputMessage: um})
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case "system":
			if text := msg.ContentText(); text != "" {
				systemParts = append(systemParts, text)
			}
		case "user":
			flushUser(msg.ContentText())
		case "tool":
			pendingResults = append(pendingResults, kiroToolResult{
				ToolUseID: msg.ToolCallID,
				Content:   []kiroToolContent{{Text: msg.ContentText()}},
				Status:    "success",
			})
		case "assistant":
			turns = append(turns, kiroTurn{AssistantResponseMessage: assistantTurn(msg)})
		}
	}
	// Tool results with no user message after them still need a user turn
	// to ride on.
	if len(pendingResults) > 0 {
		flushUser("")
	}

	// The current message must be a user turn; trailing assistant turns
	// would leave upstream nothing to answer.
	last := len(turns) - 1
	for last >= 0 && turns[last].UserInputMessage == nil {
		last--
	}
	if last < 0 {
		return nil, errors.New("request has no user message")
	}
	current := turns[last]
	history := append(turns[:last:last], turns[last+1:]...)

	if systemText := strings.Join(systemParts, "\n\n"); systemText != "" {
		if current.UserInputMessage.Content != "" {
			current.UserInputMessage.Content = systemText + "\n\n" + current.UserInputMessage.Content
		} else {
			current.UserInputMessage.Content = systemText
		}
	}

	if len(req.Tools) > 0 {
		if current.UserInputMessage.Context == nil {
			current.UserInputMessage.Context = &kiroUserContext{}
		}
		specs := make([]kiroToolSpec, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := t.Function.Parameters
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			specs = append(specs, kiroToolSpec{ToolSpecification: kiroToolSpecification{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: kiroInputSchema{JSON: schema},
			}})
		}
		current.UserInputMessage.Context.Tools = specs
	}

	payload := kiroPayload{
		ConversationState: kiroConversationState{
			ChatTriggerType: chatTriggerManual,
			ConversationID:  conversationID,
			CurrentMessage:  current,
			History:         history,
		},
		ProfileArn: profileArn,
	}
	return json.Marshal(payload)
}

// assistantTurn renders an assistant message, collecting tool calls from
// both the OpenAI tool_calls field and embedded tool_use blocks.
func assistantTurn(msg *models.ChatMessage) *kiroAssistantMessage {
	out := &kiroAssistantMessage{Content: msg.ContentText()}

	for _, tc := range msg.ToolCalls {
		out.ToolUses = append(out.ToolUses, kiroToolUse{
			ToolUseID: tc.ID,
			Name:      tc.Function.Name,
			Input:     SafeJSONLoads(tc.Function.Arguments),
		})
	}

	if len(msg.Content) > 0 {
		parsed := gjson.ParseBytes(msg.Content)
		if parsed.IsArray() {
			var text string
			parsed.ForEach(func(_, block gjson.Result) bool {
				switch block.Get("type").String() {
				case "text":
					text += block.Get("text").String()
				case "tool_use":
					var input map[string]any
					if raw := block.Get("input"); raw.Exists() {
						input = SafeJSONLoads(raw.Raw)
					}
					out.ToolUses = append(out.ToolUses, kiroToolUse{
						ToolUseID: block.Get("id").String(),
						Name:      block.Get("name").String(),
						Input:     input,
					})
				}
				return true
			})
			out.Content = text
		}
	}
	return out
}
