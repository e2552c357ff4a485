// Package translator converts between the public dialects and the upstream
// payload shape. Anthropic requests are lifted into the OpenAI chat form
// first; that form is what the payload builder and tokenizer consume.
package translator

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ContentToText flattens any Anthropic content value (string, block list,
// single block) into plain text. Non-text blocks contribute their text
// field when present, otherwise their raw JSON.
func ContentToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return resultToText(gjson.ParseBytes(raw))
}

func resultToText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var out string
		v.ForEach(func(_, item gjson.Result) bool {
			out += resultToText(item)
			return true
		})
		return out
	case v.IsObject():
		if v.Get("type").String() == "text" {
			return v.Get("text").String()
		}
		if t := v.Get("text"); t.Type == gjson.String {
			return t.String()
		}
		return v.Raw
	case v.Exists() && v.Type != gjson.Null:
		return v.String()
	}
	return ""
}

// SafeJSONLoads parses a tool-call argument string into an object. Invalid
// JSON is preserved under "_raw"; valid non-object JSON under "value". The
// model sometimes emits both, and neither may be dropped.
func SafeJSONLoads(value string) map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		return map[string]any{"_raw": value}
	}
	if obj, ok := parsed.(map[string]any); ok {
		return obj
	}
	return map[string]any{"value": parsed}
}
