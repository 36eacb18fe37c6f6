package convo

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// typeMarkerKey flags a JSON object as an encoded non-native value rather
// than a plain map, so Decode can tell "a map that happens to have this key"
// apart from "an encoded Date". Collisions are the caller's problem, same as
// any other reserved-key scheme.
const typeMarkerKey = "__$type"

// Encode serializes an arbitrary Go value (as found in Part.Params/Result)
// to JSON, representing time.Time, *url.URL, and []byte as tagged objects so
// Decode can reconstruct the original Go type instead of collapsing them to
// strings.
func Encode(v any) ([]byte, error) {
	return json.Marshal(tag(v))
}

// Decode is Encode's inverse: json ∘ tag ∘ untag ∘ unmarshal is identity for
// any value built from maps, slices, strings, numbers, bools, time.Time,
// *url.URL, and []byte.
func Decode(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return untag(raw), nil
}

func tag(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{typeMarkerKey: "date", "value": val.Format(time.RFC3339Nano)}
	case *url.URL:
		if val == nil {
			return nil
		}
		return map[string]any{typeMarkerKey: "url", "value": val.String()}
	case url.URL:
		return map[string]any{typeMarkerKey: "url", "value": val.String()}
	case []byte:
		return map[string]any{typeMarkerKey: "bytes", "value": base64.StdEncoding.EncodeToString(val)}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = tag(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = tag(item)
		}
		return out
	default:
		return v
	}
}

func untag(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if kind, ok := val[typeMarkerKey]; ok {
			str, _ := val["value"].(string)
			switch kind {
			case "date":
				t, err := time.Parse(time.RFC3339Nano, str)
				if err == nil {
					return t
				}
			case "url":
				u, err := url.Parse(str)
				if err == nil {
					return u
				}
			case "bytes":
				b, err := base64.StdEncoding.DecodeString(str)
				if err == nil {
					return b
				}
			}
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = untag(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = untag(item)
		}
		return out
	default:
		return v
	}
}

// EncodeMessage and DecodeMessage round-trip a Message through the typed
// codec, used by ConversationStore implementations (see sqlitestore).
func EncodeMessage(m Message) ([]byte, error) {
	type wirePart struct {
		Kind       PartKind `json:"kind"`
		Text       string   `json:"text,omitempty"`
		ToolCallID string   `json:"tool_call_id,omitempty"`
		ToolName   string   `json:"tool_name,omitempty"`
		Params     any      `json:"params,omitempty"`
		Result     any      `json:"result,omitempty"`
		IsFailure  bool     `json:"is_failure,omitempty"`
	}
	parts := make([]wirePart, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = wirePart{
			Kind: p.Kind, Text: p.Text, ToolCallID: p.ToolCallID, ToolName: p.ToolName,
			Params: tag(anyOf(p.Params)), Result: tag(p.Result), IsFailure: p.IsFailure,
		}
	}
	wire := struct {
		ID        string     `json:"id"`
		Role      Role       `json:"role"`
		Parts     []wirePart `json:"parts"`
		CreatedAt any        `json:"created_at"`
	}{ID: m.ID, Role: m.Role, Parts: parts, CreatedAt: tag(m.CreatedAt)}
	return json.Marshal(wire)
}

func anyOf(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func DecodeMessage(data []byte) (Message, error) {
	type wirePart struct {
		Kind       PartKind `json:"kind"`
		Text       string   `json:"text,omitempty"`
		ToolCallID string   `json:"tool_call_id,omitempty"`
		ToolName   string   `json:"tool_name,omitempty"`
		Params     any      `json:"params,omitempty"`
		Result     any      `json:"result,omitempty"`
		IsFailure  bool     `json:"is_failure,omitempty"`
	}
	var wire struct {
		ID        string     `json:"id"`
		Role      Role       `json:"role"`
		Parts     []wirePart `json:"parts"`
		CreatedAt any        `json:"created_at"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	parts := make([]Part, len(wire.Parts))
	for i, p := range wire.Parts {
		params, _ := untag(p.Params).(map[string]any)
		parts[i] = Part{
			Kind: p.Kind, Text: p.Text, ToolCallID: p.ToolCallID, ToolName: p.ToolName,
			Params: params, Result: untag(p.Result), IsFailure: p.IsFailure,
		}
	}
	created, _ := untag(wire.CreatedAt).(time.Time)
	return Message{ID: wire.ID, Role: wire.Role, Parts: parts, CreatedAt: created}, nil
}
