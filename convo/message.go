// Package convo holds the conversation/message data model the engine reads
// and writes through a ConversationStore, and the typed-marker codec that
// keeps Date/URL/byte-array fields round-trip safe across that store.
package convo

import "time"

// Role distinguishes the three message variants the spec allows.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates a Message's ordered parts.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// Part is one element of a Message's content. Exactly the fields relevant to
// Kind are populated; the zero value for the others is ignored.
type Part struct {
	Kind PartKind

	// PartText
	Text string

	// PartToolCall
	ToolCallID string
	ToolName   string
	Params     map[string]any

	// PartToolResult
	Result    any
	IsFailure bool
}

func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

func ToolCallPart(id, name string, params map[string]any) Part {
	return Part{Kind: PartToolCall, ToolCallID: id, ToolName: name, Params: params}
}

func ToolResultPart(id, name string, result any, isFailure bool) Part {
	return Part{Kind: PartToolResult, ToolCallID: id, ToolName: name, Result: result, IsFailure: isFailure}
}

// Message is one conversation turn contribution. User messages carry their
// text as a single PartText; Assistant/Tool messages carry an ordered list of
// parts. System messages are never appended here; they live only in
// AgentConfig.SystemPromptTemplate.
type Message struct {
	ID        string
	Role      Role
	Parts     []Part
	CreatedAt time.Time
}

func NewUserMessage(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Parts: []Part{TextPart(text)}}
}

func NewAssistantMessage(id string, parts []Part) Message {
	return Message{ID: id, Role: RoleAssistant, Parts: parts}
}

func NewToolMessage(id string, parts []Part) Message {
	return Message{ID: id, Role: RoleTool, Parts: parts}
}

// Text concatenates the text of any PartText entries, in order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// FilterByToolNames drops ToolCall/ToolResult parts whose ToolName is not in
// allowed, per §4.5.2 history filtering. Returns ok=false when filtering
// empties every part, signaling the caller to drop the whole message.
func (m Message) FilterByToolNames(allowed map[string]bool) (Message, bool) {
	if m.Role == RoleUser {
		return m, true
	}
	kept := make([]Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Kind {
		case PartToolCall, PartToolResult:
			if allowed[p.ToolName] {
				kept = append(kept, p)
			}
		default:
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return Message{}, false
	}
	out := m
	out.Parts = kept
	return out, true
}

// Policy bounds a Conversation's growth.
type Policy struct {
	MaxMessages  int
	MaxCharacters int
	StrictLookup bool
}

// Conversation is the durable unit the ConversationStore persists.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
	Policy    Policy
}

// FilteredHistory returns only user/assistant/tool messages, in order —
// the filtering the Turn Coordinator applies to loaded history (§4.9 step 3).
func (c *Conversation) FilteredHistory() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleTool:
			out = append(out, m)
		}
	}
	return out
}
