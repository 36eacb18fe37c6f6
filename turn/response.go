package turn

import (
	"github.com/kadirpekel/agentrt/agentloop"
	"github.com/kadirpekel/agentrt/modelapi"
	"github.com/kadirpekel/agentrt/streamevt"
)

// Response is the Turn API's non-streaming result shape (§6).
type Response struct {
	ConversationID string
	Content        string
	ToolCalls      []agentloop.ToolCallResult
	Usage          modelapi.Usage
	Handoff        *HandoffInfo
	Paused         *PausedApproval
}

type HandoffInfo struct {
	FromAgentID string
	ToAgentID   string
}

// PausedApproval is returned in place of a normal Response when a tool call
// requires approval before the turn can continue.
type PausedApproval struct {
	ConversationID string
	ToolID         string
	Prompt         string
	TTLMs          int64
}

// StreamEvent is an alias kept at package level so callers of StreamMessage
// don't need to import streamevt directly for the common case.
type StreamEvent = streamevt.Event
