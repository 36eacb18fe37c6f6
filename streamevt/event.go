// Package streamevt implements the Stream Event Pipeline (C6): the typed
// discriminated-union event model and the single-writer sequence assigner
// that stamps every event with a strictly increasing sequence number. The
// order in which event kinds appear is decided by the emitters (the Agent
// Step Loop and the Turn Coordinator); the pipeline does not check it.
package streamevt

import "github.com/kadirpekel/agentrt/modelapi"

type Kind string

const (
	KindRunStart     Kind = "run-start"
	KindMessageStart Kind = "message-start"
	KindStepStart    Kind = "step-start"
	KindToken        Kind = "token"
	KindToolCall     Kind = "tool-call"
	KindToolResult   Kind = "tool-result"
	KindToolError    Kind = "tool-error"
	KindStepComplete Kind = "step-complete"
	KindUsage        Kind = "usage"
	KindHandoffStart Kind = "handoff-start"
	KindRunEnd       Kind = "run-end"
)

// RunStartInput carries the payload a run-start event reports.
type RunStartInput struct {
	Message          string
	PreviousMessages int
}

type ToolErrorDetail struct {
	Message string
	Name    string
}

type RunEndResult struct {
	Content   string
	ToolCalls []ResultToolCall
	Handoff   *HandoffResult
	Usage     *modelapi.Usage
}

type ResultToolCall struct {
	ToolID string
	Args   map[string]any
	Result any
	Error  *ToolCallError
}

type ToolCallError struct {
	Code    string
	Message string
}

type HandoffResult struct {
	AgentID string
	Message string
	Context string
}

// Event is the common envelope every kind shares, plus kind-specific fields.
// Using one flat struct (rather than an interface per kind) keeps the single
// writer's sequencing logic in one place and is what the Turn Coordinator's
// tests assert against field-by-field.
type Event struct {
	Type       Kind
	Sequence   uint64
	EmittedAt  int64 // unix ms
	RunID      string
	ThreadID   string

	RunStart     *RunStartInput
	StepIndex    int
	MessageID    string
	Delta        string
	Accumulated  string
	ToolCallID   string
	ToolName     string
	ToolInput    map[string]any
	ToolOutput   any
	ToolMetadata map[string]string
	ToolError    *ToolErrorDetail
	Usage        *modelapi.Usage

	HandoffFromAgentID string
	HandoffToAgentID   string
	HandoffMessage     string
	HandoffContext     string
	HandoffDepth       int

	FinishedAt  int64
	DurationMs  int64
	RunEndResult *RunEndResult
}
