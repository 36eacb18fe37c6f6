// Package modelapi declares the ModelProvider contract the Agent Step Loop
// consumes (an external collaborator per spec scope) and the strict-mode
// schema rewrite that adapts a tool's input schema for providers requiring
// every declared property to be listed as required.
package modelapi

import (
	"context"

	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/toolapi"
)

// ToolCall is a model-requested invocation.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]any
}

// Usage mirrors the token accounting the engine forwards verbatim.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// GenerateRequest is what the step loop passes to a model call.
type GenerateRequest struct {
	Prompt     []PromptMessage
	Toolkit    []toolapi.ToolDefinition
	ToolChoice config.ToolChoice
	MaxSteps   int
	Temperature *float64
}

// PromptMessage is the provider-facing flattening of a convo.Message; the
// step loop is responsible for building these from filtered history.
type PromptMessage struct {
	Role  string
	Text  string
	Calls []ToolCall
	// ToolResults, when Role == "tool", map a ToolCall id to its output.
	ToolResults []ToolResultRef
}

type ToolResultRef struct {
	ToolCallID string
	ToolName   string
	Output     any
	IsFailure  bool
}

// GenerateResult is produced by non-streaming generation.
type GenerateResult struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// ProviderEventKind enumerates what a streaming model call can emit; the
// Agent Step Loop translates each into the matching §4.6 StreamEvent.
type ProviderEventKind string

const (
	ProviderEventToken     ProviderEventKind = "token"
	ProviderEventToolCall  ProviderEventKind = "tool_call"
	ProviderEventUsage     ProviderEventKind = "usage"
	ProviderEventDone      ProviderEventKind = "done"
)

type ProviderEvent struct {
	Kind        ProviderEventKind
	Delta       string // ProviderEventToken
	Accumulated string // ProviderEventToken
	ToolCall    ToolCall
	Usage       Usage
	FinalText   string // ProviderEventDone
}

// ModelHandle is an opaque, provider-resolved model reference.
type ModelHandle interface{}

// Provider is the narrow contract the engine depends on for LLM calls. A
// concrete HTTP-backed implementation lives outside this module.
type Provider interface {
	GetModel(ctx context.Context, coords config.ModelCoordinates) (ModelHandle, error)
	GenerateText(ctx context.Context, model ModelHandle, req GenerateRequest) (GenerateResult, error)
	StreamText(ctx context.Context, model ModelHandle, req GenerateRequest) (<-chan ProviderEvent, error)
}
