// Package agentloop implements the Agent Step Loop (C5): it drives an
// agent through up to maxSteps model calls interleaved with tool
// invocations, applying history filtering, tool-choice pass-through,
// strict-mode schema adaptation, and approval-pause propagation.
package agentloop

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/convo"
	"github.com/kadirpekel/agentrt/gate"
	"github.com/kadirpekel/agentrt/handoff"
	"github.com/kadirpekel/agentrt/invoker"
	"github.com/kadirpekel/agentrt/modelapi"
	"github.com/kadirpekel/agentrt/streamevt"
	"github.com/kadirpekel/agentrt/telemetry"
	"github.com/kadirpekel/agentrt/toolapi"
)

// ToolCallResult is one tool call's outcome as reported in non-streaming
// Response.toolCalls.
type ToolCallResult struct {
	ToolID string
	Args   map[string]any
	Result any
	Error  *streamevt.ToolCallError
}

// Result is what Run produces once the step loop ends.
type Result struct {
	Content   string
	ToolCalls []ToolCallResult
	Usage     modelapi.Usage
	Handoff   *handoff.Signal
	Paused    *invoker.PauseSignal
}

// RunInput bundles everything a single Run call needs: the inputs of
// §4.5 plus the plumbing (tool registry, invoker, provider, optional
// streaming pipeline).
type RunInput struct {
	Agent          *config.AgentConfig
	SystemPrompt   string
	History        []convo.Message
	UserMessage    string
	AllowedToolIDs map[string]bool
	PolicyContext  *gate.PolicyContext
	IntentID       string
	Strict         bool // apply the strict-mode schema rewrite for this call

	Streaming bool
	Pipeline  *streamevt.Pipeline
	Cancelled <-chan struct{}
}

// Loop is the Agent Step Loop. A value is safe to reuse across turns; it
// holds no per-turn state.
type Loop struct {
	Tools    *toolapi.Registry
	Invoker  *invoker.Invoker
	Provider modelapi.Provider
	Tracer   *telemetry.Tracer
	Model    modelapi.ModelHandle
}

func New(tools *toolapi.Registry, inv *invoker.Invoker, provider modelapi.Provider, tracer *telemetry.Tracer) *Loop {
	return &Loop{Tools: tools, Invoker: inv, Provider: provider, Tracer: tracer}
}

func (l *Loop) Run(ctx context.Context, in RunInput) (Result, error) {
	maxSteps := in.Agent.MaxSteps
	if !in.Streaming {
		maxSteps = in.Agent.EffectiveNonStreamingMaxSteps()
	}

	allowedNames := in.AllowedToolIDs
	filteredHistory := filterHistory(in.History, allowedNames)
	toolkit := l.resolveToolkit(allowedNames, in.Strict)

	var loopMessages []modelapi.PromptMessage
	var finalText string
	var toolCallResults []ToolCallResult
	var pendingHandoff *handoff.Signal
	var totalUsage modelapi.Usage

	for step := 0; step < maxSteps; step++ {
		if in.Streaming && !l.emit(in, streamevt.Event{Type: streamevt.KindStepStart, StepIndex: step}) {
			return Result{}, nil
		}

		prompt := buildPrompt(in.SystemPrompt, filteredHistory, in.UserMessage, loopMessages)
		req := modelapi.GenerateRequest{Prompt: prompt, Toolkit: toolkit, ToolChoice: in.Agent.ToolChoice, MaxSteps: maxSteps}
		if in.Agent.Model.Temperature != nil {
			req.Temperature = in.Agent.Model.Temperature
		}

		stepText, calls, usage, err := l.runStep(ctx, in, step, req)
		if err != nil {
			return Result{}, err
		}
		totalUsage = addUsage(totalUsage, usage)

		assistantParts := []convo.Part{}
		if stepText != "" {
			assistantParts = append(assistantParts, convo.TextPart(stepText))
		}
		for _, c := range calls {
			assistantParts = append(assistantParts, convo.ToolCallPart(c.ID, c.Name, c.Params))
		}
		if len(assistantParts) > 0 {
			loopMessages = append(loopMessages, toPromptMessage(convo.NewAssistantMessage("", assistantParts)))
		}

		if len(calls) == 0 {
			finalText = stepText
			if in.Streaming && !l.emit(in, streamevt.Event{Type: streamevt.KindStepComplete, StepIndex: step}) {
				return Result{}, nil
			}
			break
		}

		var toolResultParts []convo.Part
		stepHandoff, paused, haltErr := l.runToolCalls(ctx, in, step, calls, &toolCallResults, &toolResultParts)
		if paused != nil {
			return Result{Paused: paused}, nil
		}
		if haltErr != nil {
			return Result{}, haltErr
		}
		if len(toolResultParts) > 0 {
			loopMessages = append(loopMessages, toPromptMessage(convo.NewToolMessage("", toolResultParts)))
		}

		if in.Streaming && !l.emit(in, streamevt.Event{Type: streamevt.KindStepComplete, StepIndex: step}) {
			return Result{}, nil
		}

		if stepHandoff != nil {
			pendingHandoff = stepHandoff
			finalText = stepText
			break
		}
		finalText = stepText
	}

	return Result{Content: finalText, ToolCalls: toolCallResults, Usage: totalUsage, Handoff: pendingHandoff}, nil
}

func (l *Loop) runStep(ctx context.Context, in RunInput, step int, req modelapi.GenerateRequest) (string, []modelapi.ToolCall, modelapi.Usage, error) {
	// A Loop without a fixed Model resolves the agent's own model coordinates.
	model := l.Model
	if model == nil {
		resolved, err := l.Provider.GetModel(ctx, in.Agent.Model)
		if err != nil {
			return "", nil, modelapi.Usage{}, err
		}
		model = resolved
	}

	if !in.Streaming {
		res, err := l.Provider.GenerateText(ctx, model, req)
		if err != nil {
			return "", nil, modelapi.Usage{}, err
		}
		return res.Text, res.ToolCalls, res.Usage, nil
	}

	events, err := l.Provider.StreamText(ctx, model, req)
	if err != nil {
		return "", nil, modelapi.Usage{}, err
	}

	var accumulated string
	var calls []modelapi.ToolCall
	var usage modelapi.Usage
	for ev := range events {
		switch ev.Kind {
		case modelapi.ProviderEventToken:
			accumulated = ev.Accumulated
			if !l.emit(in, streamevt.Event{Type: streamevt.KindToken, StepIndex: step, Delta: ev.Delta, Accumulated: ev.Accumulated}) {
				return accumulated, calls, usage, nil
			}
		case modelapi.ProviderEventToolCall:
			calls = append(calls, ev.ToolCall)
		case modelapi.ProviderEventUsage:
			usage = ev.Usage
			if !l.emit(in, streamevt.Event{Type: streamevt.KindUsage, Usage: &ev.Usage}) {
				return accumulated, calls, usage, nil
			}
		case modelapi.ProviderEventDone:
			if ev.FinalText != "" {
				accumulated = ev.FinalText
			}
		}
	}
	return accumulated, calls, usage, nil
}

// callOutcome is one call's invocation result, gathered before any event is
// emitted so that concurrent execution below can still report events to the
// pipeline in the calls' original index order.
type callOutcome struct {
	found  bool
	result toolapi.ToolResult
	pause  *invoker.PauseSignal
	err    error
}

func (l *Loop) invokeOne(ctx context.Context, in RunInput, call modelapi.ToolCall) callOutcome {
	def, ok := l.Tools.Lookup(call.Name)
	if !ok {
		return callOutcome{found: false}
	}
	ic := invoker.Context{
		AllowedToolIDs: in.AllowedToolIDs,
		PolicyContext:  in.PolicyContext,
		ToolTimeout:    in.Agent.ToolTimeout,
		RetryPolicy:    in.Agent.RetryPolicy,
		IntentID:       in.IntentID,
		AgentID:        in.Agent.ID,
	}
	result, pause, err := l.Invoker.Invoke(ctx, def, call.Params, ic)
	return callOutcome{found: true, result: result, pause: pause, err: err}
}

// runToolCalls invokes every call in a step concurrently via errgroup, then
// reports tool-result/tool-error events in the calls' original index order —
// the Stream Event Pipeline's ordering invariant holds regardless of which
// goroutine finishes first.
func (l *Loop) runToolCalls(ctx context.Context, in RunInput, step int, calls []modelapi.ToolCall, out *[]ToolCallResult, parts *[]convo.Part) (*handoff.Signal, *invoker.PauseSignal, error) {
	for _, call := range calls {
		if in.Streaming && !l.emit(in, streamevt.Event{Type: streamevt.KindToolCall, StepIndex: step, ToolCallID: call.ID, ToolName: call.Name, ToolInput: call.Params}) {
			return nil, nil, nil
		}
	}

	results := make([]callOutcome, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = l.invokeOne(gctx, in, call)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.pause != nil {
			if in.Streaming {
				l.emit(in, streamevt.Event{Type: streamevt.KindToolError, StepIndex: step,
					ToolError: &streamevt.ToolErrorDetail{Message: "approval required: " + res.pause.Prompt}})
			}
			return nil, res.pause, nil
		}
	}

	var signal *handoff.Signal
	for i, call := range calls {
		res := results[i]
		if !res.found {
			errDetail := streamevt.ToolErrorDetail{Message: fmt.Sprintf("unknown tool %q", call.Name)}
			l.emitToolError(in, step, call, errDetail)
			*out = append(*out, ToolCallResult{ToolID: call.Name, Args: call.Params, Error: &streamevt.ToolCallError{Code: "UNKNOWN_TOOL", Message: errDetail.Message}})
			*parts = append(*parts, convo.ToolResultPart(call.ID, call.Name, nil, true))
			continue
		}
		if res.err != nil {
			code, msg := classifyForResponse(res.err)
			l.emitToolError(in, step, call, streamevt.ToolErrorDetail{Message: msg})
			*out = append(*out, ToolCallResult{ToolID: call.Name, Args: call.Params, Error: &streamevt.ToolCallError{Code: code, Message: msg}})
			*parts = append(*parts, convo.ToolResultPart(call.ID, call.Name, nil, true))
			continue
		}

		if in.Streaming && !l.emit(in, streamevt.Event{Type: streamevt.KindToolResult, StepIndex: step, ToolCallID: call.ID, ToolName: call.Name, ToolOutput: res.result.Output}) {
			return nil, nil, nil
		}
		*out = append(*out, ToolCallResult{ToolID: call.Name, Args: call.Params, Result: res.result.Output})
		*parts = append(*parts, convo.ToolResultPart(call.ID, call.Name, res.result.Output, false))

		if call.Name == handoff.ReservedToolID && res.result.Success {
			signal = parseHandoffSignal(call.Params)
		}
	}

	return signal, nil, nil
}

func (l *Loop) emitToolError(in RunInput, step int, call modelapi.ToolCall, detail streamevt.ToolErrorDetail) {
	if in.Streaming {
		l.emit(in, streamevt.Event{Type: streamevt.KindToolError, StepIndex: step, ToolCallID: call.ID, ToolName: call.Name, ToolError: &detail})
	}
}

func (l *Loop) emit(in RunInput, e streamevt.Event) bool {
	if in.Pipeline == nil {
		return true
	}
	return in.Pipeline.Emit(e, in.Cancelled)
}

func classifyForResponse(err error) (code, message string) {
	switch {
	case isPolicyDenied(err):
		return "POLICY_DENIED", err.Error()
	case isValidation(err):
		return "VALIDATION", err.Error()
	default:
		return "UNKNOWN", err.Error()
	}
}

func parseHandoffSignal(params map[string]any) *handoff.Signal {
	sig := &handoff.Signal{}
	if v, ok := params["agentId"].(string); ok {
		sig.AgentID = v
	}
	if v, ok := params["message"].(string); ok {
		sig.Message = v
	}
	if v, ok := params["context"].(string); ok {
		sig.Context = v
	}
	return sig
}

func addUsage(a, b modelapi.Usage) modelapi.Usage {
	return modelapi.Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
