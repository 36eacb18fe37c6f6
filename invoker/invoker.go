package invoker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/gate"
	"github.com/kadirpekel/agentrt/telemetry"
	"github.com/kadirpekel/agentrt/toolapi"
)

// PauseSignal suspends the current step pending human approval. The Agent
// Step Loop turns this into a stream event and stops without recording a
// tool result (§4.5.5).
type PauseSignal struct {
	Prompt   string
	ToolID   string
	IntentID string
	AgentID  string
	TTLMs    int64
}

// Context carries the per-turn state the invoker needs beyond the tool
// itself: the resolved allow-list, the caller's policy context (if any),
// and the retry/timeout budget in effect.
type Context struct {
	AllowedToolIDs map[string]bool
	PolicyContext  *gate.PolicyContext
	ToolTimeout    time.Duration
	RetryPolicy    config.RetryPolicy
	IntentID       string
	AgentID        string
}

// Invoker is the Tool Invoker (C4). Gate is optional: when nil, step 1 (gate
// check) is skipped and every allow-listed tool is treated as pre-approved.
type Invoker struct {
	Gate   *gate.Gate
	Tracer *telemetry.Tracer
	sleep  func(time.Duration)
}

func New(g *gate.Gate, tracer *telemetry.Tracer) *Invoker {
	return &Invoker{Gate: g, Tracer: tracer, sleep: time.Sleep}
}

// Invoke runs the six-step pipeline of §4.4. Exactly one of (result, pause,
// err) is meaningful on return.
func (inv *Invoker) Invoke(ctx context.Context, tool toolapi.ToolDefinition, input map[string]any, ic Context) (toolapi.ToolResult, *PauseSignal, error) {
	spanCtx, span := inv.tracerOrNoop().StartSpan(ctx, "tool.invoke", map[string]string{
		"tool.id": tool.ID,
	})
	defer span.End()

	// Step 1: gate check.
	if inv.Gate != nil && ic.PolicyContext != nil {
		decision := inv.Gate.Evaluate(tool.ID, *ic.PolicyContext)
		if decision.RequireApproval {
			sessionKey := gate.SessionKey(*ic.PolicyContext)
			if !inv.Gate.Approvals().HasApproval(tool.ID, sessionKey) {
				req := inv.Gate.Approvals().CreateApprovalRequest(decision, sessionKey)
				if req == nil {
					req = &gate.ApprovalRequest{ToolID: tool.ID, SessionKey: sessionKey, TTLMs: gate.DefaultApprovalTTL.Milliseconds()}
				}
				span.AddEvent("approval_required", nil)
				return toolapi.ToolResult{}, &PauseSignal{
					Prompt: req.Prompt, ToolID: tool.ID, IntentID: ic.IntentID, AgentID: ic.AgentID, TTLMs: req.TTLMs,
				}, nil
			}
		}
	}

	// Step 2: allow-list check.
	if ic.AllowedToolIDs != nil && !ic.AllowedToolIDs[tool.ID] {
		err := &PolicyDeniedError{ToolID: tool.ID}
		span.SetStatusError(err)
		return toolapi.ToolResult{}, nil, err
	}

	// Step 3: validation.
	if tool.InputSchema != nil {
		decoded, err := validate(tool.InputSchema, input)
		if err != nil {
			verr := &ValidationError{ToolID: tool.ID, Err: err}
			span.SetStatusError(verr)
			return toolapi.ToolResult{}, nil, verr
		}
		input = decoded
	}

	timeout := ic.ToolTimeout
	if timeout == 0 {
		timeout = 300_000 * time.Millisecond
	}
	policy := ic.RetryPolicy
	policy.SetDefaults()

	span.SetAttribute("tool.timeout", timeout.String())

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := inv.timedAttempt(spanCtx, tool, input, timeout)
		if err == nil {
			span.AddEvent("tool.succeeded", map[string]string{"retry.attempt": fmt.Sprint(attempt)})
			return result, nil, nil
		}

		class := Classify(err)
		span.AddEvent("tool.attempt_failed", map[string]string{
			"retry.attempt":    fmt.Sprint(attempt),
			"retry.errorClass": string(class),
		})
		lastErr = err

		if class != ClassRetryable || attempt == policy.MaxRetries {
			span.SetStatusError(err)
			return toolapi.ToolResult{Success: false, Error: err.Error(), ToolName: tool.Name}, nil, err
		}

		backoff := backoffDuration(policy, attempt)
		inv.sleep(backoff)
	}
	return toolapi.ToolResult{}, nil, lastErr
}

func (inv *Invoker) timedAttempt(ctx context.Context, tool toolapi.ToolDefinition, input map[string]any, timeout time.Duration) (toolapi.ToolResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result toolapi.ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Invoker(attemptCtx, input)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-attemptCtx.Done():
		return toolapi.ToolResult{}, &ToolTimeoutError{ToolID: tool.ID}
	}
}

func backoffDuration(policy config.RetryPolicy, attempt int) time.Duration {
	base := float64(policy.BackoffMs) * pow2(attempt)
	if base > float64(policy.MaxBackoffMs) {
		base = float64(policy.MaxBackoffMs)
	}
	jitter := 0.0
	if policy.JitterMs > 0 {
		jitter = rand.Float64() * float64(policy.JitterMs)
	}
	return time.Duration(base+jitter) * time.Millisecond
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

func (inv *Invoker) tracerOrNoop() *telemetry.Tracer {
	return inv.Tracer
}

// validate checks that every required struct field is present, drops
// optional fields whose value is null (the strict-mode encoding of an absent
// field, see modelapi.Strictify), and copies the rest into a fresh map via
// mapstructure before the tool sees it. Field values are passed through as
// given: they are not coerced to the types the schema declares, and
// per-field constraints are left to the tool implementation.
func validate(schema *toolapi.Schema, input map[string]any) (map[string]any, error) {
	if schema == nil || schema.Kind != "struct" {
		return input, nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
		if _, ok := input[name]; !ok {
			return nil, fmt.Errorf("missing required field %q", name)
		}
	}
	present := make(map[string]any, len(input))
	for k, v := range input {
		if v == nil && !required[k] {
			continue
		}
		present[k] = v
	}

	decoded := make(map[string]any, len(input))
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &decoded,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(present); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return decoded, nil
}
