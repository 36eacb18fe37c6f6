package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentrt/agentloop"
	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/convo"
	"github.com/kadirpekel/agentrt/gate"
	"github.com/kadirpekel/agentrt/handoff"
	"github.com/kadirpekel/agentrt/invoker"
	"github.com/kadirpekel/agentrt/mcp"
	"github.com/kadirpekel/agentrt/router"
	"github.com/kadirpekel/agentrt/streamevt"
	"github.com/kadirpekel/agentrt/telemetry"
	"github.com/kadirpekel/agentrt/toolapi"
)

// DefaultMaxMessageLength bounds an inbound user message; 0 on Engine means
// no bound is enforced.
const DefaultMaxMessageLength = 32_000

// Engine is the Turn Coordinator (C9): the single process-wide value that
// wires the Router, Tool Registry, Tool Gate, Tool Invoker (via the Agent
// Step Loop), MCP Client Registry, and Conversation Store together, and
// drives the eight-step per-turn flow of §4.9.
type Engine struct {
	Tools            *toolapi.Registry
	MCP              *mcp.Registry
	Gate             *gate.Gate
	Loop             *agentloop.Loop
	Router           *router.Router
	Store            convo.ConversationStore
	Agents           map[string]*config.AgentConfig
	Tracer           *telemetry.Tracer
	MaxMessageLength int

	clock     func() time.Time
	randToken func() string
	newID     func() string
}

func New(tools *toolapi.Registry, mcpRegistry *mcp.Registry, g *gate.Gate, loop *agentloop.Loop, rtr *router.Router, store convo.ConversationStore, tracer *telemetry.Tracer) *Engine {
	e := &Engine{
		Tools:            tools,
		MCP:              mcpRegistry,
		Gate:             g,
		Loop:             loop,
		Router:           rtr,
		Store:            store,
		Agents:           make(map[string]*config.AgentConfig),
		Tracer:           tracer,
		MaxMessageLength: DefaultMaxMessageLength,
		clock:            time.Now,
		randToken:        func() string { return uuid.NewString()[:8] },
		newID:            uuid.NewString,
	}
	e.registerHandoffTool()
	return e
}

// RegisterAgent makes cfg reachable by id for routing and handoff targets.
func (e *Engine) RegisterAgent(cfg *config.AgentConfig) {
	e.Agents[cfg.ID] = cfg
	e.registerHandoffTool()
}

// DiscoverAndRegisterMCPTools pulls every connected MCP server's tools into
// the Tool Registry as namespaced proxy definitions. Intended for startup,
// not per-turn use; it returns every per-tool registration error without
// aborting on the first one.
func (e *Engine) DiscoverAndRegisterMCPTools(ctx context.Context) []error {
	if e.MCP == nil || e.Tools == nil {
		return nil
	}
	var errs []error
	for _, def := range e.MCP.DiscoverAll(ctx) {
		if err := e.Tools.RegisterTool(def); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateMessage(message string, maxLen int) error {
	if strings.TrimSpace(message) == "" {
		return &MessageValidationError{Reason: "message is empty"}
	}
	if maxLen > 0 && len(message) > maxLen {
		return &MessageValidationError{Reason: fmt.Sprintf("message exceeds max length %d", maxLen)}
	}
	return nil
}

func (e *Engine) mintConversationID() string {
	return fmt.Sprintf("conv_%d_%s", e.clock().UnixMilli(), e.randToken())
}

// ProcessMessage implements the non-streaming Turn API: validate, resolve a
// conversation id, load history, route, run the agent chain (or accept a
// precomputed response), persist, and return.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, message string, pctx *gate.PolicyContext) (*Response, error) {
	if err := validateMessage(message, e.MaxMessageLength); err != nil {
		return nil, err
	}

	convID := conversationID
	if convID == "" {
		convID = e.mintConversationID()
	}

	ctx, span := e.Tracer.StartSpan(ctx, "turn.process", map[string]string{"conversationId": convID})
	defer span.End()

	history, err := e.Store.GetHistory(ctx, convID)
	if err != nil {
		span.SetStatusError(err)
		return nil, err
	}

	target := e.Router.Route(message)

	if target.PrecomputedResponse != nil {
		content := *target.PrecomputedResponse
		if err := e.persistPrecomputed(ctx, convID, message, content); err != nil {
			span.SetStatusError(err)
			return nil, err
		}
		return &Response{ConversationID: convID, Content: content}, nil
	}

	agentID := target.AgentID
	if agentID == "" {
		err := fmt.Errorf("router produced no actionable target (kind=%s)", target.Kind)
		span.SetStatusError(err)
		return nil, err
	}
	agentCfg, ok := e.Agents[agentID]
	if !ok {
		err := fmt.Errorf("router selected unknown agent '%s'", agentID)
		span.SetStatusError(err)
		return nil, err
	}

	result, handoffInfo, err := e.runAgentChain(ctx, convID, agentID, message, history, pctx, target.IntentID, false, nil, nil)
	if err != nil {
		span.SetStatusError(err)
		return nil, &RouteExecutionError{Agent: agentID, Err: err}
	}

	if result.Paused != nil {
		return &Response{
			ConversationID: convID,
			Paused: &PausedApproval{
				ConversationID: convID,
				ToolID:         pausedToolID(result.Paused),
				Prompt:         result.Paused.Prompt,
				TTLMs:          result.Paused.TTLMs,
			},
		}, nil
	}

	if agentCfg.PersistHistory() {
		if err := e.persistResult(ctx, convID, message, result); err != nil {
			span.SetStatusError(err)
			return nil, err
		}
	}

	resp := &Response{ConversationID: convID, Content: result.Content, ToolCalls: result.ToolCalls, Usage: result.Usage}
	if handoffInfo != nil {
		resp.Handoff = handoffInfo
	}
	return resp, nil
}

// StreamMessage is the streaming Turn API: it performs the identical flow on
// a background goroutine, emitting run-start/.../run-end events to the
// returned channel, which is closed once the turn ends.
func (e *Engine) StreamMessage(ctx context.Context, conversationID, message string, pctx *gate.PolicyContext) (<-chan streamevt.Event, error) {
	if err := validateMessage(message, e.MaxMessageLength); err != nil {
		return nil, err
	}

	convID := conversationID
	if convID == "" {
		convID = e.mintConversationID()
	}

	history, err := e.Store.GetHistory(ctx, convID)
	if err != nil {
		return nil, err
	}

	target := e.Router.Route(message)
	runID := e.newID()
	pipeline := streamevt.NewPipeline(runID, convID, 64, func() int64 { return e.clock().UnixMilli() })
	cancelled := ctx.Done()

	go func() {
		defer pipeline.Close()
		start := e.clock()
		pipeline.RunStart(streamevt.RunStartInput{Message: message, PreviousMessages: len(history)}, cancelled)

		ctx, span := e.Tracer.StartSpan(ctx, "turn.stream", map[string]string{"conversationId": convID})
		defer span.End()

		finish := func(res streamevt.RunEndResult) {
			pipeline.RunEnd(e.clock().UnixMilli(), e.clock().Sub(start).Milliseconds(), res, cancelled)
		}

		if target.PrecomputedResponse != nil {
			content := *target.PrecomputedResponse
			if err := e.persistPrecomputed(ctx, convID, message, content); err != nil {
				span.SetStatusError(err)
			}
			finish(streamevt.RunEndResult{Content: content})
			return
		}

		agentID := target.AgentID
		if agentID == "" {
			span.SetStatusError(fmt.Errorf("router produced no actionable target (kind=%s)", target.Kind))
			finish(streamevt.RunEndResult{})
			return
		}
		agentCfg, ok := e.Agents[agentID]
		if !ok {
			span.SetStatusError(fmt.Errorf("router selected unknown agent '%s'", agentID))
			finish(streamevt.RunEndResult{})
			return
		}

		result, handoffInfo, err := e.runAgentChain(ctx, convID, agentID, message, history, pctx, target.IntentID, true, pipeline, cancelled)
		if err != nil {
			span.SetStatusError(err)
			finish(streamevt.RunEndResult{})
			return
		}
		if result.Paused != nil {
			finish(streamevt.RunEndResult{})
			return
		}

		if agentCfg.PersistHistory() {
			if err := e.persistResult(ctx, convID, message, result); err != nil {
				span.SetStatusError(err)
			}
		}

		endResult := streamevt.RunEndResult{Content: result.Content, Usage: &result.Usage}
		for _, tc := range result.ToolCalls {
			endResult.ToolCalls = append(endResult.ToolCalls, streamevt.ResultToolCall{
				ToolID: tc.ToolID, Args: tc.Args, Result: tc.Result, Error: tc.Error,
			})
		}
		if handoffInfo != nil {
			endResult.Handoff = &streamevt.HandoffResult{AgentID: handoffInfo.ToAgentID}
		}
		finish(endResult)
	}()

	return pipeline.Out(), nil
}

// runAgentChain runs the Agent Step Loop against startAgentID, then drives
// the Handoff Controller for any chained targets. It re-reads persisted
// history from the store before each hop (there is nothing new to re-read
// mid-turn, since persistence happens only at turn end, but this keeps the
// behavior correct if another turn committed concurrently).
func (e *Engine) runAgentChain(
	ctx context.Context,
	convID, startAgentID, message string,
	initialHistory []convo.Message,
	pctx *gate.PolicyContext,
	intentID string,
	streaming bool,
	pipeline *streamevt.Pipeline,
	cancelled <-chan struct{},
) (agentloop.Result, *HandoffInfo, error) {
	var lastResult agentloop.Result
	lastAgentID := ""
	first := true

	runStep := func(ctx context.Context, agentID, msg string) (handoff.Outcome, error) {
		agentCfg, ok := e.Agents[agentID]
		if !ok {
			return handoff.Outcome{}, fmt.Errorf("unknown agent '%s'", agentID)
		}

		// One message-start per agent message, including each handoff hop,
		// per §6's message-start{messageId, step:0, role:"assistant"}.
		if streaming && pipeline != nil {
			if !pipeline.MessageStart(e.newID(), cancelled) {
				return handoff.Outcome{}, nil
			}
		}

		h := initialHistory
		if !first {
			var err error
			h, err = e.Store.GetHistory(ctx, convID)
			if err != nil {
				return handoff.Outcome{}, err
			}
		}
		first = false

		allowed := e.allowedToolIDs(agentCfg, pctx, intentID)
		res, err := e.Loop.Run(ctx, agentloop.RunInput{
			Agent:          agentCfg,
			SystemPrompt:   agentCfg.SystemPromptTemplate,
			History:        h,
			UserMessage:    msg,
			AllowedToolIDs: allowed,
			PolicyContext:  pctx,
			IntentID:       intentID,
			Streaming:      streaming,
			Pipeline:       pipeline,
			Cancelled:      cancelled,
		})
		if err != nil {
			return handoff.Outcome{}, err
		}
		lastResult = res
		lastAgentID = agentID
		return handoff.Outcome{Content: res.Content, Handoff: res.Handoff}, nil
	}

	emit := func(from, to, msg, ctxStr string, depth int) bool {
		if pipeline == nil {
			return true
		}
		return pipeline.HandoffStart(from, to, msg, ctxStr, depth, cancelled)
	}

	firstOutcome, err := runStep(ctx, startAgentID, message)
	if err != nil {
		return agentloop.Result{}, nil, err
	}

	controller := handoff.New(runStep, emit)
	controller.Continue(ctx, startAgentID, message, firstOutcome)

	var handoffInfo *HandoffInfo
	if lastAgentID != "" && lastAgentID != startAgentID {
		handoffInfo = &HandoffInfo{FromAgentID: startAgentID, ToAgentID: lastAgentID}
	}
	return lastResult, handoffInfo, nil
}

// allowedToolIDs resolves an agent's declared tools plus the reserved
// handoff tool through the Tool Gate, per §4.3/§4.5's "pass the filtered set
// to the model" contract.
func (e *Engine) allowedToolIDs(agentCfg *config.AgentConfig, pctx *gate.PolicyContext, intentID string) map[string]bool {
	candidates := append(append([]string{}, agentCfg.ToolIDs...), handoff.ReservedToolID)

	gctx := gate.PolicyContext{}
	if pctx != nil {
		gctx = *pctx
	}
	gctx.AgentID = agentCfg.ID
	gctx.IntentID = intentID

	allowedList := candidates
	if e.Gate != nil {
		allowedList, _ = e.Gate.Filter(candidates, gctx)
	}
	out := make(map[string]bool, len(allowedList))
	for _, id := range allowedList {
		out[id] = true
	}
	return out
}

func pausedToolID(p *invoker.PauseSignal) string {
	if p == nil {
		return ""
	}
	return p.ToolID
}
