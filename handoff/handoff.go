// Package handoff implements the Handoff Controller (C7): detecting a
// successful call to the reserved handoff_to_agent tool and continuing a
// turn against the named target agent, up to a bounded depth.
package handoff

import (
	"context"
	"log/slog"

	"github.com/kadirpekel/agentrt/internal/obslog"
)

// MaxHandoffDepth bounds the chain length; depth 11 is never reached.
const MaxHandoffDepth = 10

// ReservedToolID is the tool name that signals a handoff.
const ReservedToolID = "handoff_to_agent"

// Signal is what a successful handoff_to_agent call produces.
type Signal struct {
	AgentID string
	Message string
	Context string
}

// Outcome is the generic shape of one agent step's result, as far as the
// controller cares: text produced plus an optional pending handoff.
type Outcome struct {
	Content string
	Handoff *Signal
}

// StepFunc runs one agent against a continuation message and returns its
// outcome. The Turn Coordinator supplies this (it closes over the Agent
// Step Loop), keeping this package free of a direct agentloop dependency.
type StepFunc func(ctx context.Context, agentID, message string) (Outcome, error)

// EmitHandoffStart reports a handoff-start event to the stream; it returns
// false if the consumer has cancelled, mirroring streamevt.Pipeline.Emit.
type EmitHandoffStart func(fromAgentID, toAgentID, message, context string, depth int) bool

type Controller struct {
	RunStep StepFunc
	Emit    EmitHandoffStart
	log     *slog.Logger
}

func New(runStep StepFunc, emit EmitHandoffStart) *Controller {
	return &Controller{RunStep: runStep, Emit: emit, log: obslog.New("handoff.controller")}
}

// Continue drives the handoff chain starting from fromAgentID's first
// outcome. It returns the final outcome once no further handoff is pending,
// the depth cap is hit, or a target agent is unknown.
func (c *Controller) Continue(ctx context.Context, fromAgentID, originalMessage string, first Outcome) Outcome {
	outcome := first
	from := fromAgentID
	depth := 0

	for outcome.Handoff != nil {
		if depth+1 > MaxHandoffDepth {
			c.log.Warn("handoff depth limit reached; terminating chain", "from", from, "depth", depth)
			outcome.Handoff = nil
			return outcome
		}

		sig := outcome.Handoff
		message := sig.Message
		if message == "" {
			message = originalMessage
		}
		if sig.Context != "" {
			message = message + "\n" + sig.Context
		}

		depth++
		if c.Emit != nil {
			if !c.Emit(from, sig.AgentID, message, sig.Context, depth) {
				outcome.Handoff = nil
				return outcome
			}
		}

		next, err := c.RunStep(ctx, sig.AgentID, message)
		if err != nil {
			c.log.Warn("handoff target agent failed or is unknown; ending chain", "target", sig.AgentID, "err", err)
			outcome.Handoff = nil
			return outcome
		}

		from = sig.AgentID
		outcome = next
	}

	return outcome
}
