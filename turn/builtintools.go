package turn

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/agentrt/handoff"
	"github.com/kadirpekel/agentrt/toolapi"
)

// UnknownHandoffTargetError is the user-facing error the reserved
// handoff_to_agent tool fails with when the model names an agent the engine
// never registered, per §6's "causes the invoker to fail with a
// user-facing error listing available agents."
type UnknownHandoffTargetError struct {
	AgentID   string
	Available []string
}

func (e *UnknownHandoffTargetError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("handoff_to_agent: unknown agent %q; no agents are registered", e.AgentID)
	}
	return fmt.Sprintf("handoff_to_agent: unknown agent %q; available agents: %s", e.AgentID, strings.Join(e.Available, ", "))
}

// registerHandoffTool installs the reserved handoff_to_agent ToolDefinition
// into e.Tools, unless a caller already registered one of their own (tests
// that supply a stub invoker take precedence). Its invoker is the only
// place that validates a requested target against the live agent set; the
// Handoff Controller itself trusts a successful call completely.
func (e *Engine) registerHandoffTool() {
	if e.Tools == nil {
		return
	}
	if _, ok := e.Tools.Lookup(handoff.ReservedToolID); ok {
		return
	}
	_ = e.Tools.RegisterTool(toolapi.ToolDefinition{
		ID:          handoff.ReservedToolID,
		Name:        handoff.ReservedToolID,
		Description: "Transfer control of the current turn to another named agent.",
		Invoker:     e.invokeHandoffTool,
	})
}

func (e *Engine) invokeHandoffTool(ctx context.Context, input map[string]any) (toolapi.ToolResult, error) {
	agentID, _ := input["agentId"].(string)
	if agentID == "" {
		return toolapi.ToolResult{}, fmt.Errorf("handoff_to_agent: agentId is required")
	}
	if _, ok := e.Agents[agentID]; !ok {
		return toolapi.ToolResult{}, &UnknownHandoffTargetError{AgentID: agentID, Available: e.knownAgentIDs()}
	}

	message, _ := input["message"].(string)
	handoffContext, _ := input["context"].(string)
	return toolapi.ToolResult{
		Success: true,
		Output: map[string]any{
			"type":    "handoff",
			"agentId": agentID,
			"message": message,
			"context": handoffContext,
		},
	}, nil
}

// knownAgentIDs returns every registered agent id, sorted, for the
// unknown-target error message.
func (e *Engine) knownAgentIDs() []string {
	ids := make([]string, 0, len(e.Agents))
	for id := range e.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
