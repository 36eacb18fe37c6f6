// Package turn implements the Turn Coordinator (C9): the top-level
// per-turn orchestrator gluing the Router, Agent Step Loop, and Handoff
// Controller, and persisting history at turn end.
package turn

import "fmt"

type MessageValidationError struct {
	Reason string
}

func (e *MessageValidationError) Error() string { return "message validation failed: " + e.Reason }

type RouteExecutionError struct {
	Agent string
	Err   error
}

func (e *RouteExecutionError) Error() string {
	return fmt.Sprintf("route execution failed for agent '%s': %v", e.Agent, e.Err)
}
func (e *RouteExecutionError) Unwrap() error { return e.Err }
