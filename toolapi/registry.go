package toolapi

import (
	"fmt"

	"github.com/kadirpekel/agentrt/registry"
)

// RegistryError follows the runtime's {Component, Operation, Message, Err}
// structured-error shape.
type RegistryError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *RegistryError) Unwrap() error { return e.Err }

func newRegistryError(op, msg string, err error) *RegistryError {
	return &RegistryError{Component: "ToolRegistry", Operation: op, Message: msg, Err: err}
}

// Registry is the Tool Registry (C1): the exclusive owner of ToolDefinition
// instances, keyed by id.
type Registry struct {
	*registry.BaseRegistry[ToolDefinition]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[ToolDefinition]()}
}

// RegisterTool runs capability inference on an immutable copy of def, then
// registers the enriched definition. Fails if the id already exists, or if
// Strict is set and no InputSchema was supplied.
func (r *Registry) RegisterTool(def ToolDefinition) error {
	if def.ID == "" {
		return newRegistryError("Register", "tool id cannot be empty", nil)
	}
	if def.Strict && def.InputSchema == nil {
		return newRegistryError("Register", fmt.Sprintf("tool '%s' is strict and requires an input schema", def.ID), nil)
	}

	enriched := def
	enriched.Capabilities = InferCapabilities(def)

	if err := r.Register(def.ID, enriched); err != nil {
		return newRegistryError("Register", fmt.Sprintf("tool '%s'", def.ID), err)
	}
	return nil
}

// Lookup fetches one tool by id.
func (r *Registry) Lookup(id string) (ToolDefinition, bool) {
	return r.Get(id)
}

// Normalize returns definitions in the requested order, skipping unknown ids.
func (r *Registry) Normalize(ids []string) []ToolDefinition {
	out := make([]ToolDefinition, 0, len(ids))
	for _, id := range ids {
		if def, ok := r.Get(id); ok {
			out = append(out, def)
		}
	}
	return out
}

// FilterByNames returns the subset of registered tools whose Name is in the
// given set, in registry order.
func (r *Registry) FilterByNames(names map[string]bool) []ToolDefinition {
	out := make([]ToolDefinition, 0, len(names))
	for _, def := range r.List() {
		if names[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// ListMissing reports which of the given ids are not currently registered.
func (r *Registry) ListMissing(ids []string) []string {
	out := make([]string, 0)
	for _, id := range ids {
		if _, ok := r.Get(id); !ok {
			out = append(out, id)
		}
	}
	return out
}
