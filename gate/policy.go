// Package gate implements the Tool Gate (C3): layered policy composition,
// allow/deny/requires-approval decisions, and the approval store.
package gate

import "fmt"

// ConflictResolution decides how a composite allow/deny membership resolves.
type ConflictResolution string

const (
	DenyOverrides  ConflictResolution = "deny-overrides"
	AllowOverrides ConflictResolution = "allow-overrides"
)

// ConditionOp is one of the predicate operators a PolicyRule condition uses.
type ConditionOp string

const (
	OpEquals    ConditionOp = "equals"
	OpNotEquals ConditionOp = "notEquals"
	OpIn        ConditionOp = "in"
	OpNotIn     ConditionOp = "notIn"
	OpExists    ConditionOp = "exists"
)

// Condition is a single role/userId/metadata predicate.
type Condition struct {
	Field string `yaml:"field"` // "role" | "userId" | "metadata.<key>"
	Op    ConditionOp `yaml:"op"`
	Value any `yaml:"value"` // string for equals/notEquals/exists(ignored); []string for in/notIn
}

// PolicyContext is the per-turn context a Condition is evaluated against.
type PolicyContext struct {
	Role     string
	UserID   string
	Metadata map[string]string
	IntentID string
	AgentID  string
}

func (c Condition) fieldValue(ctx PolicyContext) (string, bool) {
	switch {
	case c.Field == "role":
		return ctx.Role, ctx.Role != ""
	case c.Field == "userId":
		return ctx.UserID, ctx.UserID != ""
	case len(c.Field) > len("metadata.") && c.Field[:len("metadata.")] == "metadata.":
		key := c.Field[len("metadata."):]
		v, ok := ctx.Metadata[key]
		return v, ok
	default:
		return "", false
	}
}

func (c Condition) Matches(ctx PolicyContext) bool {
	value, exists := c.fieldValue(ctx)
	switch c.Op {
	case OpExists:
		return exists
	case OpEquals:
		s, _ := c.Value.(string)
		return exists && value == s
	case OpNotEquals:
		s, _ := c.Value.(string)
		return !exists || value != s
	case OpIn:
		list, _ := c.Value.([]string)
		if !exists {
			return false
		}
		for _, v := range list {
			if v == value {
				return true
			}
		}
		return false
	case OpNotIn:
		list, _ := c.Value.([]string)
		if !exists {
			return true
		}
		for _, v := range list {
			if v == value {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// PolicyRule is one layer's contribution: allow/deny/requireApproval tool-id
// sets, optionally gated by a Condition.
type PolicyRule struct {
	Allow              []string           `yaml:"allow"`
	Deny               []string           `yaml:"deny"`
	RequireApproval    []string           `yaml:"require_approval"`
	RequiredCategories []string           `yaml:"required_categories"`
	ConflictResolution ConflictResolution `yaml:"conflict_resolution"`
	Condition          *Condition         `yaml:"condition"`
}

func (r PolicyRule) resolution() ConflictResolution {
	if r.ConflictResolution == "" {
		return DenyOverrides
	}
	return r.ConflictResolution
}

func (r PolicyRule) applies(ctx PolicyContext) bool {
	return r.Condition == nil || r.Condition.Matches(ctx)
}

// Override is a PolicyBundle entry targeting a specific intent and/or agent.
type Override struct {
	ID       string     `yaml:"id"`
	IntentID string     `yaml:"intent_id"`
	AgentID  string     `yaml:"agent_id"`
	Rule     PolicyRule `yaml:"rule"`
}

// PolicyBundle is the full, immutable-after-construction policy set the
// gate evaluates against. Reloading (see Watcher) swaps the bundle pointer
// atomically; it never mutates a bundle already handed to a caller.
type PolicyBundle struct {
	Default       PolicyRule            `yaml:"default"`
	PerIntent     map[string]PolicyRule `yaml:"per_intent"`
	PerAgent      map[string]PolicyRule `yaml:"per_agent"`
	Overrides     []Override            `yaml:"overrides"`
	ApprovalTTLMs int64                 `yaml:"approval_ttl_ms"`
}

// Validate checks the invariants of §3: unique override ids, no override
// naming both an unknown intent and an unknown agent, and allow∩deny empty
// per rule.
func (b *PolicyBundle) Validate() error {
	if err := validateRule(b.Default); err != nil {
		return fmt.Errorf("default rule: %w", err)
	}
	for id, r := range b.PerIntent {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("intent rule '%s': %w", id, err)
		}
	}
	for id, r := range b.PerAgent {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("agent rule '%s': %w", id, err)
		}
	}
	seen := make(map[string]bool, len(b.Overrides))
	for _, o := range b.Overrides {
		if seen[o.ID] {
			return fmt.Errorf("duplicate override id '%s'", o.ID)
		}
		seen[o.ID] = true
		_, knownIntent := b.PerIntent[o.IntentID]
		_, knownAgent := b.PerAgent[o.AgentID]
		if o.IntentID != "" && !knownIntent && o.AgentID != "" && !knownAgent {
			return fmt.Errorf("override '%s' targets an unknown intent and an unknown agent", o.ID)
		}
		if err := validateRule(o.Rule); err != nil {
			return fmt.Errorf("override '%s': %w", o.ID, err)
		}
	}
	return nil
}

func validateRule(r PolicyRule) error {
	deny := make(map[string]bool, len(r.Deny))
	for _, d := range r.Deny {
		deny[d] = true
	}
	for _, a := range r.Allow {
		if deny[a] {
			return fmt.Errorf("allow and deny both name tool '%s'", a)
		}
	}
	return nil
}

// Decision is the final per-tool composite of §3's ToolGateDecision.
type Decision struct {
	ToolID          string
	Allowed         bool
	RequireApproval bool
	MatchedRules    int
	DeniedBy        string
}
