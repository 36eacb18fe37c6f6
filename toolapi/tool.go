// Package toolapi defines the tool-side data model shared by the registry,
// gate, and invoker: ToolDefinition, its schema representation, capability
// inference, and the function signature a tool implements.
package toolapi

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Capability tags inferred or supplied for a tool.
const (
	CapRead        = "read"
	CapDestructive = "destructive"
	CapExternal    = "external"
)

// Schema is the tagged AST §9 calls for: a small, shared representation for
// tool input/output schemas, with a single place to express the strict-mode
// optional-to-nullable rewrite (see modelapi.Strictify).
type Schema struct {
	Kind        string // "struct", "string", "number", "boolean", "array", "nullOr", "literal", "any"
	Fields      map[string]*Schema
	Required    []string
	Description string
	Of          *Schema // element schema for "array"/"nullOr"
	Literal     any
}

// Field descriptions/top-level description are what capability inference's
// "external" rule scans.
func (s *Schema) allDescriptions() []string {
	if s == nil {
		return nil
	}
	out := []string{s.Description}
	for _, f := range s.Fields {
		out = append(out, f.allDescriptions()...)
	}
	if s.Of != nil {
		out = append(out, s.Of.allDescriptions()...)
	}
	return out
}

// ToolResult is what a tool invocation (success or failure) produces.
type ToolResult struct {
	Success  bool
	Output   any
	Error    string
	ToolName string
}

// InvokeFunc is the function signature a ToolDefinition's Invoker implements.
type InvokeFunc func(ctx context.Context, input map[string]any) (ToolResult, error)

// ToolDefinition is the immutable record the Tool Registry owns.
type ToolDefinition struct {
	ID           string
	Name         string
	Description  string
	InputSchema  *Schema
	SuccessSchema *Schema
	FailureSchema *Schema
	Strict       bool
	Capabilities []string // manual ∪ inferred, manual first in insertion order
	Invoker      InvokeFunc
}

var (
	readPattern        = regexp.MustCompile(`(?i)\b(get|list|read|search|fetch|lookup|show|describe)\b`)
	destructivePattern = regexp.MustCompile(`(?i)\b(delete|remove|drop|destroy|purge|wipe)\b`)
	externalPattern    = regexp.MustCompile(`(?i)(endpoint|remote api|callback url|http)`)
)

// InferCapabilities is pure and deterministic: it never mutates def and
// never removes a capability the caller already supplied manually.
//
// Rules (§4.1), applied in order and unioned:
//  1. id/name matches read-verb word boundaries -> "read"
//  2. id/name matches destructive-verb word boundaries -> "destructive"
//  3. schema description (top-level or any property) mentions an
//     endpoint/remote-API/callback phrase -> "external"
func InferCapabilities(def ToolDefinition) []string {
	manual := make([]string, len(def.Capabilities))
	copy(manual, def.Capabilities)

	seen := make(map[string]bool, len(manual))
	for _, c := range manual {
		seen[c] = true
	}

	inferred := make(map[string]bool)
	// Underscores and hyphens separate words in ids such as "search_docs".
	haystack := strings.NewReplacer("_", " ", "-", " ").Replace(def.ID + " " + def.Name)
	if readPattern.MatchString(haystack) {
		inferred[CapRead] = true
	}
	if destructivePattern.MatchString(haystack) {
		inferred[CapDestructive] = true
	}
	for _, desc := range def.InputSchema.allDescriptions() {
		if externalPattern.MatchString(desc) {
			inferred[CapExternal] = true
			break
		}
	}

	out := make([]string, 0, len(manual)+len(inferred))
	out = append(out, manual...)

	extra := make([]string, 0, len(inferred))
	for cap := range inferred {
		if !seen[cap] {
			extra = append(extra, cap)
		}
	}
	sort.Strings(extra)
	out = append(out, extra...)
	return out
}

// HasCapability reports whether def carries the given tag, after inference.
func HasCapability(caps []string, tag string) bool {
	for _, c := range caps {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}
