package modelapi

import (
	"sort"

	"github.com/kadirpekel/agentrt/toolapi"
)

// Strictify rewrites a schema for providers that require every declared
// struct property to appear in "required": optional fields become
// required-but-nullable. It is a pure AST transform — the input is never
// mutated, a new tree is returned. Decoding a "null" for a field rewritten
// this way is the invoker's signal that the field is absent.
func Strictify(s *toolapi.Schema) *toolapi.Schema {
	if s == nil {
		return nil
	}
	out := &toolapi.Schema{
		Kind:        s.Kind,
		Description: s.Description,
		Literal:     s.Literal,
	}
	if s.Of != nil {
		out.Of = Strictify(s.Of)
	}
	if s.Kind != "struct" {
		return out
	}

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	out.Fields = make(map[string]*toolapi.Schema, len(s.Fields))
	out.Required = make([]string, 0, len(s.Fields))
	for name, field := range s.Fields {
		rewritten := Strictify(field)
		if !required[name] {
			rewritten = &toolapi.Schema{Kind: "nullOr", Of: rewritten}
		}
		out.Fields[name] = rewritten
		out.Required = append(out.Required, name)
	}
	sort.Strings(out.Required)
	return out
}
