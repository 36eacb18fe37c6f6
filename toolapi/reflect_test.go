package toolapi

import "testing"

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=remote API endpoint to search"`
	Limit int    `json:"limit,omitempty"`
}

func TestReflectSchemaBuildsStructWithRequired(t *testing.T) {
	s := ReflectSchema(&searchArgs{})
	if s.Kind != "struct" {
		t.Fatalf("expected struct kind, got %s", s.Kind)
	}
	if _, ok := s.Fields["query"]; !ok {
		t.Fatalf("expected 'query' field, got %+v", s.Fields)
	}
	found := false
	for _, r := range s.Required {
		if r == "query" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'query' to be required, got %v", s.Required)
	}
}

func TestReflectSchemaFeedsCapabilityInference(t *testing.T) {
	def := ToolDefinition{ID: "search_remote", Name: "search_remote", InputSchema: ReflectSchema(&searchArgs{})}
	caps := InferCapabilities(def)
	if !HasCapability(caps, CapExternal) {
		t.Fatalf("expected 'external' capability from reflected description, got %v", caps)
	}
}
