package toolapi

import (
	"github.com/invopop/jsonschema"
)

// ReflectSchema derives a Schema AST from a Go value's type via reflection,
// for tool authors who describe their input as a struct instead of building
// a Schema literal by hand. It delegates the heavy lifting (field discovery,
// JSON tag handling, required-field detection) to invopop/jsonschema and
// then folds that generic *jsonschema.Schema tree into the runtime's own
// Schema AST, the single representation the strict-mode rewrite (see
// modelapi.Strictify) and the invoker's validation step both operate on.
func ReflectSchema(v any) *Schema {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:             true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	return convertSchema(reflector.Reflect(v))
}

func convertSchema(js *jsonschema.Schema) *Schema {
	if js == nil {
		return nil
	}

	out := &Schema{Description: js.Description}

	switch js.Type {
	case "object":
		out.Kind = "struct"
		out.Required = append([]string{}, js.Required...)
		if js.Properties != nil {
			out.Fields = make(map[string]*Schema, js.Properties.Len())
			for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
				out.Fields[pair.Key] = convertSchema(pair.Value)
			}
		}
	case "array":
		out.Kind = "array"
		if js.Items != nil {
			out.Of = convertSchema(js.Items)
		}
	case "string":
		out.Kind = "string"
	case "number", "integer":
		out.Kind = "number"
	case "boolean":
		out.Kind = "boolean"
	default:
		out.Kind = "any"
	}
	return out
}
