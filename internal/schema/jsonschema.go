package schema

import "github.com/google/jsonschema-go/jsonschema"

// JSONSchema converts d into a JSON Schema object suitable for a tool
// parameter declaration. Optional fields accept null.
func JSONSchema(d *Descriptor) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.fields)),
	}
	for _, f := range d.fields {
		p := fieldSchema(f)
		p.Description = f.Description
		if f.Required {
			s.Required = append(s.Required, f.Name)
		} else {
			nullable(p)
		}
		s.Properties[f.Name] = p
	}
	return s
}

func fieldSchema(f Field) *jsonschema.Schema {
	switch f.Type {
	case String:
		return &jsonschema.Schema{Type: "string"}
	case Int:
		return &jsonschema.Schema{Type: "integer"}
	case Float:
		return &jsonschema.Schema{Type: "number"}
	case Bool:
		return &jsonschema.Schema{Type: "boolean"}
	case LiteralSet:
		enum := make([]any, len(f.Values))
		for i, v := range f.Values {
			enum[i] = v
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	case List:
		s := &jsonschema.Schema{Type: "array"}
		if f.Items != "" {
			s.Items = fieldSchema(Field{Type: f.Items, Fields: f.Fields})
		}
		return s
	case Object:
		if f.Fields != nil {
			return JSONSchema(f.Fields)
		}
		return &jsonschema.Schema{Type: "object"}
	}
	return &jsonschema.Schema{}
}

func nullable(s *jsonschema.Schema) {
	if s.Type == "" {
		return
	}
	s.Types = []string{s.Type, "null"}
	s.Type = ""
	if len(s.Enum) > 0 {
		s.Enum = append(s.Enum, nil)
	}
}
