package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Validate checks candidate against d and returns a new Result.
//
// Required fields must be present, non-null and of the declared type.
// Optional fields that are missing or null come back as an explicit nil
// entry. Keys not declared in d are dropped. candidate is never modified,
// and validating a returned Result again yields an equal Result.
func Validate(d *Descriptor, candidate map[string]any) (Result, error) {
	return validateObject(d, candidate, "")
}

func validateObject(d *Descriptor, candidate map[string]any, prefix string) (Result, error) {
	out := make(Result, len(d.fields))
	for _, f := range d.fields {
		path := prefix + f.Name
		v, present := candidate[f.Name]
		if !present || v == nil {
			if f.Required {
				reason := "required field is missing"
				if present {
					reason = "required field is null"
				}
				return nil, &ValidationError{Field: path, Reason: reason}
			}
			out[f.Name] = nil
			continue
		}
		nv, err := checkValue(f, v, path)
		if err != nil {
			return nil, err
		}
		out[f.Name] = nv
	}
	return out, nil
}

func checkValue(f Field, v any, path string) (any, error) {
	switch f.Type {
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(path, f.Type, v)
		}
		return s, nil
	case LiteralSet:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(path, f.Type, v)
		}
		if !slices.Contains(f.Values, s) {
			return nil, &ValidationError{
				Field:  path,
				Reason: fmt.Sprintf("value %q is not one of %q", s, f.Values),
			}
		}
		return s, nil
	case Int:
		n, ok := toInt(v)
		if !ok {
			return nil, typeError(path, f.Type, v)
		}
		return n, nil
	case Float:
		n, ok := toFloat(v)
		if !ok {
			return nil, typeError(path, f.Type, v)
		}
		return n, nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(path, f.Type, v)
		}
		return b, nil
	case List:
		return checkList(f, v, path)
	case Object:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(path, f.Type, v)
		}
		if f.Fields == nil {
			return copyMap(m), nil
		}
		return validateObject(f.Fields, m, path+".")
	}
	return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("unknown type %q", f.Type)}
}

func checkList(f Field, v any, path string) (any, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, typeError(path, List, v)
	}
	out := make([]any, len(items))
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if f.Items == "" {
			out[i] = item
			continue
		}
		if item == nil {
			return nil, &ValidationError{Field: itemPath, Reason: "list element is null"}
		}
		nv, err := checkValue(Field{Type: f.Items, Fields: f.Fields}, item, itemPath)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

func typeError(path string, want DataType, got any) error {
	return &ValidationError{
		Field:  path,
		Reason: fmt.Sprintf("expected %s, got %s", want, jsonKind(got)),
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any, []string:
		return "list"
	case map[string]any, Result:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, hence the strict bound.
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInt(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return toInt(f)
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Result:
		return map[string]any(m), true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
