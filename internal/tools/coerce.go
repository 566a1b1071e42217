package tools

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/structflow/structflow/internal/schema"
)

// parseArguments decodes the raw argument object the model produced. An
// empty string is treated as no arguments.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// coerceArguments converts loosely typed values to the declared parameter
// types where the conversion is lossless, e.g. "52.52" for a float or 3 for
// a string. Anything it cannot convert is left for validation to reject.
func coerceArguments(d *schema.Descriptor, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	if d == nil {
		return out
	}
	for _, f := range d.Fields() {
		v, ok := out[f.Name]
		if !ok || v == nil {
			continue
		}
		out[f.Name] = coerceValue(f.Type, f.Items, f.Fields, v)
	}
	return out
}

func coerceValue(t, items schema.DataType, fields *schema.Descriptor, v any) any {
	switch t {
	case schema.Int, schema.Float:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n
			}
		}
	case schema.Bool:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case schema.String, schema.LiteralSet:
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(x)
		}
	case schema.List:
		list, ok := v.([]any)
		if !ok {
			if s, isStr := v.(string); isStr && strings.HasPrefix(strings.TrimSpace(s), "[") {
				if err := json.Unmarshal([]byte(s), &list); err != nil {
					return v
				}
			} else {
				return v
			}
		}
		if items == "" {
			return list
		}
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = coerceValue(items, "", fields, e)
		}
		return out
	case schema.Object:
		if m, ok := v.(map[string]any); ok && fields != nil {
			return coerceArguments(fields, m)
		}
	}
	return v
}
