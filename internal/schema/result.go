package schema

import (
	"encoding/json"
	"fmt"
)

// Result is a validated model output. Values are normalized: ints are
// int64, floats are float64, lists are []any and objects with a declared
// shape are nested Results. Declared optional fields without a value are
// present with a nil value.
type Result map[string]any

// Lookup returns the raw value and whether the key is present.
func (r Result) Lookup(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// IsNull reports whether name is absent or explicitly null.
func (r Result) IsNull(name string) bool {
	return r[name] == nil
}

func (r Result) String(name string) string {
	s, _ := r[name].(string)
	return s
}

func (r Result) Int(name string) int64 {
	n, _ := toInt(r[name])
	return n
}

func (r Result) Float(name string) float64 {
	n, _ := toFloat(r[name])
	return n
}

func (r Result) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

func (r Result) List(name string) []any {
	l, _ := asSlice(r[name])
	return l
}

// Strings returns a list field as strings, skipping non-string elements.
func (r Result) Strings(name string) []string {
	var out []string
	for _, v := range r.List(name) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Object returns a nested object field.
func (r Result) Object(name string) Result {
	m, ok := asMap(r[name])
	if !ok {
		return nil
	}
	return Result(m)
}

// Text renders the result as indented JSON, the form used when a result is
// handed to the next model call.
func (r Result) Text() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(r))
	}
	return string(data)
}
