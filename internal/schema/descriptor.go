// Package schema describes the JSON objects a model is asked to produce.
// A Descriptor is the single source for the prompt instructions, the
// post-hoc validation of a response and the JSON Schema handed to tool
// declarations.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// DataType is the declared type of a field value.
type DataType string

const (
	String     DataType = "string"
	Int        DataType = "int"
	Float      DataType = "float"
	Bool       DataType = "bool"
	List       DataType = "list"
	Object     DataType = "object"
	LiteralSet DataType = "literal-set"
)

func (t DataType) valid() bool {
	switch t {
	case String, Int, Float, Bool, List, Object, LiteralSet:
		return true
	}
	return false
}

// Field is one key of the expected output object.
type Field struct {
	Name        string
	Description string
	Type        DataType
	Required    bool

	// Values is the allowed set for LiteralSet fields.
	Values []string
	// Items is the element type of a List field. Empty means any JSON value.
	Items DataType
	// Fields describes the shape of an Object field, or of each element of
	// a List field whose Items is Object. Nil means any JSON object.
	Fields *Descriptor
}

// Descriptor is an ordered, immutable list of fields.
type Descriptor struct {
	fields []Field
	index  map[string]int
}

// New builds a Descriptor. Field names must be non-empty and unique.
func New(fields ...Field) (*Descriptor, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema: at least one field is required")
	}
	d := &Descriptor{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, fmt.Errorf("schema: field %d has no name", i)
		}
		if _, dup := d.index[name]; dup {
			return nil, fmt.Errorf("schema: duplicate field %q", name)
		}
		if !f.Type.valid() {
			return nil, fmt.Errorf("schema: field %q has unknown type %q", name, f.Type)
		}
		if f.Type == LiteralSet && len(f.Values) == 0 {
			return nil, fmt.Errorf("schema: literal-set field %q has no allowed values", name)
		}
		if f.Items != "" && (f.Type != List || !f.Items.valid() || f.Items == LiteralSet) {
			return nil, fmt.Errorf("schema: field %q has invalid element type %q", name, f.Items)
		}
		f.Name = name
		f.Values = append([]string(nil), f.Values...)
		d.fields[i] = f
		d.index[name] = i
	}
	return d, nil
}

// MustNew is like New but panics on error. Intended for package-level
// declarations.
func MustNew(fields ...Field) *Descriptor {
	d, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return d
}

// Fields returns a copy of the fields in declaration order.
func (d *Descriptor) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Field looks up a field by name.
func (d *Descriptor) Field(name string) (Field, bool) {
	i, ok := d.index[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// Len returns the number of fields.
func (d *Descriptor) Len() int { return len(d.fields) }

// Required returns the names of the required fields in declaration order.
func (d *Descriptor) Required() []string {
	var names []string
	for _, f := range d.fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}
