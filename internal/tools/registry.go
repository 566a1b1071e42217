package tools

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type entry struct {
	desc     Descriptor
	params   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// Registry maps tool names to handlers. Tools are registered at startup and
// only read afterwards.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register validates the descriptor and compiles its parameter schema.
func (r *Registry) Register(desc Descriptor) error {
	if !toolNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("tool name %q must match %s", desc.Name, toolNamePattern)
	}
	if strings.TrimSpace(desc.Description) == "" {
		return fmt.Errorf("tool %q: description is required", desc.Name)
	}
	if desc.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", desc.Name)
	}

	params := &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}}
	if desc.Parameters != nil {
		params = schema.JSONSchema(desc.Parameters)
	}
	resolved, err := params.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %q: compile parameter schema: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("tool %q already registered", desc.Name)
	}
	r.entries[desc.Name] = &entry{desc: desc, params: params, resolved: resolved}
	r.order = append(r.order, desc.Name)
	return nil
}

// MustRegister panics on error; for static tool sets.
func (r *Registry) MustRegister(descs ...Descriptor) *Registry {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns the declarations sent to the model, in registration
// order.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		defs = append(defs, provider.ToolDefinition{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Parameters:  e.params,
		})
	}
	return defs
}

// Subset returns a registry holding only the named tools.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	sub := NewRegistry()
	for _, name := range names {
		e, ok := r.lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
		}
		if _, dup := sub.entries[name]; dup {
			continue
		}
		sub.entries[name] = e
		sub.order = append(sub.order, name)
	}
	return sub, nil
}
