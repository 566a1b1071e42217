package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured backends. It is filled once at startup and
// only read afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if id == "" {
		return fmt.Errorf("provider has no id")
	}
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", id)
	}
	return p, nil
}

// Resolve returns the provider serving ref and the bare model id to send.
func (r *Registry) Resolve(ref ModelRef) (Provider, string, error) {
	if !ref.Valid() {
		return nil, "", fmt.Errorf("invalid model ref %q", ref)
	}
	p, err := r.Get(ref.Provider())
	if err != nil {
		return nil, "", err
	}
	return p, ref.Model(), nil
}

// List returns the registered providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
