package provider

import (
	"fmt"
	"sync"
)

// Registry maps a provider id to its Provider implementation and owns the
// corresponding StreamEntry Manager. One Registry per process.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	managers  map[string]*Manager
	cfg       ManagerConfig
}

// NewRegistry constructs an empty registry using cfg for every registered
// provider's StreamEntry Manager.
func NewRegistry(cfg ManagerConfig) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		managers:  make(map[string]*Manager),
		cfg:       cfg,
	}
}

// Register adds p, keyed by p.ID(). Replaces any prior registration under
// the same id, stopping its old manager first.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.managers[p.ID()]; ok {
		old.Stop()
	}
	r.providers[p.ID()] = p
	r.managers[p.ID()] = NewManager(p, r.cfg)
}

// Get returns the provider and its stream-entry manager for id.
func (r *Registry) Get(id string) (Provider, *Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, nil, fmt.Errorf("provider: unknown provider %q", id)
	}
	return p, r.managers[id], nil
}

// IDs returns all registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}

// Shutdown stops every provider's Manager.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.managers {
		m.Stop()
	}
}
