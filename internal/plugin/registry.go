package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the mounted protocol plugins
type Registry struct {
	plugins map[string]ProtocolPlugin
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]ProtocolPlugin)}
}

// Register adds a plugin; IDs must be unique
func (r *Registry) Register(p ProtocolPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Info().ID
	if id == "" {
		return fmt.Errorf("plugin has no id")
	}
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("plugin %q already registered", id)
	}
	r.plugins[id] = p
	return nil
}

// Get looks a plugin up by ID
func (r *Registry) Get(id string) (ProtocolPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// List returns the plugins sorted by ID
func (r *Registry) List() []ProtocolPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ProtocolPlugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Info().ID < list[j].Info().ID
	})
	return list
}

// ShutdownAll shuts every plugin down and returns the first error
func (r *Registry) ShutdownAll(ctx context.Context) error {
	var first error
	for _, p := range r.List() {
		if err := p.Shutdown(ctx); err != nil && first == nil {
			first = fmt.Errorf("shutdown %s: %w", p.Info().ID, err)
		}
	}
	return first
}
