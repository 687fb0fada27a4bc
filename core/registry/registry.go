// Package registry manages entity definition registration. The
// registry is an explicit object owned by the application bootstrap,
// not module-level state, so tests can create and discard their own.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stratakit/strata/core/entity"
)

// Registry holds all entity definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*entity.Definition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		defs: make(map[string]*entity.Definition),
	}
}

// Register adds a definition. Duplicate names are rejected; entity
// names are process-unique.
func (r *Registry) Register(d *entity.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[d.Name()]; exists {
		return fmt.Errorf("entity %q already registered", d.Name())
	}

	r.defs[d.Name()] = d
	return nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (*entity.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*entity.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*entity.Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name() < defs[j].Name()
	})
	return defs
}

// BuildAll builds every registered definition that is not yet built.
// The first failure stops the pass.
func (r *Registry) BuildAll(ctx context.Context) error {
	for _, d := range r.List() {
		if d.Built() {
			continue
		}
		if err := d.Build(ctx); err != nil {
			return fmt.Errorf("build entity %q: %w", d.Name(), err)
		}
	}
	return nil
}

// Interface check: definitions register themselves through this.
var _ entity.Registrar = (*Registry)(nil)
