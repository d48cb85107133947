package automation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Registry holds the active set of automations in memory, reloaded from
// Postgres on mutation, the same copy-on-write snapshot pattern
// internal/registry and internal/subscription use so event dispatch never
// blocks on a database round trip.
type Registry struct {
	ptr atomic.Pointer[[]Automation]
	mu  sync.Mutex
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := []Automation{}
	r.ptr.Store(&empty)
	return r
}

// Active returns the current snapshot of active automations.
func (r *Registry) Active() []Automation {
	return *r.ptr.Load()
}

// Reload replaces the snapshot with defs, which the caller has already
// filtered to active, compiled automations.
func (r *Registry) Reload(defs []Automation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make([]Automation, len(defs))
	copy(snap, defs)
	r.ptr.Store(&snap)
}

// LoadFromStore reloads the registry from the automation table, including
// only rows with status = active.
func (r *Registry) LoadFromStore(ctx context.Context, s *Store) error {
	defs, err := s.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("automation: load registry: %w", err)
	}
	r.Reload(defs)
	return nil
}
