package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fhircore/fhircore/internal/storage"
)

// schemaEnsurer is the subset of storage.Store the registry needs to lazily
// create a resource type's tables the first time a parameter is registered
// against it. Narrowed to an interface so registry tests can substitute a
// fake without standing up a pool.
type schemaEnsurer interface {
	EnsureSchema(ctx context.Context, resourceType string) error
}

// snapshot is an immutable view of the registered parameters, swapped in
// whole by Register/Reload so concurrent readers never observe a partial
// update.
type snapshot struct {
	byTypeAndCode map[string]map[string]*SearchParameter
	byURL         map[string]*SearchParameter
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byTypeAndCode: make(map[string]map[string]*SearchParameter),
		byURL:         make(map[string]*SearchParameter),
	}
}

func (s *snapshot) clone() *snapshot {
	next := emptySnapshot()
	for rt, byCode := range s.byTypeAndCode {
		cp := make(map[string]*SearchParameter, len(byCode))
		for code, p := range byCode {
			cp[code] = p
		}
		next.byTypeAndCode[rt] = cp
	}
	for url, p := range s.byURL {
		next.byURL[url] = p
	}
	return next
}

func (s *snapshot) put(p *SearchParameter) {
	for _, base := range p.Base {
		byCode, ok := s.byTypeAndCode[base]
		if !ok {
			byCode = make(map[string]*SearchParameter)
			s.byTypeAndCode[base] = byCode
		}
		byCode[p.Code] = p
	}
	if p.URL != "" {
		s.byURL[p.URL] = p
	}
}

// Registry is the central (resource_type, code) -> SearchParameter lookup.
// Reads go through an atomic.Pointer snapshot so Lookup/ForType never take
// a lock; writers (Register/Reload) serialize on mu and install a new
// snapshot when they are done.
type Registry struct {
	store    schemaEnsurer
	mu       sync.Mutex // serializes writers; readers never take this
	current  atomic.Pointer[snapshot]
	ensured  sync.Map // resourceType -> struct{}, dedupes EnsureSchema calls
	ReloadCh chan struct{}
}

// New returns an empty Registry backed by store for lazy schema creation;
// a nil store disables schema creation.
// ReloadCh is buffered by one slot so a pending notification is never lost
// waiting for a slow consumer, matching the teacher's VersionTracker
// fan-out channel sizing.
func New(store *storage.Store) *Registry {
	r := &Registry{
		ReloadCh: make(chan struct{}, 1),
	}
	if store != nil {
		r.store = store
	}
	r.current.Store(emptySnapshot())
	return r
}

func (r *Registry) notifyReload() {
	select {
	case r.ReloadCh <- struct{}{}:
	default:
	}
}

func (r *Registry) ensureSchemaForBases(ctx context.Context, bases []string) error {
	if r.store == nil {
		return nil
	}
	for _, base := range bases {
		if base == "Resource" || base == "DomainResource" {
			continue
		}
		if _, already := r.ensured.Load(base); already {
			continue
		}
		if err := r.store.EnsureSchema(ctx, base); err != nil {
			return fmt.Errorf("registry: ensure schema for %s: %w", base, err)
		}
		r.ensured.Store(base, struct{}{})
	}
	return nil
}

// Register adds a single SearchParameter, lazily creating storage tables
// for any resource type in its Base list that has not been seen before.
// Registration is append-only: a second Register for the same
// (resourceType, code) pair overwrites the earlier definition, but nothing
// is ever removed except by a full Reload.
func (r *Registry) Register(ctx context.Context, p *SearchParameter) error {
	if p.Code == "" {
		return fmt.Errorf("registry: search parameter code is required")
	}
	if len(p.Base) == 0 {
		return fmt.Errorf("registry: search parameter %q has no base resource types", p.Code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureSchemaForBases(ctx, p.Base); err != nil {
		return err
	}

	next := r.current.Load().clone()
	next.put(p)
	r.current.Store(next)
	r.notifyReload()
	return nil
}

// Reload replaces the entire registered set in one atomic swap. Used when
// conformance resources (StructureDefinition/SearchParameter) change and
// the full set must be recomputed rather than incrementally patched.
func (r *Registry) Reload(ctx context.Context, defs []*SearchParameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	for _, p := range defs {
		if err := r.ensureSchemaForBases(ctx, p.Base); err != nil {
			return err
		}
		next.put(p)
	}
	r.current.Store(next)
	r.notifyReload()
	return nil
}

// Lookup finds the SearchParameter registered for resourceType under code,
// falling back to a Resource/DomainResource-scoped definition of the same
// code if no type-specific one was registered.
func (r *Registry) Lookup(resourceType, code string) (*SearchParameter, bool) {
	snap := r.current.Load()
	for _, base := range [...]string{resourceType, "DomainResource", "Resource"} {
		if byCode, ok := snap.byTypeAndCode[base]; ok {
			if p, ok := byCode[code]; ok {
				return p, true
			}
		}
	}
	return nil, false
}

// ByURL finds the SearchParameter with the given canonical URL.
func (r *Registry) ByURL(url string) (*SearchParameter, bool) {
	snap := r.current.Load()
	p, ok := snap.byURL[url]
	return p, ok
}

// ForType returns every SearchParameter applicable to resourceType,
// including Resource/DomainResource-scoped ones.
func (r *Registry) ForType(resourceType string) []*SearchParameter {
	snap := r.current.Load()
	seen := make(map[string]*SearchParameter)
	for _, wildcard := range []string{"Resource", "DomainResource", resourceType} {
		for code, p := range snap.byTypeAndCode[wildcard] {
			seen[code] = p
		}
	}
	out := make([]*SearchParameter, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out
}
