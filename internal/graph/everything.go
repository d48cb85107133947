package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/fhircore/fhircore/internal/codec"
	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxEverythingResources bounds the total resources $everything will
// accumulate before it stops recursing, per §4.5's 10,000-resource safety
// bound (chiefly to keep $everything(Group) from unrolling an unbounded
// membership list into an unbounded union of patient records).
const MaxEverythingResources = 10000

// EverythingParams are the operation's query parameters. Count is a
// per-type limit, not a page size: $everything does not paginate across
// types, it caps how many rows each compartment edge contributes.
type EverythingParams struct {
	Since time.Time
	Start time.Time
	End   time.Time
	Types map[string]bool // nil means no _type filter
	Count int             // 0 means unbounded
}

// Everything runs $everything for a Patient, Encounter, or Group focal
// resource, returning a searchset Bundle.
type Everything struct {
	store *storage.Store
	pool  *pgxpool.Pool
}

func NewEverything(store *storage.Store, pool *pgxpool.Pool) *Everything {
	return &Everything{store: store, pool: pool}
}

// Run loads the focal resource and walks its compartment, returning a
// searchset Bundle containing the focal resource plus every compartment
// member found.
func (e *Everything) Run(ctx context.Context, focalType, focalID string, params EverythingParams) (*codec.Bundle, error) {
	focal, err := e.store.Read(ctx, focalType, focalID)
	if err != nil {
		return nil, fmt.Errorf("graph: $everything load focal %s/%s: %w", focalType, focalID, err)
	}

	acc := newAccumulator(params.Count, MaxEverythingResources)
	acc.add(focalType, focalID, focal.Content)

	switch focalType {
	case "Group":
		if err := e.walkGroup(ctx, focal, params, acc); err != nil {
			return nil, err
		}
	default:
		def := compartmentFor(focalType)
		if def == nil {
			return nil, fmt.Errorf("graph: $everything not supported for focal type %q", focalType)
		}
		if err := e.walkCompartment(ctx, def, focalID, params, acc); err != nil {
			return nil, err
		}
	}

	return codec.NewSearchsetBundle(acc.entries), nil
}

// walkCompartment issues one bounded reverse-reference lookup per
// (resourceType, linking param) pair in def and accumulates every match
// that survives the since/start/end/_type filters.
func (e *Everything) walkCompartment(ctx context.Context, def *Definition, focalID string, params EverythingParams, acc *accumulator) error {
	for resourceType, linkParams := range def.Resources {
		if acc.full() {
			return nil
		}
		if params.Types != nil && !params.Types[resourceType] {
			continue
		}
		for _, param := range linkParams {
			ids, err := e.referencingIDs(ctx, resourceType, param, def.FocalType, focalID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if acc.full() || acc.seen(resourceType, id) || acc.typeFull(resourceType) {
					continue
				}
				env, err := e.store.Read(ctx, resourceType, id)
				if err != nil {
					continue // dangling index entry or since-deleted row: omit
				}
				if !withinWindow(env.LastUpdated, params) {
					continue
				}
				acc.add(resourceType, id, env.Content)
			}
		}
	}
	return nil
}

// walkGroup resolves every current Patient member of a Group and unions
// each member's own Patient-compartment $everything, per §4.5's Group
// recursion rule.
func (e *Everything) walkGroup(ctx context.Context, group *storage.ResourceEnvelope, params EverythingParams, acc *accumulator) error {
	members, _ := group.Content["member"].([]interface{})
	for _, m := range members {
		if acc.full() {
			return nil
		}
		entry, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		entity, ok := entry["entity"].(map[string]interface{})
		if !ok {
			continue
		}
		ref, _ := entity["reference"].(string)
		memberType, memberID, ok := splitReference(ref)
		if !ok || memberType != "Patient" {
			continue
		}
		if acc.seen(memberType, memberID) {
			continue
		}
		patient, err := e.store.Read(ctx, memberType, memberID)
		if err != nil {
			continue
		}
		acc.add(memberType, memberID, patient.Content)
		if err := e.walkCompartment(ctx, PatientCompartment, memberID, params, acc); err != nil {
			return err
		}
	}
	return nil
}

// referencingIDs returns the ids of resourceType rows that reference
// (focalType, focalID) via param, using the reference index populated by
// internal/search's Indexer rather than a JSONB scan.
func (e *Everything) referencingIDs(ctx context.Context, resourceType, param, focalType, focalID string) ([]string, error) {
	conn := db.Conn(ctx, e.pool)
	rows, err := conn.Query(ctx,
		`SELECT DISTINCT resource_id FROM search_idx_reference
		 WHERE resource_type = $1 AND param_code = $2 AND target_type = $3 AND target_id = $4`,
		resourceType, param, focalType, focalID)
	if err != nil {
		return nil, fmt.Errorf("graph: compartment lookup %s.%s: %w", resourceType, param, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func withinWindow(ts time.Time, params EverythingParams) bool {
	if !params.Since.IsZero() && ts.Before(params.Since) {
		return false
	}
	if !params.Start.IsZero() && ts.Before(params.Start) {
		return false
	}
	if !params.End.IsZero() && ts.After(params.End) {
		return false
	}
	return true
}

// accumulator dedupes by (type,id), caps total resources, and builds the
// Bundle entries in discovery order.
type accumulator struct {
	limit        int
	perTypeLimit int // 0 means unbounded
	seenSet      map[string]bool
	typeCounts   map[string]int
	entries      []codec.BundleEntry
}

func newAccumulator(perTypeCount, limit int) *accumulator {
	return &accumulator{
		limit:        limit,
		perTypeLimit: perTypeCount,
		seenSet:      make(map[string]bool),
		typeCounts:   make(map[string]int),
	}
}

func (a *accumulator) seen(resourceType, id string) bool {
	return a.seenSet[resourceType+"/"+id]
}

func (a *accumulator) full() bool {
	return len(a.entries) >= a.limit
}

// typeFull reports whether resourceType has already contributed its
// per-type row cap (EverythingParams.Count) to the result. A zero cap
// means unbounded.
func (a *accumulator) typeFull(resourceType string) bool {
	return a.perTypeLimit > 0 && a.typeCounts[resourceType] >= a.perTypeLimit
}

func (a *accumulator) add(resourceType, id string, content map[string]interface{}) {
	if a.full() || a.seen(resourceType, id) || a.typeFull(resourceType) {
		return
	}
	a.seenSet[resourceType+"/"+id] = true
	a.typeCounts[resourceType]++
	resource := make(map[string]interface{}, len(content)+1)
	for k, v := range content {
		resource[k] = v
	}
	resource["resourceType"] = resourceType
	resource["id"] = id
	a.entries = append(a.entries, codec.MatchEntry(resourceType, id, resource))
}
