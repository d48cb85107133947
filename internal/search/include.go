package search

import (
	"context"
	"fmt"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxIterateDepth bounds how many rounds an :iterate include directive may
// run, so a cyclic reference graph (e.g. Organization.partOf) cannot loop
// forever.
const MaxIterateDepth = 5

// IncludeResolver performs the post-hoc second query _include/_revinclude
// need: the primary search already ran and matched a page of rows, and this
// walks outward from that page along the requested reference parameters,
// fetching the referenced (or referencing) resources and returning them as
// additional rows to attach to the bundle.
type IncludeResolver struct {
	store    *storage.Store
	pool     *pgxpool.Pool
	registry *registry.Registry
}

// NewIncludeResolver builds a resolver sharing the store's connection pool,
// so included lookups participate in the same transaction snapshot.
func NewIncludeResolver(store *storage.Store, pool *pgxpool.Pool, reg *registry.Registry) *IncludeResolver {
	return &IncludeResolver{store: store, pool: pool, registry: reg}
}

// IncludedRow is a fetched include/revinclude target, tagged with its own
// resource type since a page of included rows can span several types.
type IncludedRow struct {
	ResourceType string
	Row          storage.SearchRow
}

// Resolve runs every include and revinclude spec against base, returning the
// deduplicated set of additional rows to include in the result bundle.
func (r *IncludeResolver) Resolve(ctx context.Context, resourceType string, base []storage.SearchRow, includes, revIncludes []IncludeSpec) ([]IncludedRow, error) {
	seen := make(map[string]bool)
	for _, row := range base {
		seen[resourceType+"/"+row.ID] = true
	}

	var out []IncludedRow
	frontier := base
	frontierType := resourceType

	for _, spec := range includes {
		rows, err := r.resolveForward(ctx, frontierType, frontier, spec, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		if spec.Iterate {
			rows = r.iterateForward(ctx, spec, rows, seen)
			out = append(out, rows...)
		}
	}

	for _, spec := range revIncludes {
		rows, err := r.resolveReverse(ctx, frontierType, frontier, spec, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	return out, nil
}

func (r *IncludeResolver) iterateForward(ctx context.Context, spec IncludeSpec, seed []IncludedRow, seen map[string]bool) []IncludedRow {
	var out []IncludedRow
	current := seed
	for depth := 0; depth < MaxIterateDepth && len(current) > 0; depth++ {
		var next []IncludedRow
		for _, ir := range current {
			rows, err := r.resolveForward(ctx, ir.ResourceType, []storage.SearchRow{ir.Row}, spec, seen)
			if err != nil {
				continue
			}
			next = append(next, rows...)
		}
		out = append(out, next...)
		current = next
	}
	return out
}

// resolveForward follows spec.Param on rows of sourceType, fetching each
// referenced target resource.
func (r *IncludeResolver) resolveForward(ctx context.Context, sourceType string, rows []storage.SearchRow, spec IncludeSpec, seen map[string]bool) ([]IncludedRow, error) {
	if spec.SourceType != "" && spec.SourceType != sourceType {
		return nil, nil
	}
	def, ok := r.registry.Lookup(sourceType, spec.Param)
	if !ok || def.Type != registry.TypeReference {
		return nil, newFault(UnknownParameter, spec.Param, nil)
	}

	var out []IncludedRow
	for _, row := range rows {
		refs := extractReferences(row.Content, def.Expression)
		for _, ref := range refs {
			targetType, id, ok := splitReference(ref)
			if !ok {
				continue
			}
			if spec.TargetType != "" && targetType != spec.TargetType {
				continue
			}
			key := targetType + "/" + id
			if seen[key] {
				continue
			}
			seen[key] = true

			env, err := r.store.Read(ctx, targetType, id)
			if err != nil {
				continue // dangling reference: omit rather than fail the whole bundle
			}
			out = append(out, IncludedRow{
				ResourceType: targetType,
				Row:          storage.SearchRow{ID: env.ID, VersionID: env.VersionID, Content: env.Content},
			})
		}
	}
	return out, nil
}

// resolveReverse finds resources of spec.SourceType that reference rows of
// the current result set via spec.Param, using the reference index rather
// than a JSONB scan.
func (r *IncludeResolver) resolveReverse(ctx context.Context, targetType string, rows []storage.SearchRow, spec IncludeSpec, seen map[string]bool) ([]IncludedRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	sourceType := spec.SourceType
	if sourceType == "" {
		return nil, newFault(AmbiguousTarget, spec.Param, fmt.Errorf("_revinclude requires a source resource type"))
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	conn := db.Conn(ctx, r.pool)
	sqlRows, err := conn.Query(ctx,
		`SELECT DISTINCT resource_id FROM search_idx_reference
		 WHERE resource_type = $1 AND param_code = $2 AND target_type = $3 AND target_id = ANY($4)`,
		sourceType, spec.Param, targetType, ids)
	if err != nil {
		return nil, fmt.Errorf("search: revinclude lookup: %w", err)
	}
	defer sqlRows.Close()

	var sourceIDs []string
	for sqlRows.Next() {
		var id string
		if err := sqlRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("search: scan revinclude id: %w", err)
		}
		sourceIDs = append(sourceIDs, id)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, err
	}

	var out []IncludedRow
	for _, id := range sourceIDs {
		key := sourceType + "/" + id
		if seen[key] {
			continue
		}
		seen[key] = true
		env, err := r.store.Read(ctx, sourceType, id)
		if err != nil {
			continue
		}
		out = append(out, IncludedRow{
			ResourceType: sourceType,
			Row:          storage.SearchRow{ID: env.ID, VersionID: env.VersionID, Content: env.Content},
		})
	}
	return out, nil
}

// extractReferences walks expression (a resource-rooted FHIRPath like
// "Observation.subject") against content using the same structural
// navigation path.go uses for SQL accessors, collecting every "reference"
// string found (an array-valued expression yields more than one).
func extractReferences(content map[string]interface{}, expression string) []string {
	path := TranslatePath(expression)
	nodes := navigate(content, path.Segments)

	var out []string
	for _, n := range nodes {
		switch t := n.(type) {
		case string:
			out = append(out, t)
		case map[string]interface{}:
			if ref, ok := t["reference"].(string); ok {
				out = append(out, ref)
			}
		case []interface{}:
			for _, e := range t {
				if m, ok := e.(map[string]interface{}); ok {
					if ref, ok := m["reference"].(string); ok {
						out = append(out, ref)
					}
				}
			}
		}
	}
	return out
}

// navigate descends content along segments, flattening through arrays, and
// returns every leaf value reached.
func navigate(content map[string]interface{}, segments []string) []interface{} {
	var current []interface{} = []interface{}{content}
	for _, seg := range segments {
		var next []interface{}
		for _, node := range current {
			m, ok := node.(map[string]interface{})
			if !ok {
				continue
			}
			v, ok := m[seg]
			if !ok {
				continue
			}
			if arr, ok := v.([]interface{}); ok {
				next = append(next, arr...)
			} else {
				next = append(next, v)
			}
		}
		current = next
	}
	return current
}
