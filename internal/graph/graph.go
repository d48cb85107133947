package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/fhircore/fhircore/internal/codec"
	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/fhircore/fhircore/internal/search"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxGraphDepth and MaxGraphResources bound a $graph traversal per §4.5:
// depth 10, 10,000 total resources, so a GraphDefinition with a cyclic
// link set (e.g. Organization.partOf back-references) terminates.
const (
	MaxGraphDepth     = 10
	MaxGraphResources = 10000
)

// GraphDefinition is a GraphDefinition resource reduced to what traversal
// needs: a starting type and a link tree.
type GraphDefinition struct {
	Start string
	Link  []Link
}

// Link is one GraphDefinition.link: a path to follow (forward) or, when
// Reverse is set, a search parameter other resources use to point back at
// the current node.
type Link struct {
	Path    string // forward: resource-rooted path to a reference element
	Reverse bool
	Param   string // reverse: the search parameter on Target that points here
	Target  []Target
}

type Target struct {
	Type string
	Link []Link
}

// Graph runs $graph traversals by BFS, reading resources through
// internal/storage and resolving reverse links through the reference
// index internal/search populates.
type Graph struct {
	store *storage.Store
	pool  *pgxpool.Pool
}

func NewGraph(store *storage.Store, pool *pgxpool.Pool) *Graph {
	return &Graph{store: store, pool: pool}
}

type workItem struct {
	resourceType string
	id           string
	content      map[string]interface{}
	depth        int
}

// Run resolves focalType/focalID, validates it against def.Start, then BFS
// traverses def.Link, returning a collection Bundle of every resource
// reached.
func (g *Graph) Run(ctx context.Context, def *GraphDefinition, focalType, focalID string) (*codec.Bundle, error) {
	if def.Start != "" && def.Start != focalType {
		return nil, fmt.Errorf("graph: $graph focal type %q does not match GraphDefinition.start %q", focalType, def.Start)
	}

	focal, err := g.store.Read(ctx, focalType, focalID)
	if err != nil {
		return nil, fmt.Errorf("graph: $graph load focal %s/%s: %w", focalType, focalID, err)
	}

	seen := map[string]bool{focalType + "/" + focalID: true}
	entries := []codec.BundleEntry{entryFor(focalType, focalID, focal.Content)}

	queue := []workItem{{resourceType: focalType, id: focalID, content: focal.Content, depth: 0}}
	for len(queue) > 0 && len(entries) < MaxGraphResources {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= MaxGraphDepth {
			continue
		}

		next, err := g.expand(ctx, item, def.Link, seen)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			entries = append(entries, entryFor(n.resourceType, n.id, n.content))
			queue = append(queue, n)
			if len(entries) >= MaxGraphResources {
				break
			}
		}
	}

	return codec.NewCollectionBundle(entries), nil
}

func (g *Graph) expand(ctx context.Context, item workItem, links []Link, seen map[string]bool) ([]workItem, error) {
	var out []workItem
	for _, link := range links {
		targets, err := g.followLink(ctx, item, link)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			key := t.resourceType + "/" + t.id
			if seen[key] {
				continue
			}
			if !typeAllowed(link, t.resourceType) {
				continue
			}
			seen[key] = true
			t.depth = item.depth + 1
			out = append(out, t)

			for _, target := range link.Target {
				if target.Type != "" && target.Type != t.resourceType {
					continue
				}
				if len(target.Link) > 0 {
					nested, err := g.expand(ctx, t, target.Link, seen)
					if err != nil {
						return nil, err
					}
					out = append(out, nested...)
				}
			}
		}
	}
	return out, nil
}

func (g *Graph) followLink(ctx context.Context, item workItem, link Link) ([]workItem, error) {
	if link.Reverse {
		return g.followReverse(ctx, item, link)
	}
	return g.followForward(ctx, item, link)
}

// followForward extracts reference strings at link.Path (array-flattened)
// and reads each referenced resource.
func (g *Graph) followForward(ctx context.Context, item workItem, link Link) ([]workItem, error) {
	refs := extractReferences(item.content, link.Path)
	var out []workItem
	for _, ref := range refs {
		targetType, id, ok := splitReference(ref)
		if !ok {
			continue
		}
		env, err := g.store.Read(ctx, targetType, id)
		if err != nil {
			continue // dangling reference: omit rather than fail the traversal
		}
		out = append(out, workItem{resourceType: targetType, id: id, content: env.Content})
	}
	return out, nil
}

// followReverse finds resources of the declared target type(s) whose
// link.Param points back at item, via the reference index.
func (g *Graph) followReverse(ctx context.Context, item workItem, link Link) ([]workItem, error) {
	var out []workItem
	for _, target := range link.Target {
		if target.Type == "" {
			continue
		}
		conn := db.Conn(ctx, g.pool)
		rows, err := conn.Query(ctx,
			`SELECT DISTINCT resource_id FROM search_idx_reference
			 WHERE resource_type = $1 AND param_code = $2 AND target_type = $3 AND target_id = $4`,
			target.Type, link.Param, item.resourceType, item.id)
		if err != nil {
			return nil, fmt.Errorf("graph: reverse link %s.%s: %w", target.Type, link.Param, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		for _, id := range ids {
			env, err := g.store.Read(ctx, target.Type, id)
			if err != nil {
				continue
			}
			out = append(out, workItem{resourceType: target.Type, id: id, content: env.Content})
		}
	}
	return out, nil
}

func typeAllowed(link Link, resourceType string) bool {
	if len(link.Target) == 0 {
		return true
	}
	for _, t := range link.Target {
		if t.Type == "" || t.Type == resourceType {
			return true
		}
	}
	return false
}

func entryFor(resourceType, id string, content map[string]interface{}) codec.BundleEntry {
	resource := make(map[string]interface{}, len(content)+2)
	for k, v := range content {
		resource[k] = v
	}
	resource["resourceType"] = resourceType
	resource["id"] = id
	return codec.MatchEntry(resourceType, id, resource)
}

// extractReferences walks content along a resource-rooted FHIRPath-like
// path (e.g. "subject" or "participant.individual"), array-flattening
// through the way internal/search's path translator does, and collects
// every "reference" string found.
func extractReferences(content map[string]interface{}, path string) []string {
	segments := search.TranslateRelativePath(path, "resource").Segments
	nodes := []interface{}{content}
	for _, seg := range segments {
		var next []interface{}
		for _, node := range nodes {
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
		nodes = next
	}

	var out []string
	for _, n := range nodes {
		switch t := n.(type) {
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

func splitReference(ref string) (resourceType, id string, ok bool) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
