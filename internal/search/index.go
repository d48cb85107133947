package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/fhircore/fhircore/internal/fhirpath"
	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Indexer keeps search_idx_reference/search_idx_token/search_idx_date in
// sync with storage writes so chain.go's EXISTS subqueries and the
// terminology bridge's IN-list lookups have rows to join against. It
// implements storage.ResourceEventListener and is registered on the store
// alongside the subscription matcher (both consume the same event stream).
type Indexer struct {
	pool     *pgxpool.Pool
	registry *registry.Registry
	engine   *fhirpath.Engine
	logger   zerolog.Logger
}

// NewIndexer returns an Indexer backed by pool, resolving field definitions
// from reg and evaluating their FHIRPath expressions with engine.
func NewIndexer(pool *pgxpool.Pool, reg *registry.Registry, logger zerolog.Logger) *Indexer {
	return &Indexer{pool: pool, registry: reg, engine: fhirpath.NewEngine(), logger: logger}
}

// OnResourceEvent re-extracts index rows for the affected resource. Errors
// are logged and swallowed: a failed re-index must never fail the write it
// is derived from, since fireEvent runs inside the same transaction as the
// row mutation it is reporting.
func (x *Indexer) OnResourceEvent(ctx context.Context, event storage.ResourceEvent) {
	if err := x.reindex(ctx, event); err != nil {
		x.logger.Error().Err(err).
			Str("resource_type", event.ResourceType).
			Str("resource_id", event.ResourceID).
			Msg("search index: reindex failed")
	}
}

func (x *Indexer) reindex(ctx context.Context, event storage.ResourceEvent) error {
	q := db.Conn(ctx, x.pool)

	for _, table := range []string{"search_idx_reference", "search_idx_token", "search_idx_date"} {
		if _, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE resource_type = $1 AND resource_id = $2", table),
			event.ResourceType, event.ResourceID); err != nil {
			return fmt.Errorf("search: clear index rows: %w", err)
		}
	}

	if event.Interaction == "delete" {
		return nil
	}

	for _, def := range x.registry.ForType(event.ResourceType) {
		if def.Expression == "" {
			continue
		}
		switch def.Type {
		case registry.TypeReference:
			if err := x.indexReference(ctx, q, event, def); err != nil {
				return err
			}
		case registry.TypeToken:
			if err := x.indexToken(ctx, q, event, def); err != nil {
				return err
			}
		case registry.TypeDate:
			if err := x.indexDate(ctx, q, event, def); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Indexer) indexReference(ctx context.Context, q db.Querier, event storage.ResourceEvent, def *registry.SearchParameter) error {
	values, err := x.engine.Evaluate(event.Current, def.Expression)
	if err != nil {
		return nil // a non-evaluable expression indexes nothing rather than failing the write
	}
	for _, v := range values {
		ref, ok := referenceString(v)
		if !ok {
			continue
		}
		targetType, targetID, ok := splitReference(ref)
		if !ok {
			continue
		}
		_, err := q.Exec(ctx,
			`INSERT INTO search_idx_reference (resource_type, resource_id, param_code, ref_kind, target_type, target_id)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			event.ResourceType, event.ResourceID, def.Code, "literal", targetType, targetID)
		if err != nil {
			return fmt.Errorf("search: index reference: %w", err)
		}
	}
	return nil
}

func (x *Indexer) indexToken(ctx context.Context, q db.Querier, event storage.ResourceEvent, def *registry.SearchParameter) error {
	values, err := x.engine.Evaluate(event.Current, def.Expression)
	if err != nil {
		return nil
	}
	for _, v := range values {
		system, code := tokenParts(v)
		if code == "" {
			continue
		}
		_, err := q.Exec(ctx,
			`INSERT INTO search_idx_token (resource_type, resource_id, param_code, system, code) VALUES ($1,$2,$3,$4,$5)`,
			event.ResourceType, event.ResourceID, def.Code, system, code)
		if err != nil {
			return fmt.Errorf("search: index token: %w", err)
		}
	}
	return nil
}

func (x *Indexer) indexDate(ctx context.Context, q db.Querier, event storage.ResourceEvent, def *registry.SearchParameter) error {
	values, err := x.engine.Evaluate(event.Current, def.Expression)
	if err != nil {
		return nil
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		start, end, err := parseDateRange(s)
		if err != nil {
			continue
		}
		_, err = q.Exec(ctx,
			`INSERT INTO search_idx_date (resource_type, resource_id, param_code, range_start, range_end) VALUES ($1,$2,$3,$4,$5)`,
			event.ResourceType, event.ResourceID, def.Code, start, end)
		if err != nil {
			return fmt.Errorf("search: index date: %w", err)
		}
	}
	return nil
}

// referenceString pulls the "reference" field out of a FHIRPath result
// node that may be the reference object itself or already a plain string.
func referenceString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]interface{}:
		if ref, ok := t["reference"].(string); ok {
			return ref, true
		}
	}
	return "", false
}

func splitReference(ref string) (targetType, id string, ok bool) {
	idx := strings.LastIndex(ref, "/")
	if idx < 0 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}

// tokenParts extracts (system, code) from whatever shape a token-typed
// FHIRPath result took: a bare string code, a Coding object, or a single
// entry from a CodeableConcept.coding/Identifier array (the caller already
// iterates the array, since Evaluate flattens arrays into separate nodes).
func tokenParts(v interface{}) (system, code string) {
	switch t := v.(type) {
	case string:
		return "", t
	case map[string]interface{}:
		if c, ok := t["code"].(string); ok {
			system, _ = t["system"].(string)
			return system, c
		}
		if val, ok := t["value"].(string); ok {
			system, _ = t["system"].(string)
			return system, val
		}
	}
	return "", ""
}
