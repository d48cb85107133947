package terminology

import (
	"context"
	"fmt"

	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/search"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InlineExpansionLimit is the expansion size above which Bridge.Expand
// bulk-loads codes into temp_valueset_codes via CopyFrom instead of
// returning an inline IN-list, per §4.4.8's ~500-code threshold: beyond
// that a generated "code = $1 OR code = $2 OR ..." clause stops being
// cheaper than a join.
const InlineExpansionLimit = 500

// Bridge implements search.TerminologyBridge, turning a :in/:not-in/
// :below/:above token modifier into the code list (or bulk-loaded temp
// table) the compiled SQL joins against. It tries local first and falls
// back to remote only when local has no record of the system, so a
// deployment with no remote terminology server configured still resolves
// every value set it has mirrored locally.
type Bridge struct {
	pool   *pgxpool.Pool
	local  *LocalProvider
	remote Provider // nil when no remote terminology server is configured
}

// NewBridge returns a Bridge backed by local (always present) and remote
// (optional — pass nil to disable remote fallback, e.g. when
// config.TerminologyEnabled is false).
func NewBridge(pool *pgxpool.Pool, local *LocalProvider, remote Provider) *Bridge {
	return &Bridge{pool: pool, local: local, remote: remote}
}

// Expand resolves the value set raw identifies (the modifier's argument)
// into a search.TerminologyExpansion. :below and :above expand the single
// coded value itself into its (or its ancestors') hierarchy rather than a
// value set.
func (b *Bridge) Expand(ctx context.Context, def *registry.SearchParameter, modifier search.Modifier, raw string) (search.TerminologyExpansion, error) {
	switch modifier {
	case search.ModifierBelow:
		return b.expandHierarchy(ctx, raw, true)
	case search.ModifierAbove:
		return b.expandHierarchy(ctx, raw, false)
	default:
		return b.expandValueSet(ctx, raw)
	}
}

func (b *Bridge) expandValueSet(ctx context.Context, url string) (search.TerminologyExpansion, error) {
	expanded, err := b.local.ExpandValueSet(ctx, url, "", 0, 0)
	if err != nil {
		if b.remote != nil {
			expanded, err = b.remote.ExpandValueSet(ctx, url, "", 0, 0)
		}
		if err != nil {
			return search.TerminologyExpansion{}, fmt.Errorf("terminology: expand %s: %w", url, err)
		}
	}
	return b.materialize(ctx, expanded.Contains)
}

// expandHierarchy treats raw as a "system|code" coded value and resolves
// its descendants (below) or is-a ancestors (above) within that system.
func (b *Bridge) expandHierarchy(ctx context.Context, raw string, descendants bool) (search.TerminologyExpansion, error) {
	system, code := splitSystemCode(raw)
	if descendants {
		codes, err := b.local.ExpandHierarchy(ctx, system, code)
		if err != nil && b.remote != nil {
			codes, err = b.remote.ExpandHierarchy(ctx, system, code)
		}
		if err != nil {
			return search.TerminologyExpansion{}, fmt.Errorf("terminology: expand hierarchy below %s: %w", raw, err)
		}
		return b.materializeCodes(ctx, system, codes)
	}

	// :above walks up from code, one ancestor at a time, using the
	// provider's own parent pointers via repeated Subsumes checks against
	// every code in the system would be quadratic; instead reuse
	// ExpandHierarchy from the root by checking ancestry membership is not
	// available generically, so :above is answered against the local
	// in-memory concept chain directly.
	ancestors, err := b.local.ancestorsOf(system, code)
	if err != nil {
		return search.TerminologyExpansion{}, fmt.Errorf("terminology: expand hierarchy above %s: %w", raw, err)
	}
	return b.materializeCodes(ctx, system, ancestors)
}

func (b *Bridge) materialize(ctx context.Context, contains []ValueSetContains) (search.TerminologyExpansion, error) {
	if len(contains) <= InlineExpansionLimit {
		codes := make([]search.CodedValue, 0, len(contains))
		for _, c := range contains {
			codes = append(codes, search.CodedValue{System: c.System, Code: c.Code})
		}
		return search.TerminologyExpansion{Codes: codes}, nil
	}

	rows := make([][]interface{}, 0, len(contains))
	sessionID := uuid.New().String()
	for _, c := range contains {
		rows = append(rows, []interface{}{sessionID, c.Code, nullableString(c.System), c.Display})
	}
	table, err := b.bulkLoad(ctx, sessionID, rows)
	if err != nil {
		return search.TerminologyExpansion{}, err
	}
	return search.TerminologyExpansion{TempTable: table}, nil
}

func (b *Bridge) materializeCodes(ctx context.Context, system string, codes []string) (search.TerminologyExpansion, error) {
	if len(codes) <= InlineExpansionLimit {
		out := make([]search.CodedValue, 0, len(codes))
		for _, c := range codes {
			out = append(out, search.CodedValue{System: system, Code: c})
		}
		return search.TerminologyExpansion{Codes: out}, nil
	}

	rows := make([][]interface{}, 0, len(codes))
	sessionID := uuid.New().String()
	for _, c := range codes {
		rows = append(rows, []interface{}{sessionID, c, system, ""})
	}
	table, err := b.bulkLoad(ctx, sessionID, rows)
	if err != nil {
		return search.TerminologyExpansion{}, err
	}
	return search.TerminologyExpansion{TempTable: table}, nil
}

// bulkLoad copies rows into temp_valueset_codes via pgx's CopyFrom protocol
// (one round trip regardless of row count, unlike a batched INSERT) and
// returns a subquery scoping the compiler's join to this session's rows.
// The rows are not deleted afterwards: temp_valueset_codes is an ordinary
// table, and nothing in this module prunes it.
func (b *Bridge) bulkLoad(ctx context.Context, sessionID string, rows [][]interface{}) (string, error) {
	_, err := b.pool.CopyFrom(ctx,
		pgx.Identifier{"temp_valueset_codes"},
		[]string{"session_id", "code", "system", "display"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return "", fmt.Errorf("terminology: bulk load value set codes: %w", err)
	}
	return fmt.Sprintf("(SELECT code, system FROM temp_valueset_codes WHERE session_id = '%s')", sessionID), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func splitSystemCode(raw string) (system, code string) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '|' {
			return raw[:i], raw[i+1:]
		}
	}
	return "", raw
}

var _ search.TerminologyBridge = (*Bridge)(nil)
