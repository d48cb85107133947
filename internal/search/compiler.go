package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/storage"
)

// CodedValue is one system+code pair produced by a terminology expansion.
type CodedValue struct {
	System string
	Code   string
}

// TerminologyExpansion is what a TerminologyBridge returns for a single
// :in/:not-in/:below/:above value: either an inline code list (small
// expansions) or the name of a temp table the bridge has already bulk
// loaded via CopyFrom (large expansions, §4.4.8's ~500-code threshold).
// Exactly one of Codes or TempTable is set.
type TerminologyExpansion struct {
	Codes     []CodedValue
	TempTable string
}

// TerminologyBridge resolves the value set membership/hierarchy modifiers
// a token parameter can carry. Implementations live in internal/terminology;
// internal/search only depends on this interface, never the concrete
// provider, preserving the one-directional package dependency.
type TerminologyBridge interface {
	Expand(ctx context.Context, def *registry.SearchParameter, modifier Modifier, raw string) (TerminologyExpansion, error)
}

// Compiler turns a parsed query string into a storage.CompiledQuery ready
// for Store.Search, resolving parameter definitions from reg and (when
// present) terminology modifiers via bridge.
type Compiler struct {
	registry *registry.Registry
	bridge   TerminologyBridge
	resolver *IncludeResolver
}

// NewCompiler builds a Compiler. bridge and resolver may be nil: a query
// using :in/:not-in/:below/:above with a nil bridge fails with
// TerminologyUnavailable; _include/_revinclude are simply skipped with a
// nil resolver (compiler.go's caller is expected to always wire one once
// internal/terminology and the store are available).
func NewCompiler(reg *registry.Registry, bridge TerminologyBridge, resolver *IncludeResolver) *Compiler {
	return &Compiler{registry: reg, bridge: bridge, resolver: resolver}
}

// Result is everything the caller needs to run a compiled search and
// assemble a Bundle: the query itself, the control parameters (for
// pagination/sort bookkeeping the caller must reapply to the next page
// link), and any recoverable parse warnings.
type Result struct {
	Query    storage.CompiledQuery
	Control  ControlParams
	Count    int
	Offset   int
	Warnings []Warning
}

// Compile parses and compiles a full FHIR search query string for
// resourceType into a single parameterized SQL statement.
func (c *Compiler) Compile(ctx context.Context, resourceType string, values url.Values) (*Result, error) {
	params, hasParams, control, warnings, err := ParseQuery(values)
	if err != nil {
		return nil, err
	}

	b := &argBuilder{}
	var clauses []string

	for _, p := range params {
		clause, err := c.compileParam(ctx, b, resourceType, p)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	for _, hp := range hasParams {
		clause, err := compileHas(b, c.registry, resourceType, hp)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	if control.Filter != "" {
		tree, err := parseFilterExpression(control.Filter)
		if err != nil {
			return nil, newFault(InvalidFilterExpression, "_filter", err)
		}
		clause, err := compileFilter(b, c.registry, resourceType, tree)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	if control.Text != "" {
		clause, err := compileFullText(b, "_text", control.Text)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	if control.Content != "" {
		clause, err := compileFullText(b, "_content", control.Content)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	where := "status != 'deleted'"
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}

	orderBy, err := compileSort(c.registry, resourceType, control.Sort)
	if err != nil {
		return nil, err
	}

	count := NormalizeCount(control.Count)
	offset := control.Offset
	if offset < 0 {
		offset = 0
	}

	table := "fhir_" + strings.ToLower(resourceType)
	limitOffset := compileLimitOffset(b, count, offset)

	sql := fmt.Sprintf("SELECT id, version_id, tx_id, resource FROM %s WHERE %s %s %s", table, where, orderBy, limitOffset)

	query := storage.CompiledQuery{SQL: sql, Args: append([]interface{}{}, b.args...)}

	if control.Total == TotalAccurate {
		countBuilder := &argBuilder{}
		countClauses, err := c.recompileForCount(ctx, countBuilder, resourceType, params, hasParams, control)
		if err != nil {
			return nil, err
		}
		countWhere := "status != 'deleted'"
		if countClauses != "" {
			countWhere += " AND " + countClauses
		}
		query.CountSQL = fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", table, countWhere)
		query.CountArgs = countBuilder.args
	}

	return &Result{Query: query, Control: control, Count: count, Offset: offset, Warnings: warnings}, nil
}

// ResolveIncludes runs the compiled query's _include/_revinclude directives
// against the page of rows Store.Search returned. Returns nil without error
// when no resolver was wired (e.g. a caller that only needs raw search
// results, not bundle assembly).
func (c *Compiler) ResolveIncludes(ctx context.Context, resourceType string, rows []storage.SearchRow, control ControlParams) ([]IncludedRow, error) {
	if c.resolver == nil || (len(control.Include) == 0 && len(control.RevInclude) == 0) {
		return nil, nil
	}
	return c.resolver.Resolve(ctx, resourceType, rows, control.Include, control.RevInclude)
}

// recompileForCount rebuilds the WHERE clause with a fresh argBuilder so the
// count statement gets its own independent $N sequence, since it is a
// separate prepared statement from the page-fetch query.
func (c *Compiler) recompileForCount(ctx context.Context, b *argBuilder, resourceType string, params []RawParam, hasParams []RawHasParam, control ControlParams) (string, error) {
	var clauses []string
	for _, p := range params {
		clause, err := c.compileParam(ctx, b, resourceType, p)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	for _, hp := range hasParams {
		clause, err := compileHas(b, c.registry, resourceType, hp)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	if control.Filter != "" {
		tree, err := parseFilterExpression(control.Filter)
		if err != nil {
			return "", newFault(InvalidFilterExpression, "_filter", err)
		}
		clause, err := compileFilter(b, c.registry, resourceType, tree)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	if control.Text != "" {
		clause, err := compileFullText(b, "_text", control.Text)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	if control.Content != "" {
		clause, err := compileFullText(b, "_content", control.Content)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), nil
}

func (c *Compiler) compileParam(ctx context.Context, b *argBuilder, resourceType string, p RawParam) (string, error) {
	if p.IsChained() {
		return compileChain(b, c.registry, resourceType, p)
	}

	leaf := p.Leaf()
	def, ok := c.registry.Lookup(resourceType, leaf.Code)
	if !ok {
		return "", newFault(UnknownParameter, leaf.Code, nil)
	}

	if def.Type == registry.TypeComposite {
		return dispatchComposite(b, c.registry, def, p)
	}

	if isTerminologyModifier(p.Modifier) {
		return c.compileTerminology(ctx, b, def, p)
	}

	return dispatch(b, def, p)
}

func isTerminologyModifier(m Modifier) bool {
	switch m {
	case ModifierIn, ModifierNotIn, ModifierBelow, ModifierAbove:
		return true
	default:
		return false
	}
}

// compileTerminology rewrites a :in/:not-in/:below/:above token parameter
// into an IN-list (or a join against a bulk-loaded temp table) before the
// typed token dispatcher ever sees it, since dispatchToken itself always
// fails these modifiers with TerminologyUnavailable (§4.4.8).
func (c *Compiler) compileTerminology(ctx context.Context, b *argBuilder, def *registry.SearchParameter, p RawParam) (string, error) {
	if c.bridge == nil {
		return "", newFault(TerminologyUnavailable, def.Code, fmt.Errorf("no terminology provider configured"))
	}

	path := pathFor(def)
	var clauses []string
	for _, v := range p.Values {
		expansion, err := c.bridge.Expand(ctx, def, p.Modifier, v.Raw)
		if err != nil {
			return "", newFault(TerminologyUnavailable, def.Code, err)
		}

		systemAccessor := path.Field("system").Accessor()

		var clause string
		if expansion.TempTable != "" {
			clause = fmt.Sprintf(
				"EXISTS (SELECT 1 FROM %s tvc WHERE tvc.code = %s AND (tvc.system IS NULL OR tvc.system = %s))",
				expansion.TempTable, codeAccessor(path), systemAccessor,
			)
		} else {
			var codeClauses []string
			for _, cv := range expansion.Codes {
				if cv.System != "" {
					codeClauses = append(codeClauses, fmt.Sprintf("(%s = %s AND %s = %s)",
						systemAccessor, b.bind(cv.System), codeAccessor(path), b.bind(cv.Code)))
				} else {
					codeClauses = append(codeClauses, fmt.Sprintf("%s = %s", codeAccessor(path), b.bind(cv.Code)))
				}
			}
			clause = orJoin(codeClauses)
		}

		if p.Modifier == ModifierNotIn {
			clause = "NOT (" + clause + ")"
		}
		clauses = append(clauses, clause)
	}
	return orJoin(clauses), nil
}
