package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fhircore/fhircore/internal/registry"
)

// argBuilder accumulates positional bind arguments, handing back the
// placeholder for each as it is added, so clause builders never have to
// track a running $N index by hand.
type argBuilder struct {
	args []interface{}
}

func (b *argBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// dispatch selects a clause builder by the bound parameter's type and
// renders the SQL fragment (and its bind args) for one RawParam. It does
// not handle chains directly; compiler.go routes those to chain.go before
// falling back here for a leaf dispatch. Composite components also land
// here, via dispatchTyped with a path relative to the composite's anchor.
func dispatch(b *argBuilder, def *registry.SearchParameter, p RawParam) (string, error) {
	if p.Modifier == ModifierMissing {
		return dispatchMissing(def, p)
	}
	return dispatchTyped(b, def, pathFor(def), p)
}

func dispatchTyped(b *argBuilder, def *registry.SearchParameter, path Path, p RawParam) (string, error) {
	switch def.Type {
	case registry.TypeString:
		return dispatchString(b, def, path, p)
	case registry.TypeToken:
		return dispatchToken(b, def, path, p)
	case registry.TypeNumber:
		return dispatchNumber(b, path, p)
	case registry.TypeQuantity:
		return dispatchQuantity(b, path, p)
	case registry.TypeDate:
		return dispatchDate(b, path, p)
	case registry.TypeReference:
		return dispatchReference(b, path, p)
	case registry.TypeURI:
		return dispatchURI(b, path, p)
	default:
		return "", newFault(UnsupportedParameterType, def.Code, nil)
	}
}

func pathFor(def *registry.SearchParameter) Path {
	return TranslatePath(def.Expression)
}

// orJoin wraps one parameter's comma-separated OR values into a single
// parenthesized disjunction; AND across repeated parameter occurrences is
// applied by the caller joining each RawParam's clause with AND.
func orJoin(clauses []string) string {
	if len(clauses) == 0 {
		return "1=1"
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

var humanNameStringFields = []string{"family", "text"}
var humanNameArrayFields = []string{"given", "prefix", "suffix"}

func dispatchString(b *argBuilder, def *registry.SearchParameter, path Path, p RawParam) (string, error) {
	var clauses []string
	for _, v := range p.Values {
		if def.ElementHint == registry.HintHumanName {
			clauses = append(clauses, humanNameClause(b, path, p.Modifier, v.Raw))
			continue
		}
		clauses = append(clauses, stringClause(b, path.Accessor(), p.Modifier, v.Raw))
	}
	return orJoin(clauses), nil
}

func stringClause(b *argBuilder, accessor string, modifier Modifier, value string) string {
	switch modifier {
	case ModifierExact:
		return fmt.Sprintf("%s = %s", accessor, b.bind(value))
	case ModifierContains:
		return fmt.Sprintf("%s ILIKE %s", accessor, b.bind("%"+value+"%"))
	default:
		return fmt.Sprintf("%s ILIKE %s", accessor, b.bind(value+"%"))
	}
}

// humanNameClause searches family/text as scalars and given/prefix/suffix
// as arrays, matching the HumanName element hint of §4.4.4.
func humanNameClause(b *argBuilder, path Path, modifier Modifier, value string) string {
	var parts []string
	for _, f := range humanNameStringFields {
		parts = append(parts, stringClause(b, path.Field(f).Accessor(), modifier, value))
	}
	for _, f := range humanNameArrayFields {
		parts = append(parts, arrayStringClause(b, path.Field(f).JSONAccessor(), modifier, value))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func arrayStringClause(b *argBuilder, jsonAccessor string, modifier Modifier, value string) string {
	switch modifier {
	case ModifierExact:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements_text(%s) v WHERE v = %s)", jsonAccessor, b.bind(value))
	case ModifierContains:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements_text(%s) v WHERE v ILIKE %s)", jsonAccessor, b.bind("%"+value+"%"))
	default:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements_text(%s) v WHERE v ILIKE %s)", jsonAccessor, b.bind(value+"%"))
	}
}

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

func splitTokenValue(raw string) (system, code string, hasPipe bool) {
	if !strings.Contains(raw, "|") {
		return "", raw, false
	}
	parts := strings.SplitN(raw, "|", 2)
	return parts[0], parts[1], true
}

func dispatchToken(b *argBuilder, def *registry.SearchParameter, path Path, p RawParam) (string, error) {
	switch p.Modifier {
	case ModifierIn, ModifierNotIn, ModifierBelow, ModifierAbove:
		// compiler.go's compileParam routes these modifiers to the
		// terminology bridge ahead of calling dispatch, so this branch is
		// reached only by leaves dispatched directly (chain and _has
		// leaves, composite components), which get no expansion.
		return "", newFault(TerminologyUnavailable, def.Code, nil)
	}

	negate := p.Modifier == ModifierNot

	var clauses []string
	for _, v := range p.Values {
		system, code, hasPipe := splitTokenValue(v.Raw)
		clauses = append(clauses, tokenClause(b, def, path, system, code, hasPipe))
	}
	clause := orJoin(clauses)
	if negate {
		return "NOT " + clause, nil
	}
	return clause, nil
}

func tokenClause(b *argBuilder, def *registry.SearchParameter, path Path, system, code string, hasPipe bool) string {
	switch def.ElementHint {
	case registry.HintIdentifier:
		return codedArrayClause(b, path.JSONAccessor(), "system", "value", system, code, hasPipe)
	case registry.HintCodeableConcept:
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements(%s->'coding') c WHERE %s)",
			path.JSONAccessor(), codingPredicate(b, system, code, hasPipe),
		)
	default:
		// Plain code field, or a single Coding object.
		if hasPipe {
			var parts []string
			if system != "" {
				parts = append(parts, fmt.Sprintf("%s = %s", path.Field("system").Accessor(), b.bind(system)))
			}
			if code != "" {
				parts = append(parts, fmt.Sprintf("%s = %s", codeAccessor(path), b.bind(code)))
			}
			if len(parts) == 0 {
				return "1=1"
			}
			return "(" + strings.Join(parts, " AND ") + ")"
		}
		return fmt.Sprintf("%s = %s", codeAccessor(path), b.bind(code))
	}
}

// codeAccessor prefers a ".code" sub-field when the path points at an
// object (Coding-shaped); falls back to the scalar path itself for simple
// code fields like Encounter.status.
func codeAccessor(path Path) string {
	if len(path.Segments) == 0 {
		return path.Accessor()
	}
	return path.Field("code").Accessor()
}

func codedArrayClause(b *argBuilder, jsonAccessor, sysField, codeField, system, code string, hasPipe bool) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM jsonb_array_elements(%s) e WHERE %s)",
		jsonAccessor, elementPredicate(b, sysField, codeField, system, code, hasPipe),
	)
}

func elementPredicate(b *argBuilder, sysField, codeField, system, code string, hasPipe bool) string {
	var parts []string
	if !hasPipe || code != "" {
		parts = append(parts, fmt.Sprintf("e->>'%s' = %s", codeField, b.bind(code)))
	}
	if hasPipe && system != "" {
		parts = append(parts, fmt.Sprintf("e->>'%s' = %s", sysField, b.bind(system)))
	}
	if len(parts) == 0 {
		return "true"
	}
	return strings.Join(parts, " AND ")
}

func codingPredicate(b *argBuilder, system, code string, hasPipe bool) string {
	return elementPredicate(b, "system", "code", system, code, hasPipe)
}

// ---------------------------------------------------------------------------
// Number / Quantity
// ---------------------------------------------------------------------------

func dispatchNumber(b *argBuilder, path Path, p RawParam) (string, error) {
	var clauses []string
	for _, v := range p.Values {
		clauses = append(clauses, numericClause(b, fmt.Sprintf("(%s)::numeric", path.Accessor()), v.Prefix, v.Raw))
	}
	return orJoin(clauses), nil
}

func dispatchQuantity(b *argBuilder, path Path, p RawParam) (string, error) {
	var clauses []string
	for _, v := range p.Values {
		number, system, code := splitQuantityValue(v.Raw)
		numAccessor := fmt.Sprintf("(%s)::numeric", path.Field("value").Accessor())
		clause := numericClause(b, numAccessor, v.Prefix, number)
		if system != "" {
			clause = fmt.Sprintf("(%s AND %s = %s)", clause, path.Field("system").Accessor(), b.bind(system))
		}
		if code != "" {
			clause = fmt.Sprintf("(%s AND %s = %s)", clause, path.Field("code").Accessor(), b.bind(code))
		}
		clauses = append(clauses, clause)
	}
	return orJoin(clauses), nil
}

// splitQuantityValue parses "[number]|[system]|[code]".
func splitQuantityValue(raw string) (number, system, code string) {
	parts := strings.SplitN(raw, "|", 3)
	number = parts[0]
	if len(parts) > 1 {
		system = parts[1]
	}
	if len(parts) > 2 {
		code = parts[2]
	}
	return
}

func numericClause(b *argBuilder, accessor string, prefix Prefix, raw string) string {
	switch prefix {
	case PrefixGt, PrefixSa:
		return fmt.Sprintf("%s > %s", accessor, b.bind(raw))
	case PrefixLt, PrefixEb:
		return fmt.Sprintf("%s < %s", accessor, b.bind(raw))
	case PrefixGe:
		return fmt.Sprintf("%s >= %s", accessor, b.bind(raw))
	case PrefixLe:
		return fmt.Sprintf("%s <= %s", accessor, b.bind(raw))
	case PrefixNe:
		return fmt.Sprintf("%s != %s", accessor, b.bind(raw))
	case PrefixAp:
		low, high := approxRange(raw)
		return fmt.Sprintf("%s BETWEEN %s AND %s", accessor, b.bind(low), b.bind(high))
	default:
		return fmt.Sprintf("%s = %s", accessor, b.bind(raw))
	}
}

// approxRange widens a numeric value by 10% in either direction for the
// `ap` prefix, falling back to the literal value on both ends if raw does
// not parse as a float (the comparison then degenerates to an exact match,
// same as the teacher's fallback-to-raw-string behavior for unparseable
// values elsewhere in this dispatcher).
func approxRange(raw string) (string, string) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, raw
	}
	margin := f * 0.1
	return strconv.FormatFloat(f-margin, 'f', -1, 64), strconv.FormatFloat(f+margin, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// Date
// ---------------------------------------------------------------------------

func dispatchDate(b *argBuilder, path Path, p RawParam) (string, error) {
	var clauses []string
	for _, v := range p.Values {
		start, end, err := parseDateRange(v.Raw)
		if err != nil {
			return "", newFault(InvalidDateFormat, "date", err)
		}
		clauses = append(clauses, dateRangeClause(b, fmt.Sprintf("(%s)::timestamptz", path.Accessor()), v.Prefix, start, end))
	}
	return orJoin(clauses), nil
}

// parseDateRange parses a FHIR date/dateTime/instant value at whatever
// precision it was given and returns the half-open range [start,end) it
// denotes, per §4.4.3.
func parseDateRange(raw string) (time.Time, time.Time, error) {
	layouts := []struct {
		layout string
		unit   func(t time.Time) time.Time
	}{
		{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
		{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
		{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
		{"2006-01-02T15:04:05", func(t time.Time) time.Time { return t.Add(time.Second) }},
		{time.RFC3339, func(t time.Time) time.Time { return t.Add(time.Second) }},
	}
	for _, l := range layouts {
		if t, err := time.Parse(l.layout, raw); err == nil {
			return t, l.unit(t), nil
		}
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}

func dateRangeClause(b *argBuilder, accessor string, prefix Prefix, start, end time.Time) string {
	switch prefix {
	case PrefixGt, PrefixSa:
		return fmt.Sprintf("%s >= %s", accessor, b.bind(end))
	case PrefixLt, PrefixEb:
		return fmt.Sprintf("%s < %s", accessor, b.bind(start))
	case PrefixGe:
		return fmt.Sprintf("%s >= %s", accessor, b.bind(start))
	case PrefixLe:
		return fmt.Sprintf("%s < %s", accessor, b.bind(end))
	case PrefixNe:
		return fmt.Sprintf("NOT (%s >= %s AND %s < %s)", accessor, b.bind(start), accessor, b.bind(end))
	case PrefixAp:
		width := end.Sub(start)
		margin := time.Duration(float64(width) * 0.1)
		return fmt.Sprintf("(%s >= %s AND %s < %s)", accessor, b.bind(start.Add(-margin)), accessor, b.bind(end.Add(margin)))
	default: // eq: overlap with [start,end)
		return fmt.Sprintf("(%s >= %s AND %s < %s)", accessor, b.bind(start), accessor, b.bind(end))
	}
}

// ---------------------------------------------------------------------------
// Reference
// ---------------------------------------------------------------------------

func dispatchReference(b *argBuilder, path Path, p RawParam) (string, error) {
	var clauses []string
	for _, v := range p.Values {
		if p.Modifier == ModifierIdentifier {
			system, code, hasPipe := splitTokenValue(v.Raw)
			clauses = append(clauses, codedArrayClause(b, path.Field("identifier").JSONAccessor(), "system", "value", system, code, hasPipe))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", path.Field("reference").Accessor(), b.bind(v.Raw)))
	}
	return orJoin(clauses), nil
}

// ---------------------------------------------------------------------------
// URI
// ---------------------------------------------------------------------------

func dispatchURI(b *argBuilder, path Path, p RawParam) (string, error) {
	var clauses []string
	accessor := path.Accessor()
	for _, v := range p.Values {
		switch p.Modifier {
		case "below":
			clauses = append(clauses, fmt.Sprintf("%s LIKE %s", accessor, b.bind(v.Raw+"%")))
		case "above":
			clauses = append(clauses, fmt.Sprintf("%s LIKE (%s) || '%%'", b.bind(v.Raw), accessor))
		default:
			clauses = append(clauses, fmt.Sprintf("%s = %s", accessor, b.bind(v.Raw)))
		}
	}
	return orJoin(clauses), nil
}
