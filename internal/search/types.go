// Package search implements the FHIR search compiler: it turns a parsed
// query string into one parameterized SQL query (plus optional include-side
// queries) against the JSONB tables internal/storage owns. It depends on
// internal/storage and internal/registry, never the reverse.
package search

// Prefix is a FHIR search value prefix, valid on number/date/quantity.
type Prefix string

const (
	PrefixEq Prefix = "eq"
	PrefixNe Prefix = "ne"
	PrefixGt Prefix = "gt"
	PrefixLt Prefix = "lt"
	PrefixGe Prefix = "ge"
	PrefixLe Prefix = "le"
	PrefixSa Prefix = "sa"
	PrefixEb Prefix = "eb"
	PrefixAp Prefix = "ap"
)

var validPrefixes = map[Prefix]bool{
	PrefixEq: true, PrefixNe: true, PrefixGt: true, PrefixLt: true,
	PrefixGe: true, PrefixLe: true, PrefixSa: true, PrefixEb: true, PrefixAp: true,
}

// Modifier is a FHIR search parameter modifier.
type Modifier string

const (
	ModifierNone      Modifier = ""
	ModifierExact     Modifier = "exact"
	ModifierContains  Modifier = "contains"
	ModifierText      Modifier = "text"
	ModifierMissing   Modifier = "missing"
	ModifierNot       Modifier = "not"
	ModifierNotIn     Modifier = "not-in"
	ModifierIn        Modifier = "in"
	ModifierBelow     Modifier = "below"
	ModifierAbove     Modifier = "above"
	ModifierIdentifier Modifier = "identifier"
	ModifierType      Modifier = "Type" // carries TargetType on RawParam
)

var validModifiers = map[Modifier]bool{
	ModifierExact: true, ModifierContains: true, ModifierText: true,
	ModifierMissing: true, ModifierNot: true, ModifierNotIn: true, ModifierIn: true,
	ModifierBelow: true, ModifierAbove: true, ModifierIdentifier: true,
}

// ParamValue is one comma-separated value with its optional prefix.
type ParamValue struct {
	Prefix Prefix
	Raw    string
}

// ChainSegment is one dot-separated hop of a forward chain: the reference
// parameter code on the resource at that hop, and an optional ":Type"
// disambiguation when the reference parameter admits multiple targets.
type ChainSegment struct {
	Code       string
	TargetType string
}

// RawParam is one syntactically-parsed query parameter, not yet bound to a
// registry.SearchParameter. Chain holds every dot-separated hop; for a
// non-chained parameter it has exactly one entry whose Code is the leaf
// parameter code.
type RawParam struct {
	Chain      []ChainSegment
	Modifier   Modifier
	TargetType string // set when Modifier == ModifierType
	Values     []ParamValue
}

// Leaf returns the final chain segment: the actual search parameter code
// to dispatch on.
func (p RawParam) Leaf() ChainSegment {
	return p.Chain[len(p.Chain)-1]
}

// IsChained reports whether this parameter has more than one hop.
func (p RawParam) IsChained() bool {
	return len(p.Chain) > 1
}

// HasSegment is one `_has:Type:param:` hop of a reverse chain.
type HasSegment struct {
	SourceType string
	RefParam   string
}

// RawHasParam is a parsed `_has` reverse-chain parameter, possibly nested
// (`_has:A:ref1:_has:B:ref2:code=value`).
type RawHasParam struct {
	Segments  []HasSegment
	LeafParam string
	Modifier  Modifier
	Values    []ParamValue
}

// TotalMode controls whether/how the compiler computes a result total.
type TotalMode string

const (
	TotalNone     TotalMode = "none"
	TotalEstimate TotalMode = "estimate"
	TotalAccurate TotalMode = "accurate"
)

// SortSpec is one `_sort` key: a parameter code with direction.
type SortSpec struct {
	Code       string
	Descending bool
}

// IncludeSpec is one `_include`/`_revinclude` directive.
type IncludeSpec struct {
	SourceType string
	Param      string
	TargetType string // empty = unresolved, disambiguated against the registry
	Iterate    bool
}

// ControlParams holds every recognized control parameter that does not
// itself emit a WHERE condition.
type ControlParams struct {
	Count         int
	Offset        int
	Sort          []SortSpec
	Include       []IncludeSpec
	RevInclude    []IncludeSpec
	Total         TotalMode
	Summary       string
	Elements      []string
	Contained     string
	ContainedType string
	Filter        string
	Text          string
	Content       string
}

// Warning is a non-fatal parse issue. ParseQuery returns a Warning slice
// but adds no entries to it: there is no lenient handling, and unknown
// parameters are always raised as UnknownParameter faults.
type Warning struct {
	Param   string
	Message string
}
