// Package registry implements the central search-parameter lookup:
// (resource_type, code) -> SearchParameter. It ensures a resource type's
// backing tables exist the first time a parameter is registered for it,
// and hands out copy-on-write snapshots so in-flight readers never see a
// registration or reload tear a lookup in half.
package registry

// SearchParamType is the FHIR SearchParameter.type enumeration.
type SearchParamType string

const (
	TypeNumber    SearchParamType = "number"
	TypeDate      SearchParamType = "date"
	TypeString    SearchParamType = "string"
	TypeToken     SearchParamType = "token"
	TypeReference SearchParamType = "reference"
	TypeComposite SearchParamType = "composite"
	TypeQuantity  SearchParamType = "quantity"
	TypeURI       SearchParamType = "uri"
	TypeSpecial   SearchParamType = "special"
)

// ElementHint tells the path translator how to unroll an array or
// navigate a complex FHIR type that a plain FHIRPath expression does not
// resolve on its own.
type ElementHint string

const (
	HintNone            ElementHint = ""
	HintHumanName       ElementHint = "HumanName"
	HintIdentifier      ElementHint = "Identifier"
	HintCodeableConcept ElementHint = "CodeableConcept"
	HintArray           ElementHint = "Array"
)

// Component is one leg of a composite search parameter: a sub-parameter
// definition URL paired with the FHIRPath expression that locates its
// value relative to the composite's own matching element.
type Component struct {
	DefinitionURL string
	Expression    string
}

// SearchParameter is the runtime form of a FHIR SearchParameter resource,
// generalized just enough for the search compiler to dispatch on Type and
// the path translator to walk Expression.
type SearchParameter struct {
	Code        string
	URL         string
	Name        string
	Type        SearchParamType
	Base        []string // resource types this applies to, e.g. "Patient", "Resource"
	Expression  string
	Targets     []string // for reference-type parameters
	Components  []Component
	ElementHint ElementHint
	Modifiers   []string
	Comparators []string
	MultipleOr  bool
	MultipleAnd bool
}

// appliesTo reports whether the parameter is usable against resourceType,
// treating "Resource"/"DomainResource" base entries as wildcards.
func (p *SearchParameter) appliesTo(resourceType string) bool {
	for _, b := range p.Base {
		if b == resourceType || b == "Resource" || b == "DomainResource" {
			return true
		}
	}
	return false
}
