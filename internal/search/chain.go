package search

import (
	"fmt"

	"github.com/fhircore/fhircore/internal/registry"
)

// MaxChainDepth bounds how many dot-separated hops a forward chain or
// `_has` reverse chain may have, matching the FHIR specification's limit.
const MaxChainDepth = 3

// compileChain compiles a forward chain `param1:Type1.param2:Type2.leaf=value`
// into nested EXISTS clauses walking search_idx_reference: at each hop an
// EXISTS subquery asserts a reference-index row from the current row to a
// concrete target id, then the next hop (or the leaf dispatcher, at the
// final hop) applies its own constraint against that target row (§4.4.5).
func compileChain(b *argBuilder, reg *registry.Registry, resourceType string, p RawParam) (string, error) {
	if len(p.Chain) > MaxChainDepth {
		return "", newFault(InvalidChain, p.Leaf().Code, fmt.Errorf("chain depth %d exceeds maximum %d", len(p.Chain), MaxChainDepth))
	}
	return compileChainHop(b, reg, resourceType, p.Chain, p.Modifier, p.Values, "")
}

// compileChainHop recursively compiles one hop. rowAlias is the SQL table
// alias of the row already positioned at this nesting level ("" means the
// top-level query, whose row columns are referenced bare as "id"/"resource").
func compileChainHop(b *argBuilder, reg *registry.Registry, currentType string, chain []ChainSegment, modifier Modifier, values []ParamValue, rowAlias string) (string, error) {
	idAccessor, resourceAccessor := "id", "resource"
	if rowAlias != "" {
		idAccessor, resourceAccessor = rowAlias+".id", rowAlias+".resource"
	}

	hop := chain[0]

	if len(chain) == 1 {
		leafDef, ok := reg.Lookup(currentType, hop.Code)
		if !ok {
			return "", newFault(UnknownParameter, hop.Code, nil)
		}
		path := translatePathOnColumn(leafDef.Expression, resourceAccessor)
		return dispatchTyped(b, leafDef, path, RawParam{
			Chain:    []ChainSegment{hop},
			Modifier: modifier,
			Values:   values,
		})
	}

	refDef, ok := reg.Lookup(currentType, hop.Code)
	if !ok {
		return "", newFault(UnknownParameter, hop.Code, nil)
	}
	if refDef.Type != registry.TypeReference {
		return "", newFault(InvalidChain, hop.Code, fmt.Errorf("%q is not a reference parameter", hop.Code))
	}

	targetType := hop.TargetType
	if targetType == "" {
		if len(refDef.Targets) == 1 {
			targetType = refDef.Targets[0]
		} else {
			return "", newFault(AmbiguousTarget, hop.Code, fmt.Errorf("parameter %q admits multiple target types, use :Type to disambiguate", hop.Code))
		}
	}

	table := "fhir_" + lowercase(targetType)
	alias := fmt.Sprintf("chain_%d_%s", len(chain), lowercase(targetType))

	inner, err := compileChainHop(b, reg, targetType, chain[1:], modifier, values, alias)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`EXISTS (
			SELECT 1 FROM search_idx_reference %s_sir
			JOIN %s %s ON %s.id = %s_sir.target_id
			WHERE %s_sir.resource_type = %s AND %s_sir.resource_id = %s
			  AND %s_sir.param_code = %s AND %s_sir.target_type = %s
			  AND (%s)
		)`,
		alias, table, alias, alias, alias,
		alias, b.bind(currentType), alias, idAccessor,
		alias, b.bind(hop.Code), alias, b.bind(targetType),
		inner,
	), nil
}

// compileHas compiles a `_has:Source:ref:leaf=value` reverse chain
// (possibly nested): the EXISTS quantifier matches source rows that
// reference the current row via the given parameter, symmetric to the
// forward-chain construction above.
func compileHas(b *argBuilder, reg *registry.Registry, resourceType string, p RawHasParam) (string, error) {
	if len(p.Segments) > MaxChainDepth {
		return "", newFault(InvalidChain, p.LeafParam, fmt.Errorf("_has nesting depth %d exceeds maximum %d", len(p.Segments), MaxChainDepth))
	}
	return compileHasHop(b, reg, resourceType, p.Segments, p.LeafParam, p.Modifier, p.Values, "")
}

func compileHasHop(b *argBuilder, reg *registry.Registry, targetType string, segments []HasSegment, leafParam string, modifier Modifier, values []ParamValue, rowAlias string) (string, error) {
	idAccessor := "id"
	if rowAlias != "" {
		idAccessor = rowAlias + ".id"
	}

	seg := segments[0]
	refDef, ok := reg.Lookup(seg.SourceType, seg.RefParam)
	if !ok {
		return "", newFault(UnknownParameter, seg.RefParam, nil)
	}
	if refDef.Type != registry.TypeReference {
		return "", newFault(InvalidChain, seg.RefParam, fmt.Errorf("%q is not a reference parameter", seg.RefParam))
	}

	table := "fhir_" + lowercase(seg.SourceType)
	alias := fmt.Sprintf("has_%d_%s", len(segments), lowercase(seg.SourceType))

	var inner string
	var err error
	if len(segments) == 1 {
		leafDef, ok := reg.Lookup(seg.SourceType, leafParam)
		if !ok {
			return "", newFault(UnknownParameter, leafParam, nil)
		}
		path := translatePathOnColumn(leafDef.Expression, alias+".resource")
		inner, err = dispatchTyped(b, leafDef, path, RawParam{
			Chain:    []ChainSegment{{Code: leafParam}},
			Modifier: modifier,
			Values:   values,
		})
	} else {
		inner, err = compileHasHop(b, reg, seg.SourceType, segments[1:], leafParam, modifier, values, alias)
	}
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`EXISTS (
			SELECT 1 FROM %s %s
			JOIN search_idx_reference %s_sir ON %s_sir.resource_id = %s.id AND %s_sir.resource_type = %s
			WHERE %s_sir.param_code = %s AND %s_sir.target_type = %s AND %s_sir.target_id = %s
			  AND (%s)
		)`,
		table, alias,
		alias, alias, alias, alias, b.bind(seg.SourceType),
		alias, b.bind(seg.RefParam), alias, b.bind(targetType), alias, idAccessor,
		inner,
	), nil
}

func lowercase(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
