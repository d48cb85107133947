package search

import (
	"fmt"
	"strings"

	"github.com/fhircore/fhircore/internal/registry"
)

// dispatchComposite compiles a composite search parameter (§4.4.3
// Composite). Value syntax is `v1$v2$...`, one value per component, each
// compiled using its own sub-parameter's type (resolved from the
// component's DefinitionURL) against the same anchor element: when the
// composite's ElementHint is HintArray, every component must be satisfied
// by the same element of a repeating backbone (e.g. Observation.component),
// expressed as a single EXISTS over jsonb_array_elements; otherwise the
// components are independent accessors off the resource root (e.g.
// Observation.code + Observation.value for code-value-quantity, since
// Observation itself does not repeat).
func dispatchComposite(b *argBuilder, reg *registry.Registry, def *registry.SearchParameter, p RawParam) (string, error) {
	if len(def.Components) == 0 {
		return "", newFault(UnsupportedParameterType, def.Code, nil)
	}

	var clauses []string
	for _, v := range p.Values {
		values := strings.SplitN(v.Raw, "$", len(def.Components))
		if len(values) != len(def.Components) {
			return "", newFault(InvalidChain, def.Code, fmt.Errorf("expected %d composite components, got %d", len(def.Components), len(values)))
		}

		anchorColumn := "resource"
		var anchorClause string
		if def.ElementHint == registry.HintArray {
			anchorPath := TranslatePath(def.Expression)
			anchorColumn = "elem"
			anchorClause = fmt.Sprintf("jsonb_array_elements(%s) elem", anchorPath.JSONAccessor())
		}

		var componentClauses []string
		for i, comp := range def.Components {
			subDef, ok := reg.ByURL(comp.DefinitionURL)
			if !ok {
				return "", newFault(UnknownParameter, comp.DefinitionURL, nil)
			}
			compPath := TranslateRelativePath(comp.Expression, anchorColumn)
			clause, err := dispatchTyped(b, subDef, compPath, RawParam{
				Chain:  []ChainSegment{{Code: subDef.Code}},
				Values: []ParamValue{ParsePrefixedValue(values[i])},
			})
			if err != nil {
				return "", err
			}
			componentClauses = append(componentClauses, clause)
		}

		joined := strings.Join(componentClauses, " AND ")
		if anchorClause != "" {
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", anchorClause, joined))
		} else {
			clauses = append(clauses, "("+joined+")")
		}
	}
	return orJoin(clauses), nil
}
