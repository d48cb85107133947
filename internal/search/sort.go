package search

import (
	"fmt"
	"strings"

	"github.com/fhircore/fhircore/internal/registry"
)

// compileSort renders a _sort list into an ORDER BY clause. _lastUpdated
// and _id address the row's own columns directly (ts, id);
// every other key resolves through the registry like an ordinary search
// parameter and sorts on its JSONB accessor, cast to a comparable type
// per the parameter's declared search type so e.g. numeric/date keys sort
// by value rather than lexically.
func compileSort(reg *registry.Registry, resourceType string, specs []SortSpec) (string, error) {
	if len(specs) == 0 {
		return "ORDER BY ts DESC, id", nil
	}

	var parts []string
	for _, s := range specs {
		expr, err := sortExpr(reg, resourceType, s.Code)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s NULLS LAST", expr, dir))
	}
	// stable tiebreak so pagination offsets never reorder identical rows
	parts = append(parts, "id ASC")
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func sortExpr(reg *registry.Registry, resourceType, code string) (string, error) {
	switch code {
	case "_lastUpdated":
		return "ts", nil
	case "_id":
		return "id", nil
	}

	def, ok := reg.Lookup(resourceType, code)
	if !ok {
		return "", newFault(UnknownParameter, code, nil)
	}
	accessor := pathFor(def).Accessor()

	switch def.Type {
	case registry.TypeNumber, registry.TypeQuantity:
		return fmt.Sprintf("(%s)::numeric", accessor), nil
	case registry.TypeDate:
		return fmt.Sprintf("(%s)::timestamptz", accessor), nil
	default:
		return accessor, nil
	}
}
