package search

import (
	"fmt"

	"github.com/fhircore/fhircore/internal/registry"
)

// dispatchMissing implements the `:missing` modifier shared by every
// parameter type: `:missing=true` selects rows where the field is absent
// or JSON null, `:missing=false` selects the complement.
func dispatchMissing(def *registry.SearchParameter, p RawParam) (string, error) {
	path := pathFor(def)
	want := true
	if len(p.Values) > 0 {
		want = p.Values[0].Raw == "true"
	}
	cond := fmt.Sprintf("(%s IS NULL)", path.JSONAccessor())
	if want {
		return cond, nil
	}
	return "NOT " + cond, nil
}
