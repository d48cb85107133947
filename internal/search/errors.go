package search

import (
	"fmt"

	"github.com/fhircore/fhircore/internal/storeerr"
)

// FaultKind classifies why a search query failed to compile, per §4.4.9.
type FaultKind string

const (
	UnknownParameter         FaultKind = "UnknownParameter"
	InvalidModifier          FaultKind = "InvalidModifier"
	InvalidPrefix            FaultKind = "InvalidPrefix"
	AmbiguousTarget          FaultKind = "AmbiguousTarget"
	UnknownTargetType        FaultKind = "UnknownTargetType"
	InvalidDateFormat        FaultKind = "InvalidDateFormat"
	InvalidNumberFormat      FaultKind = "InvalidNumberFormat"
	InvalidChain             FaultKind = "InvalidChain"
	UnsupportedParameterType FaultKind = "UnsupportedParameterType"
	InvalidFilterExpression  FaultKind = "InvalidFilterExpression"
	TerminologyUnavailable   FaultKind = "TerminologyUnavailable"
)

// Fault is a classified search-compilation error naming the offending
// parameter and the underlying cause. It implements storeerr.Error so
// callers can dispatch on Kind() the same way they do for storage errors.
type Fault struct {
	FaultKind FaultKind
	Param     string
	Cause     error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("search: %s on parameter %q: %v", f.FaultKind, f.Param, f.Cause)
	}
	return fmt.Sprintf("search: %s on parameter %q", f.FaultKind, f.Param)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Kind always reports InvalidSearch; FaultKind carries the §4.4.9 subkind.
func (f *Fault) Kind() storeerr.Kind { return storeerr.KindInvalidSearch }

func newFault(kind FaultKind, param string, cause error) *Fault {
	return &Fault{FaultKind: kind, Param: param, Cause: cause}
}
