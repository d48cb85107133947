package search

import (
	"fmt"
	"strings"
)

// Path is a JSONB accessor built from a SearchParameter's FHIRPath
// expression: a traverse chain ending in a text-extract, plus the bare
// segment list for callers (array unrolling, composite sub-expressions)
// that need the field names rather than the rendered SQL.
type Path struct {
	Segments []string
	column   string // base JSONB column, default "resource"
}

// TranslatePath converts a restricted FHIRPath expression into a Path by
// stripping the leading "ResourceType." root, splitting on ".", and
// dropping any segment from the first `.where(...)`/function call onward
// in favor of structural navigation only (per §4.4.2).
func TranslatePath(expression string) Path {
	return translatePathOnColumn(expression, "resource")
}

// TranslateRelativePath translates an expression with no leading resource
// type to strip (e.g. a composite component's "code" or
// "value.ofType(Quantity)") rooted at the given base column.
func TranslateRelativePath(expression, column string) Path {
	fields := strings.Split(expression, ".")
	segments := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.Contains(f, "(") {
			break
		}
		segments = append(segments, f)
	}
	return Path{Segments: segments, column: column}
}

func translatePathOnColumn(expression, column string) Path {
	parts := strings.Split(expression, ".")
	if len(parts) <= 1 {
		return Path{column: column}
	}
	fields := parts[1:]

	segments := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.Contains(f, "(") {
			break
		}
		segments = append(segments, f)
	}
	return Path{Segments: segments, column: column}
}

// Accessor renders the JSONB access expression for this path: intermediate
// segments traverse (`->`), the leaf segment text-extracts (`->>`). An
// empty path renders the bare column itself.
func (p Path) Accessor() string {
	if len(p.Segments) == 0 {
		return p.column
	}
	var b strings.Builder
	b.WriteString(p.column)
	for i, seg := range p.Segments {
		if i == len(p.Segments)-1 {
			fmt.Fprintf(&b, "->>'%s'", seg)
		} else {
			fmt.Fprintf(&b, "->'%s'", seg)
		}
	}
	return b.String()
}

// JSONAccessor renders the same path but keeps the final segment as JSONB
// (`->`) rather than text, for callers that need to further index into an
// array or object (element-hint expansion, composite components).
func (p Path) JSONAccessor() string {
	if len(p.Segments) == 0 {
		return p.column
	}
	var b strings.Builder
	b.WriteString(p.column)
	for _, seg := range p.Segments {
		fmt.Fprintf(&b, "->'%s'", seg)
	}
	return b.String()
}

// Field appends a sub-field to a JSON (non-text) path, used when an
// element hint unrolls an array and needs to reach into each element.
func (p Path) Field(name string) Path {
	segs := make([]string, len(p.Segments)+1)
	copy(segs, p.Segments)
	segs[len(p.Segments)] = name
	return Path{Segments: segs, column: p.column}
}
