package search

import (
	"fmt"
	"strings"
)

// compileFullText compiles a _text or _content value into a tsvector match
// against the resource's full JSONB representation, using a plain-language
// PostgreSQL tsquery (no phrase/prefix operators, matching the subset of the
// full-text grammar the narrative/content search actually needs). _text
// restricts the match to the narrative text (resource->'text'->>'div'), while
// _content matches across the whole resource document.
func compileFullText(b *argBuilder, mode, raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return "", newFault(InvalidFilterExpression, mode, fmt.Errorf("full-text query must not be empty"))
	}

	var column string
	switch mode {
	case "_text":
		column = "resource->'text'->>'div'"
	case "_content":
		column = "resource::text"
	default:
		return "", newFault(InvalidFilterExpression, mode, fmt.Errorf("unknown full-text parameter %q", mode))
	}

	return fmt.Sprintf(
		"to_tsvector('english', coalesce(%s, '')) @@ plainto_tsquery('english', %s)",
		column, b.bind(query),
	), nil
}
