package codec

import "strings"

// ReferenceKind classifies a FHIR reference string.
type ReferenceKind string

const (
	ReferenceRelative  ReferenceKind = "relative"  // "Patient/123"
	ReferenceAbsolute  ReferenceKind = "absolute"  // "https://example.org/fhir/Patient/123"
	ReferenceContained ReferenceKind = "contained" // "#obs1"
	ReferenceIdentifier ReferenceKind = "identifier" // {identifier: ...} logical reference, no literal string
	ReferenceOpaque    ReferenceKind = "opaque"    // anything else (urn:uuid:..., bare id, etc.)
)

// ParsedReference is the result of classifying a reference string.
type ParsedReference struct {
	Kind         ReferenceKind
	ResourceType string // set for Relative and Absolute
	ID           string // set for Relative, Absolute, and Contained (without '#')
	Raw          string
}

// ParseReference classifies a reference string. baseURL, when non-empty, is
// stripped from absolute references that target this server, normalizing
// them down to Relative so the graph/search traversal code has one shape to
// deal with.
func ParseReference(s string, baseURL string) ParsedReference {
	if s == "" {
		return ParsedReference{Kind: ReferenceOpaque, Raw: s}
	}

	if strings.HasPrefix(s, "#") {
		return ParsedReference{Kind: ReferenceContained, ID: s[1:], Raw: s}
	}

	if baseURL != "" && strings.HasPrefix(s, baseURL) {
		s = strings.TrimPrefix(s, baseURL)
		s = strings.TrimPrefix(s, "/")
	}

	if strings.Contains(s, "://") {
		// Absolute URL. Only resolvable to a type/id pair when the last two
		// path segments look like "Type/id"; otherwise treat as opaque.
		segments := strings.Split(strings.TrimRight(s, "/"), "/")
		if len(segments) >= 2 {
			resourceType := segments[len(segments)-2]
			id := segments[len(segments)-1]
			if looksLikeResourceType(resourceType) {
				return ParsedReference{Kind: ReferenceAbsolute, ResourceType: resourceType, ID: id, Raw: s}
			}
		}
		return ParsedReference{Kind: ReferenceOpaque, Raw: s}
	}

	// Relative reference: "Type/id", possibly with a history suffix
	// "Type/id/_history/vid" which is truncated to the base id.
	parts := strings.Split(s, "/")
	if len(parts) >= 2 && looksLikeResourceType(parts[0]) {
		return ParsedReference{Kind: ReferenceRelative, ResourceType: parts[0], ID: parts[1], Raw: s}
	}

	return ParsedReference{Kind: ReferenceOpaque, Raw: s}
}

// looksLikeResourceType applies the FHIR naming convention: resource type
// names are capitalized alphabetic identifiers (e.g. "Patient", "Observation").
func looksLikeResourceType(s string) bool {
	if s == "" {
		return false
	}
	if s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
