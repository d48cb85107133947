package search

import (
	"net/url"
	"strconv"
	"strings"
)

// controlParamNames are recognized but never dispatched as a typed
// parameter, per §4.4.1.
var controlParamNames = map[string]bool{
	"_count": true, "_offset": true, "_sort": true, "_include": true,
	"_revinclude": true, "_total": true, "_summary": true, "_elements": true,
	"_contained": true, "_containedType": true, "_filter": true,
	"_text": true, "_content": true,
}

// ParseQuery splits a raw query string into the list of search parameters
// to dispatch, plus control parameters that configure pagination, sort,
// include, and totals. It is purely syntactic: it does not consult the
// registry, so chain segments and modifiers are recorded but not yet
// validated against a parameter's declared type.
func ParseQuery(values url.Values) ([]RawParam, []RawHasParam, ControlParams, []Warning, error) {
	var params []RawParam
	var hasParams []RawHasParam
	var warnings []Warning
	controls := ControlParams{Total: TotalNone, Count: -1}

	for name, rawValues := range values {
		if name == "" {
			continue
		}

		if strings.HasPrefix(name, "_has:") {
			hp, err := parseHasParam(name, rawValues)
			if err != nil {
				return nil, nil, controls, warnings, err
			}
			hasParams = append(hasParams, *hp)
			continue
		}

		base, _ := splitModifier(name)
		if controlParamNames[base] {
			if err := applyControl(&controls, base, rawValues); err != nil {
				return nil, nil, controls, warnings, err
			}
			continue
		}

		p, err := parseParam(name, rawValues)
		if err != nil {
			return nil, nil, controls, warnings, err
		}
		params = append(params, *p)
	}

	return params, hasParams, controls, warnings, nil
}

// splitModifier splits "name:modifier" into ("name", "modifier"); returns
// ("name", "") when there is no colon.
func splitModifier(name string) (string, string) {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return name, ""
}

// parseParam parses one non-_has, non-control parameter name (which may
// embed a forward chain) plus its comma-separated, prefix-carrying values.
func parseParam(name string, rawValues []string) (*RawParam, error) {
	segments := strings.Split(name, ".")
	chain := make([]ChainSegment, 0, len(segments))

	for i, seg := range segments {
		code, suffix := splitModifier(seg)
		if code == "" {
			return nil, newFault(InvalidChain, name, nil)
		}
		isLast := i == len(segments)-1
		if !isLast {
			// Mid-chain suffix, if present, is always a target-type marker.
			chain = append(chain, ChainSegment{Code: code, TargetType: suffix})
			continue
		}

		// Last segment: suffix is either a recognized modifier keyword or a
		// bare resource type name disambiguating a non-chained reference
		// parameter (the literal "Type" modifier of §4.4.1).
		p := &RawParam{}
		if suffix != "" {
			if validModifiers[Modifier(suffix)] {
				p.Modifier = Modifier(suffix)
			} else {
				p.Modifier = ModifierType
				p.TargetType = suffix
			}
		}
		chain = append(chain, ChainSegment{Code: code})
		p.Chain = chain
		p.Values = parseValues(rawValues)
		return p, nil
	}
	return nil, newFault(InvalidChain, name, nil)
}

// parseValues flattens repeated query parameters (AND) each holding
// comma-separated values (OR), extracting a leading prefix from each.
func parseValues(rawValues []string) []ParamValue {
	var out []ParamValue
	for _, raw := range rawValues {
		for _, v := range splitUnescapedComma(raw) {
			out = append(out, ParsePrefixedValue(v))
		}
	}
	return out
}

// splitUnescapedComma splits on commas not preceded by a backslash escape,
// matching the FHIR search grammar's escaping rule for literal commas.
func splitUnescapedComma(s string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == ',' {
			cur.WriteByte(',')
			i++
			continue
		}
		if s[i] == ',' {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	parts = append(parts, cur.String())
	return parts
}

// ParsePrefixedValue extracts a two-letter comparator prefix from a value,
// defaulting to eq when absent or unrecognized.
func ParsePrefixedValue(raw string) ParamValue {
	if len(raw) >= 2 {
		prefix := Prefix(strings.ToLower(raw[:2]))
		if validPrefixes[prefix] {
			return ParamValue{Prefix: prefix, Raw: raw[2:]}
		}
	}
	return ParamValue{Prefix: PrefixEq, Raw: raw}
}

// parseHasParam parses "_has:Type:param:..." possibly nested, terminating
// in a leaf parameter name (which may itself carry a modifier).
func parseHasParam(name string, rawValues []string) (*RawHasParam, error) {
	rest := name
	var segs []HasSegment
	for strings.HasPrefix(rest, "_has:") {
		rest = strings.TrimPrefix(rest, "_has:")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return nil, newFault(InvalidChain, name, nil)
		}
		sourceType := parts[0]
		rest = parts[1]

		refAndLeaf := strings.SplitN(rest, ":", 2)
		if len(refAndLeaf) != 2 {
			return nil, newFault(InvalidChain, name, nil)
		}
		segs = append(segs, HasSegment{SourceType: sourceType, RefParam: refAndLeaf[0]})

		if strings.HasPrefix(refAndLeaf[1], "_has:") {
			// Nested reverse chain: the reference parameter code just read
			// joins this level to the next.
			rest = refAndLeaf[1]
			continue
		}

		leaf, modSuffix := splitModifier(refAndLeaf[1])
		hp := &RawHasParam{Segments: segs, LeafParam: leaf, Values: parseValues(rawValues)}
		if modSuffix != "" {
			hp.Modifier = Modifier(modSuffix)
		}
		return hp, nil
	}
	return nil, newFault(InvalidChain, name, nil)
}

func applyControl(c *ControlParams, name string, rawValues []string) error {
	if len(rawValues) == 0 {
		return nil
	}
	v := rawValues[len(rawValues)-1]

	switch name {
	case "_count":
		n, err := strconv.Atoi(v)
		if err != nil {
			return newFault(InvalidNumberFormat, name, err)
		}
		c.Count = n
	case "_offset":
		n, err := strconv.Atoi(v)
		if err != nil {
			return newFault(InvalidNumberFormat, name, err)
		}
		c.Offset = n
	case "_sort":
		for _, key := range strings.Split(v, ",") {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if strings.HasPrefix(key, "-") {
				c.Sort = append(c.Sort, SortSpec{Code: key[1:], Descending: true})
			} else {
				c.Sort = append(c.Sort, SortSpec{Code: key})
			}
		}
	case "_include":
		for _, raw := range rawValues {
			c.Include = append(c.Include, parseIncludeSpec(raw))
		}
	case "_revinclude":
		for _, raw := range rawValues {
			c.RevInclude = append(c.RevInclude, parseIncludeSpec(raw))
		}
	case "_total":
		c.Total = TotalMode(v)
	case "_summary":
		c.Summary = v
	case "_elements":
		c.Elements = strings.Split(v, ",")
	case "_contained":
		c.Contained = v
	case "_containedType":
		c.ContainedType = v
	case "_filter":
		c.Filter = v
	case "_text":
		c.Text = v
	case "_content":
		c.Content = v
	}
	return nil
}

// parseIncludeSpec parses "SourceType:param[:TargetType]", optionally
// suffixed with ":iterate" per the FHIR R4 `_include:iterate` form.
func parseIncludeSpec(raw string) IncludeSpec {
	iterate := false
	if strings.HasSuffix(raw, ":iterate") {
		iterate = true
		raw = strings.TrimSuffix(raw, ":iterate")
	}
	parts := strings.SplitN(raw, ":", 3)
	spec := IncludeSpec{Iterate: iterate}
	if len(parts) > 0 {
		spec.SourceType = parts[0]
	}
	if len(parts) > 1 {
		spec.Param = parts[1]
	}
	if len(parts) > 2 {
		spec.TargetType = parts[2]
	}
	return spec
}
