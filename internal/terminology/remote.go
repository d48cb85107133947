package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// RemoteProvider delegates to an external FHIR terminology server for code
// systems too large to mirror in process (SNOMED CT, RxNorm, LOINC's full
// panel hierarchy). No HTTP client library appears anywhere in the
// retrieved corpus for this kind of outbound conformance-server call — every
// example repo that talks to another FHIR server does so over
// net/http directly — so this component is built on the standard library
// rather than a third-party client, matching that gap.
type RemoteProvider struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	expandedAt time.Time
	result     *ExpandedValueSet
}

// NewRemoteProvider returns a RemoteProvider targeting baseURL (a FHIR
// terminology server's root, e.g. "https://tx.example.org/fhir"), caching
// $expand results for ttl to absorb repeated :in modifier lookups within a
// short burst of searches.
func NewRemoteProvider(baseURL string, ttl time.Duration) *RemoteProvider {
	return &RemoteProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
	}
}

func (r *RemoteProvider) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("terminology: build request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("terminology: remote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("terminology: remote server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *RemoteProvider) LookupCode(ctx context.Context, system, code, version string) (*LookupResult, error) {
	q := url.Values{"system": {system}, "code": {code}}
	if version != "" {
		q.Set("version", version)
	}
	var params struct {
		Parameter []struct {
			Name         string `json:"name"`
			ValueString  string `json:"valueString"`
		} `json:"parameter"`
	}
	if err := r.get(ctx, "/CodeSystem/$lookup", q, &params); err != nil {
		return nil, err
	}

	result := &LookupResult{System: system, Code: code}
	for _, p := range params.Parameter {
		switch p.Name {
		case "display":
			result.Display = p.ValueString
		case "name":
			result.Name = p.ValueString
		case "version":
			result.Version = p.ValueString
		}
	}
	return result, nil
}

func (r *RemoteProvider) ValidateCode(ctx context.Context, system, code string) (bool, error) {
	var outcome struct {
		Parameter []struct {
			Name         string `json:"name"`
			ValueBoolean bool   `json:"valueBoolean"`
		} `json:"parameter"`
	}
	if err := r.get(ctx, "/CodeSystem/$validate-code", url.Values{"system": {system}, "code": {code}}, &outcome); err != nil {
		return false, err
	}
	for _, p := range outcome.Parameter {
		if p.Name == "result" {
			return p.ValueBoolean, nil
		}
	}
	return false, nil
}

func (r *RemoteProvider) ValidateCodeVS(ctx context.Context, valueSetURL, system, code string) (bool, error) {
	var outcome struct {
		Parameter []struct {
			Name         string `json:"name"`
			ValueBoolean bool   `json:"valueBoolean"`
		} `json:"parameter"`
	}
	q := url.Values{"url": {valueSetURL}, "code": {code}}
	if system != "" {
		q.Set("system", system)
	}
	if err := r.get(ctx, "/ValueSet/$validate-code", q, &outcome); err != nil {
		return false, err
	}
	for _, p := range outcome.Parameter {
		if p.Name == "result" {
			return p.ValueBoolean, nil
		}
	}
	return false, nil
}

func (r *RemoteProvider) ExpandValueSet(ctx context.Context, urlOrID, filter string, offset, count int) (*ExpandedValueSet, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", urlOrID, filter, offset, count)

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Since(entry.expandedAt) < r.ttl {
		r.mu.Unlock()
		return entry.result, nil
	}
	r.mu.Unlock()

	q := url.Values{"url": {urlOrID}}
	if filter != "" {
		q.Set("filter", filter)
	}
	if count > 0 {
		q.Set("count", fmt.Sprintf("%d", count))
		q.Set("offset", fmt.Sprintf("%d", offset))
	}

	var vs struct {
		URL       string `json:"url"`
		Version   string `json:"version"`
		Name      string `json:"name"`
		Title     string `json:"title"`
		Status    string `json:"status"`
		Expansion struct {
			Total    int `json:"total"`
			Offset   int `json:"offset"`
			Contains []struct {
				System  string `json:"system"`
				Version string `json:"version"`
				Code    string `json:"code"`
				Display string `json:"display"`
			} `json:"contains"`
		} `json:"expansion"`
	}
	if err := r.get(ctx, "/ValueSet/$expand", q, &vs); err != nil {
		return nil, err
	}

	result := &ExpandedValueSet{
		URL: vs.URL, Version: vs.Version, Name: vs.Name, Title: vs.Title, Status: vs.Status,
		Total: vs.Expansion.Total, Offset: vs.Expansion.Offset,
	}
	for _, c := range vs.Expansion.Contains {
		result.Contains = append(result.Contains, ValueSetContains{System: c.System, Version: c.Version, Code: c.Code, Display: c.Display})
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{expandedAt: time.Now(), result: result}
	r.mu.Unlock()
	return result, nil
}

func (r *RemoteProvider) ExpandHierarchy(ctx context.Context, system, code string) ([]string, error) {
	expanded, err := r.ExpandValueSet(ctx, system, "", 0, 0)
	if err != nil {
		return nil, err
	}
	out := []string{code}
	for _, c := range expanded.Contains {
		if c.Code == code {
			continue
		}
		rel, err := r.Subsumes(ctx, system, code, c.Code)
		if err != nil {
			return nil, err
		}
		if rel == Subsumes {
			out = append(out, c.Code)
		}
	}
	return out, nil
}

func (r *RemoteProvider) Subsumes(ctx context.Context, system, codeA, codeB string) (SubsumptionOutcome, error) {
	var outcome struct {
		Parameter []struct {
			Name        string `json:"name"`
			ValueCode   string `json:"valueCode"`
		} `json:"parameter"`
	}
	q := url.Values{"system": {system}, "codeA": {codeA}, "codeB": {codeB}}
	if err := r.get(ctx, "/CodeSystem/$subsumes", q, &outcome); err != nil {
		return "", err
	}
	for _, p := range outcome.Parameter {
		if p.Name == "outcome" {
			return SubsumptionOutcome(p.ValueCode), nil
		}
	}
	return NotSubsumed, nil
}

func (r *RemoteProvider) TranslateCode(ctx context.Context, conceptMapURL, system, code string) ([]Translation, error) {
	var outcome struct {
		Parameter []struct {
			Name string `json:"name"`
			Part []struct {
				Name          string `json:"name"`
				ValueCoding   struct {
					System  string `json:"system"`
					Code    string `json:"code"`
					Display string `json:"display"`
				} `json:"valueCoding"`
				ValueCode string `json:"valueCode"`
			} `json:"part"`
		} `json:"parameter"`
	}
	q := url.Values{"url": {conceptMapURL}, "system": {system}, "code": {code}}
	if err := r.get(ctx, "/ConceptMap/$translate", q, &outcome); err != nil {
		return nil, err
	}

	var out []Translation
	for _, p := range outcome.Parameter {
		if p.Name != "match" {
			continue
		}
		t := Translation{}
		for _, part := range p.Part {
			switch part.Name {
			case "concept":
				t.System = part.ValueCoding.System
				t.Code = part.ValueCoding.Code
				t.Display = part.ValueCoding.Display
			case "equivalence":
				t.Equivalence = part.ValueCode
			}
		}
		out = append(out, t)
	}
	return out, nil
}

var _ Provider = (*RemoteProvider)(nil)
