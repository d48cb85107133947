package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// LocalProvider answers terminology questions from CodeSystem/ValueSet
// resources mirrored in process memory. It starts from a handful of builtin
// FHIR-core code systems (generalized from the teacher's
// InMemoryTerminologyService.registerBuiltins, which hardcoded five) and
// layers in whatever CodeSystem/ValueSet resources have been persisted to
// the fhir_codesystem/fhir_valueset tables, reloaded on demand by Refresh.
type LocalProvider struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu          sync.RWMutex
	codeSystems map[string]*CodeSystem
	valueSets   map[string]*ValueSet
}

// NewLocalProvider returns a LocalProvider with the builtin code systems
// registered; callers should call Refresh once pool is reachable to layer
// in persisted conformance resources.
func NewLocalProvider(pool *pgxpool.Pool, logger zerolog.Logger) *LocalProvider {
	p := &LocalProvider{
		pool:        pool,
		logger:      logger,
		codeSystems: make(map[string]*CodeSystem),
		valueSets:   make(map[string]*ValueSet),
	}
	p.registerBuiltins()
	return p
}

// registerBuiltins seeds the small set of code systems FHIR resources
// reference constantly, so a fresh deployment with no persisted
// CodeSystem/ValueSet resources yet can still validate observation-status,
// administrative-gender, and friends.
func (p *LocalProvider) registerBuiltins() {
	builtins := []struct {
		url, name, version string
		codes              map[string]string
	}{
		{"http://hl7.org/fhir/observation-status", "ObservationStatus", "4.0.1", map[string]string{
			"registered": "Registered", "preliminary": "Preliminary", "final": "Final",
			"amended": "Amended", "corrected": "Corrected", "cancelled": "Cancelled",
			"entered-in-error": "Entered in Error", "unknown": "Unknown",
		}},
		{"http://hl7.org/fhir/administrative-gender", "AdministrativeGender", "4.0.1", map[string]string{
			"male": "Male", "female": "Female", "other": "Other", "unknown": "Unknown",
		}},
		{"http://hl7.org/fhir/encounter-status", "EncounterStatus", "4.0.1", map[string]string{
			"planned": "Planned", "arrived": "Arrived", "triaged": "Triaged",
			"in-progress": "In Progress", "onleave": "On Leave", "finished": "Finished",
			"cancelled": "Cancelled", "entered-in-error": "Entered in Error", "unknown": "Unknown",
		}},
		{"http://terminology.hl7.org/CodeSystem/condition-clinical", "ConditionClinicalStatusCodes", "4.0.1", map[string]string{
			"active": "Active", "recurrence": "Recurrence", "relapse": "Relapse",
			"inactive": "Inactive", "remission": "Remission", "resolved": "Resolved",
		}},
		{"http://hl7.org/fhir/publication-status", "PublicationStatus", "4.0.1", map[string]string{
			"draft": "Draft", "active": "Active", "retired": "Retired", "unknown": "Unknown",
		}},
	}

	for _, b := range builtins {
		cs := &CodeSystem{URL: b.url, Name: b.name, Version: b.version, Concepts: make(map[string]*Concept)}
		codes := make([]string, 0, len(b.codes))
		for code, display := range b.codes {
			cs.Concepts[code] = &Concept{Code: code, Display: display}
			codes = append(codes, code)
		}
		p.codeSystems[b.url] = cs
		p.valueSets[b.url] = &ValueSet{
			URL: b.url, Name: b.name, Title: b.name, Version: b.version, Status: "active",
			Include: []Include{{System: b.url, Codes: codes}},
		}
	}
}

// Refresh reloads every persisted CodeSystem and ValueSet resource from
// storage and merges them into the in-memory index under mu: entries are
// added or overwritten by url, and none are removed. Errors
// reading one resource are logged and skipped rather than failing the
// whole refresh, so one malformed conformance resource cannot take the
// terminology provider down.
func (p *LocalProvider) Refresh(ctx context.Context) error {
	codeSystems, err := p.loadCodeSystems(ctx)
	if err != nil {
		return err
	}
	valueSets, err := p.loadValueSets(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for url, cs := range codeSystems {
		p.codeSystems[url] = cs
	}
	for url, vs := range valueSets {
		p.valueSets[url] = vs
	}
	return nil
}

func (p *LocalProvider) loadCodeSystems(ctx context.Context) (map[string]*CodeSystem, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `SELECT resource FROM fhir_codesystem WHERE status != 'deleted'`)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("terminology: load code systems: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*CodeSystem)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("terminology: scan code system: %w", err)
		}
		cs, url, err := decodeCodeSystem(raw)
		if err != nil {
			p.logger.Warn().Err(err).Msg("terminology: skipping malformed CodeSystem")
			continue
		}
		out[url] = cs
	}
	return out, rows.Err()
}

func (p *LocalProvider) loadValueSets(ctx context.Context) (map[string]*ValueSet, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `SELECT resource FROM fhir_valueset WHERE status != 'deleted'`)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("terminology: load value sets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*ValueSet)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("terminology: scan value set: %w", err)
		}
		vs, url, err := decodeValueSet(raw)
		if err != nil {
			p.logger.Warn().Err(err).Msg("terminology: skipping malformed ValueSet")
			continue
		}
		out[url] = vs
	}
	return out, rows.Err()
}

// isUndefinedTable treats a missing fhir_codesystem/fhir_valueset table (no
// CodeSystem/ValueSet has ever been created, so registry never ran
// EnsureSchema for it) as zero rows rather than a fatal error.
func isUndefinedTable(err error) bool {
	var pgErr interface{ SQLState() string }
	if asPgError(err, &pgErr) {
		return pgErr.SQLState() == "42P01"
	}
	return false
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	for err != nil {
		if c, ok := err.(interface{ SQLState() string }); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func decodeCodeSystem(raw []byte) (*CodeSystem, string, error) {
	var doc struct {
		URL     string `json:"url"`
		Name    string `json:"name"`
		Version string `json:"version"`
		Concept []struct {
			Code    string `json:"code"`
			Display string `json:"display"`
			Concept []struct {
				Code    string `json:"code"`
				Display string `json:"display"`
			} `json:"concept"`
		} `json:"concept"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("decode CodeSystem: %w", err)
	}
	if doc.URL == "" {
		return nil, "", fmt.Errorf("decode CodeSystem: missing url")
	}

	cs := &CodeSystem{URL: doc.URL, Name: doc.Name, Version: doc.Version, Concepts: make(map[string]*Concept)}
	for _, c := range doc.Concept {
		cs.Concepts[c.Code] = &Concept{Code: c.Code, Display: c.Display}
		for _, child := range c.Concept {
			cs.Concepts[child.Code] = &Concept{Code: child.Code, Display: child.Display, Parent: c.Code}
		}
	}
	return cs, doc.URL, nil
}

func decodeValueSet(raw []byte) (*ValueSet, string, error) {
	var doc struct {
		URL     string `json:"url"`
		Name    string `json:"name"`
		Title   string `json:"title"`
		Version string `json:"version"`
		Status  string `json:"status"`
		Compose struct {
			Include []struct {
				System  string `json:"system"`
				Concept []struct {
					Code string `json:"code"`
				} `json:"concept"`
			} `json:"include"`
		} `json:"compose"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("decode ValueSet: %w", err)
	}
	if doc.URL == "" {
		return nil, "", fmt.Errorf("decode ValueSet: missing url")
	}

	vs := &ValueSet{URL: doc.URL, Name: doc.Name, Title: doc.Title, Version: doc.Version, Status: doc.Status}
	for _, inc := range doc.Compose.Include {
		var codes []string
		for _, c := range inc.Concept {
			codes = append(codes, c.Code)
		}
		vs.Include = append(vs.Include, Include{System: inc.System, Codes: codes})
	}
	return vs, doc.URL, nil
}

func (p *LocalProvider) codeSystem(system string) (*CodeSystem, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cs, ok := p.codeSystems[system]
	return cs, ok
}

func (p *LocalProvider) valueSet(urlOrID string) (*ValueSet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if vs, ok := p.valueSets[urlOrID]; ok {
		return vs, true
	}
	for _, vs := range p.valueSets {
		if vs.Name == urlOrID {
			return vs, true
		}
	}
	return nil, false
}

func (p *LocalProvider) LookupCode(_ context.Context, system, code, _ string) (*LookupResult, error) {
	cs, ok := p.codeSystem(system)
	if !ok {
		return nil, fmt.Errorf("%w: code system %s", ErrNotFound, system)
	}
	concept, ok := cs.Concepts[code]
	if !ok {
		return nil, fmt.Errorf("%w: code %s in system %s", ErrNotFound, code, system)
	}
	return &LookupResult{System: system, Code: code, Name: cs.Name, Version: cs.Version, Display: concept.Display}, nil
}

func (p *LocalProvider) ValidateCode(_ context.Context, system, code string) (bool, error) {
	cs, ok := p.codeSystem(system)
	if !ok {
		return false, fmt.Errorf("%w: code system %s", ErrNotFound, system)
	}
	_, ok = cs.Concepts[code]
	return ok, nil
}

func (p *LocalProvider) ValidateCodeVS(ctx context.Context, valueSetURL, system, code string) (bool, error) {
	members, err := p.expandAll(valueSetURL)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Code == code && (system == "" || m.System == system) {
			return true, nil
		}
	}
	return false, nil
}

func (p *LocalProvider) ExpandValueSet(_ context.Context, urlOrID, filter string, offset, count int) (*ExpandedValueSet, error) {
	vs, ok := p.valueSet(urlOrID)
	if !ok {
		return nil, fmt.Errorf("%w: value set %s", ErrNotFound, urlOrID)
	}
	all, err := p.expandAll(urlOrID)
	if err != nil {
		return nil, err
	}

	var filtered []ValueSetContains
	for _, c := range all {
		if filter != "" &&
			!strings.Contains(strings.ToLower(c.Display), strings.ToLower(filter)) &&
			!strings.Contains(strings.ToLower(c.Code), strings.ToLower(filter)) {
			continue
		}
		filtered = append(filtered, c)
	}

	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + count
	if count <= 0 || end > total {
		end = total
	}

	return &ExpandedValueSet{
		URL: vs.URL, Version: vs.Version, Name: vs.Name, Title: vs.Title, Status: vs.Status,
		Total: total, Offset: offset, Contains: filtered[offset:end],
	}, nil
}

// expandAll materializes every member of a value set without filtering or
// pagination — shared by ExpandValueSet and the Bridge's :in/:not-in
// expansion, and by ValidateCodeVS.
func (p *LocalProvider) expandAll(urlOrID string) ([]ValueSetContains, error) {
	vs, ok := p.valueSet(urlOrID)
	if !ok {
		return nil, fmt.Errorf("%w: value set %s", ErrNotFound, urlOrID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []ValueSetContains
	for _, inc := range vs.Include {
		cs, ok := p.codeSystems[inc.System]
		if !ok {
			continue
		}
		codes := inc.Codes
		if len(codes) == 0 {
			for code := range cs.Concepts {
				codes = append(codes, code)
			}
		}
		for _, code := range codes {
			concept, ok := cs.Concepts[code]
			if !ok {
				continue
			}
			out = append(out, ValueSetContains{System: inc.System, Version: cs.Version, Code: concept.Code, Display: concept.Display})
		}
	}
	return out, nil
}

// ExpandHierarchy returns code and every descendant reachable by following
// Concept.Parent, the building block for the :below search modifier.
func (p *LocalProvider) ExpandHierarchy(_ context.Context, system, code string) ([]string, error) {
	cs, ok := p.codeSystem(system)
	if !ok {
		return nil, fmt.Errorf("%w: code system %s", ErrNotFound, system)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	children := make(map[string][]string, len(cs.Concepts))
	for c, concept := range cs.Concepts {
		if concept.Parent != "" {
			children[concept.Parent] = append(children[concept.Parent], c)
		}
	}

	out := []string{code}
	queue := []string{code}
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		for _, child := range children[head] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

// Subsumes walks both codes' ancestor chains in system to classify the is-a
// relationship, generalized from the teacher's SNOMED/ICD10-specific
// walkParents into one parent-chain walk over any loaded CodeSystem.
func (p *LocalProvider) Subsumes(_ context.Context, system, codeA, codeB string) (SubsumptionOutcome, error) {
	cs, ok := p.codeSystem(system)
	if !ok {
		return "", fmt.Errorf("%w: code system %s", ErrNotFound, system)
	}
	if codeA == codeB {
		return Equivalent, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if isAncestor(cs, codeA, codeB) {
		return Subsumes, nil
	}
	if isAncestor(cs, codeB, codeA) {
		return SubsumedBy, nil
	}
	return NotSubsumed, nil
}

// isAncestor reports whether ancestor appears somewhere in descendant's
// parent chain.
func isAncestor(cs *CodeSystem, ancestor, descendant string) bool {
	current := descendant
	for depth := 0; depth < 1000; depth++ {
		concept, ok := cs.Concepts[current]
		if !ok || concept.Parent == "" {
			return false
		}
		if concept.Parent == ancestor {
			return true
		}
		current = concept.Parent
	}
	return false
}

// ancestorsOf returns code and every ancestor reached by following
// Concept.Parent upward, the building block for the :above search
// modifier.
func (p *LocalProvider) ancestorsOf(system, code string) ([]string, error) {
	cs, ok := p.codeSystem(system)
	if !ok {
		return nil, fmt.Errorf("%w: code system %s", ErrNotFound, system)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := []string{code}
	current := code
	for depth := 0; depth < 1000; depth++ {
		concept, ok := cs.Concepts[current]
		if !ok || concept.Parent == "" {
			break
		}
		out = append(out, concept.Parent)
		current = concept.Parent
	}
	return out, nil
}

// TranslateCode has no local ConceptMap mirror yet (none of the builtin
// systems carry cross-system mappings); LocalProvider always reports
// ErrNotFound.
func (p *LocalProvider) TranslateCode(_ context.Context, conceptMapURL, system, code string) ([]Translation, error) {
	return nil, fmt.Errorf("%w: concept map %s", ErrNotFound, conceptMapURL)
}

var _ Provider = (*LocalProvider)(nil)
