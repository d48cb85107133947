// Package codec converts between wire FHIR JSON and the storage package's
// ResourceEnvelope, and classifies reference strings. It holds no database
// or network dependency: every function is a pure transformation.
package codec

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status mirrors the soft-delete marker carried on every envelope.
type Status string

const (
	StatusActive  Status = "active"
	StatusUpdated Status = "updated"
	StatusDeleted Status = "deleted"
)

// Envelope is the canonical in-memory form of a persisted resource: the wire
// JSON with resourceType/id/meta/status projected out of the generic
// content document, so storage and search never need a resource-type switch
// statement to reach a field.
type Envelope struct {
	ResourceType string
	ID           string
	VersionID    string
	LastUpdated  time.Time
	Profile      []string
	Status       Status
	// Content holds the resource body with resourceType, id, and meta
	// removed — every other FHIR element, arbitrarily nested.
	Content map[string]interface{}
}

type wireMeta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

// Decode parses wire JSON into an Envelope. The resourceType field is
// required; id and meta are optional (absent on a create request).
func Decode(raw []byte) (*Envelope, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode resource json: %w", err)
	}

	resourceType, _ := doc["resourceType"].(string)
	if resourceType == "" {
		return nil, fmt.Errorf("decode resource json: missing resourceType")
	}

	env := &Envelope{
		ResourceType: resourceType,
		Status:       StatusActive,
		Content:      doc,
	}

	if id, ok := doc["id"].(string); ok {
		env.ID = id
	}
	delete(doc, "id")
	delete(doc, "resourceType")

	if rawMeta, ok := doc["meta"]; ok {
		metaBytes, err := json.Marshal(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("decode resource json: re-marshal meta: %w", err)
		}
		var meta wireMeta
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return nil, fmt.Errorf("decode resource json: meta: %w", err)
		}
		env.VersionID = meta.VersionID
		env.Profile = meta.Profile
		if meta.LastUpdated != "" {
			t, err := time.Parse(time.RFC3339, meta.LastUpdated)
			if err != nil {
				return nil, fmt.Errorf("decode resource json: meta.lastUpdated: %w", err)
			}
			env.LastUpdated = t
		}
	}
	delete(doc, "meta")

	return env, nil
}

// Encode re-expands an Envelope into compliant resource JSON, injecting
// resourceType, id, and meta back into the content document. The source
// Content map is not mutated.
func Encode(env *Envelope) ([]byte, error) {
	doc := make(map[string]interface{}, len(env.Content)+3)
	for k, v := range env.Content {
		doc[k] = v
	}
	doc["resourceType"] = env.ResourceType
	if env.ID != "" {
		doc["id"] = env.ID
	}

	meta := wireMeta{
		VersionID: env.VersionID,
		Profile:   env.Profile,
	}
	if !env.LastUpdated.IsZero() {
		meta.LastUpdated = env.LastUpdated.UTC().Format(time.RFC3339)
	}
	if meta.VersionID != "" || meta.LastUpdated != "" || len(meta.Profile) > 0 {
		doc["meta"] = meta
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode resource json: %w", err)
	}
	return out, nil
}
