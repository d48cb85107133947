// Package storage implements the table-per-type JSONB resource store: the
// transaction-id allocator, soft-delete tombstones, optimistic concurrency,
// and append-only history that backs every other CORE package.
package storage

import (
	"time"

	"github.com/fhircore/fhircore/internal/codec"
)

// Status mirrors codec.Status; storage owns the authoritative lifecycle
// value once a resource has been persisted.
type Status = codec.Status

const (
	StatusActive  = codec.StatusActive
	StatusUpdated = codec.StatusUpdated
	StatusDeleted = codec.StatusDeleted
)

// ResourceEnvelope is the canonical persisted form of a resource: the
// version/tx-id/status fields storage owns, plus the content document the
// codec package projects resourceType/id/meta out of.
type ResourceEnvelope struct {
	ResourceType string
	ID           string
	VersionID    int
	TxID         int64
	LastUpdated  time.Time
	Status       Status
	Content      map[string]interface{}
}

// TransactionID is a 64-bit monotonic counter allocated at the start of
// every write and stamped on the row and its history entry.
type TransactionID int64

// HistoryEntry is one append-only row in fhir_history_<lowertype>.
type HistoryEntry struct {
	ResourceType string
	ID           string
	VersionID    int
	TxID         int64
	Method       string // create, update, delete
	Timestamp    time.Time
	Snapshot     map[string]interface{} // nil for a delete entry
}

func toEnvelope(env *codec.Envelope, versionID int, txID int64, status Status) *ResourceEnvelope {
	return &ResourceEnvelope{
		ResourceType: env.ResourceType,
		ID:           env.ID,
		VersionID:    versionID,
		TxID:         txID,
		LastUpdated:  env.LastUpdated,
		Status:       status,
		Content:      env.Content,
	}
}
