package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fhircore/fhircore/internal/codec"
	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/fhircore/fhircore/internal/storeerr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResourceEvent describes a resource mutation recorded by the store, fed to
// the subscription matcher and automation dispatcher on the write path.
// Grounded on the teacher's VersionTracker/ResourceEvent pairing.
type ResourceEvent struct {
	ResourceType string
	ResourceID   string
	VersionID    int
	TxID         int64
	Interaction  string // create, update, delete
	Current      map[string]interface{}
	Previous     map[string]interface{}
	Timestamp    time.Time
}

// ResourceEventListener is notified after every successful write, from
// inside the write's transaction, before it commits.
type ResourceEventListener interface {
	OnResourceEvent(ctx context.Context, event ResourceEvent)
}

// Store is the table-per-type JSONB resource store.
type Store struct {
	pool *pgxpool.Pool

	mu        sync.RWMutex
	listeners []ResourceEventListener
}

// New creates a Store bound to pool. EnsureSharedSchema must be called once
// before first use (normally at startup, by cmd/fhircore).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AddListener registers l to be notified of every resource event. Not
// safe to call concurrently with event delivery in a hot loop, but is only
// ever called during startup wiring.
func (s *Store) AddListener(l ResourceEventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) fireEvent(ctx context.Context, event ResourceEvent) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l.OnResourceEvent(ctx, event)
	}
}

// allocateTx inserts a new transaction row and returns its id. Must run
// inside the same transaction as the row/history writes it stamps, so a
// crash between allocation and write never leaves a gap-free invariant
// violated by an orphaned, uncommitted tx_id (the orphaned row never
// commits, so gap-free only needs to hold for committed ids).
func allocateTx(ctx context.Context, q db.Querier) (int64, error) {
	var txID int64
	err := q.QueryRow(ctx, `INSERT INTO _transaction (status) VALUES ('committed') RETURNING tx_id`).Scan(&txID)
	if err != nil {
		return 0, fmt.Errorf("storage: allocate transaction id: %w", err)
	}
	return txID, nil
}

// Create inserts a new resource at version 1. Returns storeerr.AlreadyExists
// if any row already exists for (resourceType, id) when id is
// client-assigned, including a soft-deleted row: a deleted id is not
// re-created by Create.
func (s *Store) Create(ctx context.Context, env *codec.Envelope) (*ResourceEnvelope, error) {
	table, err := tableName(env.ResourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}
	historyTable, err := historyTableName(env.ResourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}

	var result *ResourceEnvelope
	err = db.WithinTx(ctx, s.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, s.pool)

		txID, err := allocateTx(ctx, q)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		env.LastUpdated = now
		env.VersionID = "1"

		content, err := json.Marshal(env.Content)
		if err != nil {
			return fmt.Errorf("storage: marshal content: %w", err)
		}

		tag, err := q.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, version_id, tx_id, ts, status, resource) VALUES ($1,1,$2,$3,$4,$5)
			             ON CONFLICT (id) DO NOTHING`, table),
			env.ID, txID, now, string(StatusActive), content)
		if err != nil {
			return fmt.Errorf("storage: insert %s/%s: %w", env.ResourceType, env.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return storeerr.AlreadyExists(env.ResourceType, env.ID)
		}

		if _, err := q.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, version_id, tx_id, method, ts, snapshot) VALUES ($1,1,$2,'create',$3,$4)`, historyTable),
			env.ID, txID, now, content); err != nil {
			return fmt.Errorf("storage: insert history for %s/%s: %w", env.ResourceType, env.ID, err)
		}

		result = toEnvelope(env, 1, txID, StatusActive)

		s.fireEvent(ctx, ResourceEvent{
			ResourceType: env.ResourceType,
			ResourceID:   env.ID,
			VersionID:    1,
			TxID:         txID,
			Interaction:  "create",
			Current:      env.Content,
			Timestamp:    now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Read returns the current version of (resourceType, id). Returns
// storeerr.NotFound if no row exists, storeerr.Gone if the row's current
// status is deleted.
func (s *Store) Read(ctx context.Context, resourceType, id string) (*ResourceEnvelope, error) {
	table, err := tableName(resourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}

	var (
		versionID int
		txID      int64
		ts        time.Time
		status    string
		resource  []byte
	)
	err = db.Conn(ctx, s.pool).QueryRow(ctx,
		fmt.Sprintf(`SELECT version_id, tx_id, ts, status, resource FROM %s WHERE id = $1`, table), id,
	).Scan(&versionID, &txID, &ts, &status, &resource)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storeerr.NotFound(resourceType, id)
		}
		return nil, fmt.Errorf("storage: read %s/%s: %w", resourceType, id, err)
	}

	if Status(status) == StatusDeleted {
		return nil, storeerr.Gone(resourceType, id)
	}

	var content map[string]interface{}
	if err := json.Unmarshal(resource, &content); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s/%s: %w", resourceType, id, err)
	}

	return &ResourceEnvelope{
		ResourceType: resourceType,
		ID:           id,
		VersionID:    versionID,
		TxID:         txID,
		LastUpdated:  ts,
		Status:       Status(status),
		Content:      content,
	}, nil
}

// currentVersionForUpdate locks the main-table row FOR UPDATE and returns
// its current version_id, status, and content in one round trip, so Update
// and Delete do not need a separate history lookup to find the version to
// increment from.
func (s *Store) currentVersionForUpdate(ctx context.Context, resourceType, id string) (versionID int, status string, content map[string]interface{}, err error) {
	table, err := tableName(resourceType)
	if err != nil {
		return 0, "", nil, storeerr.InvalidResource(err.Error(), err)
	}
	var resource []byte
	err = db.Conn(ctx, s.pool).QueryRow(ctx,
		fmt.Sprintf(`SELECT version_id, status, resource FROM %s WHERE id = $1 FOR UPDATE`, table), id,
	).Scan(&versionID, &status, &resource)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, "", nil, storeerr.NotFound(resourceType, id)
		}
		return 0, "", nil, fmt.Errorf("storage: lock %s/%s: %w", resourceType, id, err)
	}
	if len(resource) > 0 {
		if err := json.Unmarshal(resource, &content); err != nil {
			return 0, "", nil, fmt.Errorf("storage: unmarshal %s/%s: %w", resourceType, id, err)
		}
	}
	return versionID, status, content, nil
}

// Update replaces the content of (resourceType, id), incrementing
// version_id. ifMatch, when non-zero, must equal the current version_id or
// storeerr.VersionConflict is returned and the store is left unchanged.
func (s *Store) Update(ctx context.Context, env *codec.Envelope, ifMatch int) (*ResourceEnvelope, error) {
	table, err := tableName(env.ResourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}
	historyTable, err := historyTableName(env.ResourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}

	var result *ResourceEnvelope
	err = db.WithinTx(ctx, s.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, s.pool)

		currentVersion, _, previousContent, err := s.currentVersionForUpdate(ctx, env.ResourceType, env.ID)
		if err != nil {
			return err
		}

		if ifMatch != 0 && ifMatch != currentVersion {
			return storeerr.VersionConflict(env.ResourceType, env.ID, ifMatch, currentVersion)
		}

		newVersion := currentVersion + 1
		txID, err := allocateTx(ctx, q)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		env.LastUpdated = now
		env.VersionID = fmt.Sprintf("%d", newVersion)

		content, err := json.Marshal(env.Content)
		if err != nil {
			return fmt.Errorf("storage: marshal content: %w", err)
		}

		if _, err := q.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET version_id=$1, tx_id=$2, ts=$3, status=$4, resource=$5 WHERE id=$6`, table),
			newVersion, txID, now, string(StatusUpdated), content, env.ID); err != nil {
			return fmt.Errorf("storage: update %s/%s: %w", env.ResourceType, env.ID, err)
		}

		if _, err := q.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, version_id, tx_id, method, ts, snapshot) VALUES ($1,$2,$3,'update',$4,$5)`, historyTable),
			env.ID, newVersion, txID, now, content); err != nil {
			return fmt.Errorf("storage: insert history for %s/%s: %w", env.ResourceType, env.ID, err)
		}

		result = toEnvelope(env, newVersion, txID, StatusUpdated)

		s.fireEvent(ctx, ResourceEvent{
			ResourceType: env.ResourceType,
			ResourceID:   env.ID,
			VersionID:    newVersion,
			TxID:         txID,
			Interaction:  "update",
			Current:      env.Content,
			Previous:     previousContent,
			Timestamp:    now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete soft-deletes (resourceType, id): the row's status becomes deleted
// and a delete history entry is appended. Idempotent: deleting an
// already-deleted resource succeeds without appending a second history
// entry.
func (s *Store) Delete(ctx context.Context, resourceType, id string) error {
	table, err := tableName(resourceType)
	if err != nil {
		return storeerr.InvalidResource(err.Error(), err)
	}
	historyTable, err := historyTableName(resourceType)
	if err != nil {
		return storeerr.InvalidResource(err.Error(), err)
	}

	return db.WithinTx(ctx, s.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, s.pool)

		currentVersion, currentStatus, previousContent, err := s.currentVersionForUpdate(ctx, resourceType, id)
		if err != nil {
			return err
		}
		if Status(currentStatus) == StatusDeleted {
			return nil
		}

		txID, err := allocateTx(ctx, q)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		newVersion := currentVersion + 1

		if _, err := q.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET version_id=$1, tx_id=$2, ts=$3, status=$4 WHERE id=$5`, table),
			newVersion, txID, now, string(StatusDeleted), id); err != nil {
			return fmt.Errorf("storage: delete %s/%s: %w", resourceType, id, err)
		}

		if _, err := q.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, version_id, tx_id, method, ts, snapshot) VALUES ($1,$2,$3,'delete',$4,NULL)`, historyTable),
			id, newVersion, txID, now); err != nil {
			return fmt.Errorf("storage: insert delete history for %s/%s: %w", resourceType, id, err)
		}

		s.fireEvent(ctx, ResourceEvent{
			ResourceType: resourceType,
			ResourceID:   id,
			VersionID:    newVersion,
			TxID:         txID,
			Interaction:  "delete",
			Previous:     previousContent,
			Timestamp:    now,
		})
		return nil
	})
}

// VRead returns the exact snapshot recorded at versionID, or
// storeerr.NotFound if that version does not exist.
func (s *Store) VRead(ctx context.Context, resourceType, id string, versionID int) (*ResourceEnvelope, error) {
	historyTable, err := historyTableName(resourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}

	var (
		txID     int64
		method   string
		ts       time.Time
		snapshot []byte
	)
	err = db.Conn(ctx, s.pool).QueryRow(ctx,
		fmt.Sprintf(`SELECT tx_id, method, ts, snapshot FROM %s WHERE id=$1 AND version_id=$2`, historyTable),
		id, versionID).Scan(&txID, &method, &ts, &snapshot)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storeerr.NotFound(resourceType, fmt.Sprintf("%s/_history/%d", id, versionID))
		}
		return nil, fmt.Errorf("storage: vread %s/%s v%d: %w", resourceType, id, versionID, err)
	}

	status := StatusUpdated
	if method == "create" {
		status = StatusActive
	} else if method == "delete" {
		status = StatusDeleted
	}

	var content map[string]interface{}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &content); err != nil {
			return nil, fmt.Errorf("storage: unmarshal vread snapshot: %w", err)
		}
	}

	return &ResourceEnvelope{
		ResourceType: resourceType,
		ID:           id,
		VersionID:    versionID,
		TxID:         txID,
		LastUpdated:  ts,
		Status:       status,
		Content:      content,
	}, nil
}

// History returns up to limit history entries for (resourceType, id) in
// descending version order, starting after offset.
func (s *Store) History(ctx context.Context, resourceType, id string, limit, offset int) ([]*HistoryEntry, error) {
	historyTable, err := historyTableName(resourceType)
	if err != nil {
		return nil, storeerr.InvalidResource(err.Error(), err)
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx,
		fmt.Sprintf(`SELECT version_id, tx_id, method, ts, snapshot FROM %s WHERE id=$1
		             ORDER BY version_id DESC LIMIT $2 OFFSET $3`, historyTable),
		id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: history %s/%s: %w", resourceType, id, err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var (
			versionID int
			txID      int64
			method    string
			ts        time.Time
			snapshot  []byte
		)
		if err := rows.Scan(&versionID, &txID, &method, &ts, &snapshot); err != nil {
			return nil, fmt.Errorf("storage: scan history row: %w", err)
		}
		var content map[string]interface{}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &content); err != nil {
				return nil, fmt.Errorf("storage: unmarshal history snapshot: %w", err)
			}
		}
		entries = append(entries, &HistoryEntry{
			ResourceType: resourceType,
			ID:           id,
			VersionID:    versionID,
			TxID:         txID,
			Method:       method,
			Timestamp:    ts,
			Snapshot:     content,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate history: %w", err)
	}
	return entries, nil
}

// BeginTransaction starts a pgx transaction and returns a context that
// carries it; every Store call made with the returned context (and every
// repository call layered on top of it, per internal/platform/db's
// TxFromContext convention) participates in the same transaction. Callers
// must Commit or Rollback.
func (s *Store) BeginTransaction(ctx context.Context) (context.Context, pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("storage: begin transaction: %w", err)
	}
	return db.WithTx(ctx, tx), tx, nil
}

// CompiledQuery is the output of internal/search's compiler: a fully bound
// parameterized SQL statement (and an optional count statement for
// _total=accurate) ready to execute against a resource type's table. Kept
// in this package (rather than internal/search) so internal/search can
// depend on internal/storage without a back-reference. SQL must select
// exactly (id, version_id, tx_id, resource), in that order, from the
// fhir_<lowertype> table (or a CTE over it), so Search can scan rows
// generically regardless of resource type.
type CompiledQuery struct {
	SQL       string
	Args      []interface{}
	CountSQL  string
	CountArgs []interface{}
}

// SearchRow is one matched resource returned by Search, prior to _include
// expansion.
type SearchRow struct {
	ID        string
	VersionID int
	TxID      int64
	Content   map[string]interface{}
}

// Search executes a compiled query against resourceType's table and returns
// the matched rows. When q.CountSQL is set, the accurate total is computed
// by a second statement on the same db.Conn handle: inside the transaction
// carried by ctx if there is one, otherwise as a separate pool query.
func (s *Store) Search(ctx context.Context, resourceType string, q CompiledQuery) ([]SearchRow, int, error) {
	conn := db.Conn(ctx, s.pool)

	rows, err := conn.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: search %s: %w", resourceType, err)
	}
	defer rows.Close()

	var results []SearchRow
	for rows.Next() {
		var (
			id        string
			versionID int
			txID      int64
			resource  []byte
		)
		if err := rows.Scan(&id, &versionID, &txID, &resource); err != nil {
			return nil, 0, fmt.Errorf("storage: scan search row: %w", err)
		}
		var content map[string]interface{}
		if err := json.Unmarshal(resource, &content); err != nil {
			return nil, 0, fmt.Errorf("storage: unmarshal search row %s/%s: %w", resourceType, id, err)
		}
		results = append(results, SearchRow{ID: id, VersionID: versionID, TxID: txID, Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: iterate search rows: %w", err)
	}

	total := -1
	if q.CountSQL != "" {
		if err := conn.QueryRow(ctx, q.CountSQL, q.CountArgs...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("storage: search count %s: %w", resourceType, err)
		}
	}

	return results, total, nil
}
