package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists Automation rows and reads them back for Registry.Reload.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts automation, generating an id if empty. An automation may
// only be created with Status active if it already carries a compiled step
// list, per the table's invariant.
func (s *Store) Create(ctx context.Context, a *Automation) error {
	if a.Status == StatusActive && !a.Compiled() {
		return fmt.Errorf("automation: cannot activate %q without compiled steps", a.Name)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	triggers, err := json.Marshal(a.Triggers)
	if err != nil {
		return fmt.Errorf("automation: marshal triggers: %w", err)
	}
	steps, err := json.Marshal(a.Steps)
	if err != nil {
		return fmt.Errorf("automation: marshal steps: %w", err)
	}

	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO automation (id, name, status, triggers, steps, timeout_ms)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Name, a.Status, triggers, steps, a.TimeoutMS)
	if err != nil {
		return fmt.Errorf("automation: create: %w", err)
	}
	return nil
}

// SetStatus transitions an automation's status, refusing to activate one
// without compiled steps.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if status == StatusActive {
		a, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !a.Compiled() {
			return fmt.Errorf("automation: cannot activate %q without compiled steps", id)
		}
	}
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `UPDATE automation SET status = $1 WHERE id = $2`, status, id)
	return err
}

// Get retrieves one automation by id.
func (s *Store) Get(ctx context.Context, id string) (*Automation, error) {
	row := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, name, status, triggers, steps, timeout_ms, created_at
		FROM automation WHERE id = $1`, id)
	return scanAutomation(row)
}

// ListActive returns every automation with status = active, for
// Registry.LoadFromStore.
func (s *Store) ListActive(ctx context.Context) ([]Automation, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT id, name, status, triggers, steps, timeout_ms, created_at
		FROM automation WHERE status = $1`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("automation: list active: %w", err)
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAutomation(row pgx.Row) (*Automation, error) {
	var a Automation
	var triggers, steps []byte
	if err := row.Scan(&a.ID, &a.Name, &a.Status, &triggers, &steps, &a.TimeoutMS, &a.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("automation: not found")
		}
		return nil, fmt.Errorf("automation: scan: %w", err)
	}
	if len(triggers) > 0 {
		_ = json.Unmarshal(triggers, &a.Triggers)
	}
	if len(steps) > 0 {
		_ = json.Unmarshal(steps, &a.Steps)
	}
	return &a, nil
}
