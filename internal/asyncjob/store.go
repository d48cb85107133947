package asyncjob

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxConcurrentJobs bounds how many jobs may be accepted/in-progress at
// once, per §5's "the async job manager caps concurrent active jobs".
const MaxConcurrentJobs = 10

// Store persists Job rows in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ErrAtCapacity is returned by Create when MaxConcurrentJobs active jobs
// already exist.
var ErrAtCapacity = fmt.Errorf("asyncjob: at capacity (%d concurrent jobs)", MaxConcurrentJobs)

// Create inserts a new job in StatusAccepted, generating an id if job.ID
// is empty. Refuses to admit more than MaxConcurrentJobs active
// (accepted/in-progress) jobs at once.
func (s *Store) Create(ctx context.Context, job *Job) error {
	active, err := s.CountActive(ctx)
	if err != nil {
		return err
	}
	if active >= MaxConcurrentJobs {
		return ErrAtCapacity
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = StatusAccepted
	}

	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO async_job (id, job_type, status, request, total, processed)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		job.ID, job.Type, job.Status, job.Request, job.Total, job.Processed)
	if err != nil {
		return fmt.Errorf("asyncjob: create: %w", err)
	}
	return nil
}

// CountActive returns the number of jobs currently accepted or in-progress.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT count(*) FROM async_job WHERE status IN ($1,$2)`,
		StatusAccepted, StatusInProgress).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("asyncjob: count active: %w", err)
	}
	return n, nil
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, job_type, status, request, total, processed, manifest, error,
		       created_at, updated_at, completed_at
		FROM async_job WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateProgress advances processed/total for an in-progress job, flipping
// it from accepted to in-progress on its first progress update.
func (s *Store) UpdateProgress(ctx context.Context, id string, processed, total int) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE async_job SET status = $1, processed = $2, total = $3, updated_at = now()
		WHERE id = $4 AND status != $5`,
		StatusInProgress, processed, total, id, StatusFailed)
	if err != nil {
		return fmt.Errorf("asyncjob: update progress: %w", err)
	}
	return nil
}

// Complete marks a job completed with its output manifest.
func (s *Store) Complete(ctx context.Context, id string, manifest []ManifestFile) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("asyncjob: marshal manifest: %w", err)
	}
	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE async_job SET status = $1, manifest = $2, updated_at = now(), completed_at = now()
		WHERE id = $3`,
		StatusCompleted, data, id)
	if err != nil {
		return fmt.Errorf("asyncjob: complete: %w", err)
	}
	return nil
}

// Fail marks a job failed with cause recorded for the status response.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE async_job SET status = $1, error = $2, updated_at = now(), completed_at = now()
		WHERE id = $3`,
		StatusFailed, cause.Error(), id)
	if err != nil {
		return fmt.Errorf("asyncjob: fail: %w", err)
	}
	return nil
}

// Delete removes a job record. Not an error to delete one that does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM async_job WHERE id = $1`, id)
	return err
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var manifest []byte
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Request, &j.Total, &j.Processed,
		&manifest, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("asyncjob: job not found")
		}
		return nil, fmt.Errorf("asyncjob: scan job: %w", err)
	}
	if len(manifest) > 0 {
		_ = json.Unmarshal(manifest, &j.Manifest)
	}
	return &j, nil
}
