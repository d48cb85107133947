package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executions persists Execution rows and computes the 24-hour rolling
// counters queryable per automation.
type Executions struct {
	pool *pgxpool.Pool
}

func NewExecutions(pool *pgxpool.Pool) *Executions {
	return &Executions{pool: pool}
}

// Start records a new running execution, returning its id.
func (e *Executions) Start(ctx context.Context, automationID, triggerKind, resourceType, resourceID string) (int64, error) {
	var id int64
	err := db.Conn(ctx, e.pool).QueryRow(ctx, `
		INSERT INTO automation_execution (automation_id, status, trigger_kind, resource_type, resource_id)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		automationID, ExecutionRunning, triggerKind, resourceType, resourceID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("automation: start execution: %w", err)
	}
	return id, nil
}

// Finish records the outcome of an execution.
func (e *Executions) Finish(ctx context.Context, id int64, status, log, cause string) error {
	_, err := db.Conn(ctx, e.pool).Exec(ctx, `
		UPDATE automation_execution
		SET status = $1, log = $2, error = $3, finished_at = now()
		WHERE id = $4`,
		status, log, cause, id)
	if err != nil {
		return fmt.Errorf("automation: finish execution: %w", err)
	}
	return nil
}

// List returns the most recent executions for automationID, newest first.
func (e *Executions) List(ctx context.Context, automationID string, limit int) ([]Execution, error) {
	rows, err := db.Conn(ctx, e.pool).Query(ctx, `
		SELECT id, automation_id, status, trigger_kind, resource_type, resource_id, log, error, started_at, finished_at
		FROM automation_execution
		WHERE automation_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("automation: list executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var ex Execution
		if err := rows.Scan(&ex.ID, &ex.AutomationID, &ex.Status, &ex.TriggerKind, &ex.ResourceType,
			&ex.ResourceID, &ex.Log, &ex.Error, &ex.StartedAt, &ex.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// RollingCounters aggregates the last 24 hours of executions for
// automationID by status in a single batch query, per §4.8's "24-hour
// success/failure counters aggregated in batch".
func (e *Executions) RollingCounters(ctx context.Context, automationID string) (Counters, error) {
	rows, err := db.Conn(ctx, e.pool).Query(ctx, `
		SELECT status, count(*)
		FROM automation_execution
		WHERE automation_id = $1 AND started_at >= $2
		GROUP BY status`,
		automationID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return Counters{}, fmt.Errorf("automation: rolling counters: %w", err)
	}
	defer rows.Close()

	counters := Counters{AutomationID: automationID}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counters{}, err
		}
		switch status {
		case ExecutionSucceeded:
			counters.Succeeded = n
		case ExecutionFailed:
			counters.Failed = n
		case ExecutionTimedOut:
			counters.TimedOut = n
		}
	}
	return counters, rows.Err()
}
