package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

var lowerTypeRe = regexp.MustCompile(`^[a-z][a-z0-9]*$`)

// tableName returns the fhir_<lowertype> table identifier for resourceType,
// validating it against the closed set of characters a resource type name
// may contain so it is always safe to interpolate into SQL (resourceType
// never comes from free-form user input — it is validated against the
// registry before reaching here — but this is cheap enough to keep as a
// second gate).
func tableName(resourceType string) (string, error) {
	lower := strings.ToLower(resourceType)
	if !lowerTypeRe.MatchString(lower) {
		return "", fmt.Errorf("storage: invalid resource type %q", resourceType)
	}
	return "fhir_" + lower, nil
}

func historyTableName(resourceType string) (string, error) {
	t, err := tableName(resourceType)
	if err != nil {
		return "", err
	}
	return "fhir_history_" + strings.TrimPrefix(t, "fhir_"), nil
}

// EnsureSchema creates the fhir_<lowertype> and fhir_history_<lowertype>
// tables for resourceType if they do not already exist. Called lazily by
// internal/registry the first time a resource type is registered, matching
// the teacher's db.Migrator pattern of idempotent CREATE TABLE IF NOT EXISTS
// statements rather than a fixed migration file per resource type (the set
// of FHIR resource types is large and open-ended, so a static migration per
// type does not scale the way it does for the teacher's per-domain tables).
func (s *Store) EnsureSchema(ctx context.Context, resourceType string) error {
	table, err := tableName(resourceType)
	if err != nil {
		return err
	}
	historyTable, err := historyTableName(resourceType)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id          TEXT PRIMARY KEY,
  version_id  INTEGER NOT NULL,
  tx_id       BIGINT NOT NULL,
  ts          TIMESTAMPTZ NOT NULL,
  status      TEXT NOT NULL,
  resource    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_gin ON %[1]s USING GIN (resource);

CREATE TABLE IF NOT EXISTS %[2]s (
  id          TEXT NOT NULL,
  version_id  INTEGER NOT NULL,
  tx_id       BIGINT NOT NULL,
  method      TEXT NOT NULL,
  ts          TIMESTAMPTZ NOT NULL,
  snapshot    JSONB,
  PRIMARY KEY (id, version_id)
);
`, table, historyTable)

	if _, err := db.Conn(ctx, s.pool).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: ensure schema for %s: %w", resourceType, err)
	}
	return nil
}

// EnsureSharedSchema creates the tables shared across all resource types:
// the transaction log, the search index tables, and the session-scoped
// ValueSet expansion table. Called once at startup by cmd/fhircore.
func EnsureSharedSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS _transaction (
  tx_id         BIGSERIAL PRIMARY KEY,
  status        TEXT NOT NULL DEFAULT 'committed',
  started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  committed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS search_idx_reference (
  resource_type TEXT, resource_id TEXT, param_code TEXT,
  ref_kind TEXT, target_type TEXT, target_id TEXT
);
CREATE INDEX IF NOT EXISTS search_idx_reference_lookup
  ON search_idx_reference (target_type, target_id, param_code);

CREATE TABLE IF NOT EXISTS search_idx_token (
  resource_type TEXT, resource_id TEXT, param_code TEXT,
  system TEXT, code TEXT
);
CREATE INDEX IF NOT EXISTS search_idx_token_lookup
  ON search_idx_token (resource_type, param_code, system, code);

CREATE TABLE IF NOT EXISTS search_idx_date (
  resource_type TEXT, resource_id TEXT, param_code TEXT,
  range_start TIMESTAMPTZ, range_end TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS search_idx_date_lookup
  ON search_idx_date (resource_type, param_code, range_start, range_end);

CREATE TABLE IF NOT EXISTS temp_valueset_codes (
  session_id TEXT, code TEXT, system TEXT, display TEXT
);
CREATE INDEX IF NOT EXISTS temp_valueset_codes_session ON temp_valueset_codes (session_id);

CREATE TABLE IF NOT EXISTS subscription (
  id           TEXT PRIMARY KEY,
  topic_url    TEXT NOT NULL,
  status       TEXT NOT NULL,
  channel_type TEXT NOT NULL,
  endpoint     TEXT NOT NULL DEFAULT '',
  header       TEXT[] NOT NULL DEFAULT '{}',
  content      TEXT NOT NULL DEFAULT '',
  filter_by    JSONB NOT NULL DEFAULT '[]',
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS notification (
  id              BIGSERIAL PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  resource_type   TEXT NOT NULL,
  resource_id     TEXT NOT NULL,
  version_id      INTEGER NOT NULL,
  tx_id           BIGINT NOT NULL,
  interaction     TEXT NOT NULL,
  channel_type    TEXT NOT NULL,
  endpoint        TEXT NOT NULL DEFAULT '',
  header          TEXT[] NOT NULL DEFAULT '{}',
  content         TEXT NOT NULL DEFAULT '',
  payload         JSONB,
  status          TEXT NOT NULL DEFAULT 'pending',
  attempts        INTEGER NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_error      TEXT,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  delivered_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS notification_claim
  ON notification (status, next_attempt_at)
  WHERE status IN ('pending', 'retrying');
CREATE INDEX IF NOT EXISTS notification_tx_order
  ON notification (resource_type, resource_id, tx_id);

CREATE TABLE IF NOT EXISTS async_job (
  id             TEXT PRIMARY KEY,
  job_type       TEXT NOT NULL,
  status         TEXT NOT NULL DEFAULT 'accepted',
  request        TEXT NOT NULL DEFAULT '',
  total          INTEGER NOT NULL DEFAULT 0,
  processed      INTEGER NOT NULL DEFAULT 0,
  manifest       JSONB,
  error          TEXT,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS async_job_status ON async_job (status);

CREATE TABLE IF NOT EXISTS automation (
  id           TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  status       TEXT NOT NULL DEFAULT 'active',
  triggers     JSONB NOT NULL DEFAULT '[]',
  steps        JSONB NOT NULL DEFAULT '[]',
  timeout_ms   INTEGER NOT NULL DEFAULT 5000,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS automation_execution (
  id            BIGSERIAL PRIMARY KEY,
  automation_id TEXT NOT NULL,
  status        TEXT NOT NULL DEFAULT 'running',
  trigger_kind  TEXT NOT NULL,
  resource_type TEXT NOT NULL DEFAULT '',
  resource_id   TEXT NOT NULL DEFAULT '',
  log           TEXT NOT NULL DEFAULT '',
  error         TEXT,
  started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS automation_execution_by_automation
  ON automation_execution (automation_id, started_at);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: ensure shared schema: %w", err)
	}
	return nil
}
