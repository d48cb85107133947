package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fhircore/fhircore/internal/platform/db"
)

// ExportBatchSize bounds how many rows ScanResourceType reads from Postgres
// per round trip while it keyset-paginates through a table, so a bulk
// export of a large resource type never tries to hold the whole table in
// memory at once.
const ExportBatchSize = 500

// ScanResourceType walks every current (non-deleted) row of resourceType
// whose last update is at or after since, in ascending id order, invoking
// fn once per resource. It stops and returns fn's error if fn returns one.
// since may be the zero time to mean "from the beginning".
func (s *Store) ScanResourceType(ctx context.Context, resourceType string, since time.Time, fn func(id string, versionID int, content map[string]interface{}) error) error {
	table, err := tableName(resourceType)
	if err != nil {
		return err
	}
	conn := db.Conn(ctx, s.pool)

	cursor := ""
	for {
		sql := fmt.Sprintf(`
			SELECT id, version_id, resource FROM %s
			WHERE status != 'deleted' AND ts >= $1 AND id > $2
			ORDER BY id
			LIMIT $3`, table)
		rows, err := conn.Query(ctx, sql, since, cursor, ExportBatchSize)
		if err != nil {
			return fmt.Errorf("storage: scan %s: %w", resourceType, err)
		}

		var (
			n      int
			last   string
			scanEr error
		)
		for rows.Next() {
			var (
				id        string
				versionID int
				resource  []byte
			)
			if scanEr = rows.Scan(&id, &versionID, &resource); scanEr != nil {
				break
			}
			var content map[string]interface{}
			if scanEr = json.Unmarshal(resource, &content); scanEr != nil {
				break
			}
			if scanEr = fn(id, versionID, content); scanEr != nil {
				break
			}
			last = id
			n++
		}
		rowsErr := rows.Err()
		rows.Close()
		if scanEr != nil {
			return scanEr
		}
		if rowsErr != nil {
			return fmt.Errorf("storage: iterate %s: %w", resourceType, rowsErr)
		}
		if n < ExportBatchSize {
			return nil
		}
		cursor = last
	}
}
