package sqliteengine

import (
	"context"
	"errors"
	"fmt"
)

// Schema returns the DDL statements for the events table.
//
// Every event row carries the version of the stream after its commit and its position inside the commit.
// The two unique constraints make a racing writer fail even if it passed the version check.
func Schema(tableName string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	sequence_number INTEGER PRIMARY KEY AUTOINCREMENT,
	bucket_id       TEXT    NOT NULL,
	stream_id       TEXT    NOT NULL,
	stream_version  INTEGER NOT NULL,
	commit_id       TEXT    NOT NULL,
	commit_sequence INTEGER NOT NULL,
	event_type      TEXT    NOT NULL,
	occurred_at     INTEGER NOT NULL,
	payload         TEXT    NOT NULL,
	metadata        TEXT    NOT NULL,
	UNIQUE (bucket_id, stream_id, stream_version, commit_sequence),
	UNIQUE (bucket_id, stream_id, commit_id, commit_sequence)
)`, tableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_commit_id_idx ON %[1]s (bucket_id, stream_id, commit_id)`, tableName),
	}
}

// Migrate creates the events table and its indexes if they do not exist.
func (es *EventStore) Migrate(ctx context.Context) error {
	for _, statement := range Schema(es.tableName) {
		if _, err := es.db.ExecContext(ctx, statement); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}

	return nil
}
