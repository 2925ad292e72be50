package postgresengine

import (
	"context"
	"errors"
	"fmt"
)

// ErrMigrationFailed is returned when the schema cannot be created.
var ErrMigrationFailed = errors.New("postgres schema migration failed")

// Schema returns the DDL statements for the events table.
//
// The unique constraint names contain the column that tells a version race from a duplicate commit,
// CommitStream relies on that when it maps unique violations.
func Schema(tableName string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	sequence_number BIGSERIAL PRIMARY KEY,
	bucket_id       TEXT        NOT NULL,
	stream_id       TEXT        NOT NULL,
	stream_version  BIGINT      NOT NULL,
	commit_id       TEXT        NOT NULL,
	commit_sequence INTEGER     NOT NULL,
	event_type      TEXT        NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	payload         JSONB       NOT NULL,
	metadata        JSONB       NOT NULL,
	CONSTRAINT %[1]s_stream_version_uq UNIQUE (bucket_id, stream_id, stream_version, commit_sequence),
	CONSTRAINT %[1]s_commit_id_uq UNIQUE (bucket_id, stream_id, commit_id, commit_sequence)
)`, tableName),
	}
}

// Migrate creates the events table if it does not exist.
func (es *EventStore) Migrate(ctx context.Context) error {
	for _, statement := range Schema(es.eventTableName) {
		if _, err := es.db.Exec(ctx, statement); err != nil {
			es.ins.LogError(ctx, "schema migration failed", err)
			return errors.Join(ErrMigrationFailed, err)
		}
	}

	return nil
}
