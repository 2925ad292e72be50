package adapters

import (
	"context"
	"database/sql"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

// SQLAdapter runs the stream store's statements on a database/sql handle, e.g. opened with lib/pq.
// Stream reads whose context asks for eventual consistency go to the replica if there is one.
type SQLAdapter struct {
	primary *sql.DB
	replica *sql.DB
}

// NewSQLAdapter creates a SQLAdapter. replica may be nil.
func NewSQLAdapter(primary *sql.DB, replica *sql.DB) *SQLAdapter {
	return &SQLAdapter{primary: primary, replica: replica}
}

// Query reads stream rows or versions.
func (s *SQLAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.dbFor(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec runs a commit or a schema statement, always on the primary.
func (s *SQLAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.primary.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

func (s *SQLAdapter) dbFor(ctx context.Context) *sql.DB {
	if s.replica != nil && eventstore.ReadsFromReplica(ctx) {
		return s.replica
	}

	return s.primary
}
