package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

// SQLXAdapter is the sqlx flavor of SQLAdapter, for applications that already hold a *sqlx.DB.
type SQLXAdapter struct {
	primary *sqlx.DB
	replica *sqlx.DB
}

// NewSQLXAdapter creates a SQLXAdapter. replica may be nil.
func NewSQLXAdapter(primary *sqlx.DB, replica *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{primary: primary, replica: replica}
}

// Query reads stream rows or versions.
func (s *SQLXAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.dbFor(ctx).QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows.Rows}, nil
}

// Exec runs a commit or a schema statement, always on the primary.
func (s *SQLXAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.primary.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

func (s *SQLXAdapter) dbFor(ctx context.Context) *sqlx.DB {
	if s.replica != nil && eventstore.ReadsFromReplica(ctx) {
		return s.replica
	}

	return s.primary
}
