package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/postgresengine"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/sqliteengine"
	"github.com/AntonStoeckl/eventsourced-entities-go/shell/config"
)

type observability struct {
	logger           *slog.Logger
	contextualLogger eventstore.ContextualLogger
	metrics          eventstore.MetricsCollector
	tracing          eventstore.TracingCollector
}

// openStore returns the stream store the settings select and a function that releases it.
func openStore(ctx context.Context, settings config.Settings, obs observability) (eventstore.StreamStore, func(), error) {
	switch settings.Store {
	case config.StoreSQLite:
		store, err := sqliteengine.Open(
			ctx,
			settings.SQLitePath,
			sqliteengine.WithTableName(settings.EventsTable),
			sqliteengine.WithLogger(obs.logger),
			sqliteengine.WithContextualLogger(obs.contextualLogger),
			sqliteengine.WithMetrics(obs.metrics),
			sqliteengine.WithTracing(obs.tracing),
		)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { _ = store.Close() }, nil

	case config.StorePostgres:
		return openPostgresStore(ctx, settings, []postgresengine.Option{
			postgresengine.WithTableName(settings.EventsTable),
			postgresengine.WithLogger(obs.logger),
			postgresengine.WithContextualLogger(obs.contextualLogger),
			postgresengine.WithMetrics(obs.metrics),
			postgresengine.WithTracing(obs.tracing),
		})

	default:
		return memoryengine.NewEventStore(memoryengine.WithLogger(obs.logger)), func() {}, nil
	}
}

func openPostgresStore(
	ctx context.Context,
	settings config.Settings,
	options []postgresengine.Option,
) (eventstore.StreamStore, func(), error) {

	var (
		store   *postgresengine.EventStore
		release func()
		err     error
	)

	switch settings.PostgresDriver {
	case config.DriverSQL:
		db, openErr := config.OpenSQLDB(ctx, settings.PostgresDSN)
		if openErr != nil {
			return nil, nil, openErr
		}

		replica, replicaErr := openOptionalReplica(ctx, settings.PostgresReplicaDSN, config.OpenSQLDB)
		if replicaErr != nil {
			_ = db.Close()
			return nil, nil, replicaErr
		}

		release = func() {
			if replica != nil {
				_ = replica.Close()
			}
			_ = db.Close()
		}
		store, err = postgresengine.NewEventStoreFromSQLDBAndReplica(db, replica, options...)

	case config.DriverSQLX:
		db, openErr := config.OpenSQLX(ctx, settings.PostgresDSN)
		if openErr != nil {
			return nil, nil, openErr
		}

		replica, replicaErr := openOptionalReplica(ctx, settings.PostgresReplicaDSN, config.OpenSQLX)
		if replicaErr != nil {
			_ = db.Close()
			return nil, nil, replicaErr
		}

		release = func() {
			if replica != nil {
				_ = replica.Close()
			}
			_ = db.Close()
		}
		store, err = postgresengine.NewEventStoreFromSQLXAndReplica(db, replica, options...)

	default:
		primary, openErr := config.OpenPGXPool(ctx, settings.PostgresDSN)
		if openErr != nil {
			return nil, nil, openErr
		}

		if settings.PostgresReplicaDSN == "" {
			release = primary.Close
			store, err = postgresengine.NewEventStoreFromPGXPool(primary, options...)

			break
		}

		replica, replicaErr := config.OpenPGXPool(ctx, settings.PostgresReplicaDSN)
		if replicaErr != nil {
			primary.Close()
			return nil, nil, replicaErr
		}

		release = func() {
			replica.Close()
			primary.Close()
		}
		store, err = postgresengine.NewEventStoreFromPGXPoolAndReplica(primary, replica, options...)
	}

	if err == nil {
		err = store.Migrate(ctx)
	}

	if err != nil {
		release()
		return nil, nil, errors.Join(errors.New("opening the postgres store failed"), err)
	}

	return store, release, nil
}

// openOptionalReplica opens the replica handle if a DSN is configured, otherwise it returns nil.
func openOptionalReplica[DB any](ctx context.Context, dsn string, open func(context.Context, string) (*DB, error)) (*DB, error) {
	if dsn == "" {
		return nil, nil
	}

	return open(ctx, dsn)
}
