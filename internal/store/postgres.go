package store

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

// PostgresStore is the shared-server event store backend, backed by a
// pgx connection pool. The primary key on (entity_id, version) provides
// the optimistic concurrency constraint, the same contract as the
// embedded store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the events table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.NewStoreError("failed to parse postgres dsn", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.NewStoreError("failed to create postgres pool", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id          TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			version     INTEGER NOT NULL,
			type        TEXT NOT NULL,
			data        TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			PRIMARY KEY (entity_id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`)
	if err != nil {
		return errors.NewStoreError("failed to initialize schema", err)
	}
	return nil
}

// EventsForEntity returns the full history of one entity.
func (s *PostgresStore) EventsForEntity(ctx context.Context, entityID string) ([]event.StoreItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, version, type, data, timestamp, entity_type
		FROM events WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, errors.NewStoreError("failed to read entity history", err)
	}
	defer rows.Close()

	return scanPgxItems(rows)
}

// Events returns all events with timestamp strictly after the cursor.
func (s *PostgresStore) Events(ctx context.Context, cursor event.Time) ([]event.StoreItem, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor.IsZero() {
		rows, err = s.pool.Query(ctx, `
			SELECT id, entity_id, version, type, data, timestamp, entity_type
			FROM events`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, entity_id, version, type, data, timestamp, entity_type
			FROM events WHERE timestamp > $1`, cursor.String())
	}
	if err != nil {
		return nil, errors.NewStoreError("failed to read events", err)
	}
	defer rows.Close()

	return scanPgxItems(rows)
}

// SaveEvents appends all items in one transaction, reporting a unique
// violation as a conflict.
func (s *PostgresStore) SaveEvents(ctx context.Context, items []event.StoreItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.NewStoreError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (id, entity_id, version, type, data, timestamp, entity_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.EntityID, item.Version, item.Type,
			item.Data, item.Timestamp.String(), string(item.EntityType))
		if err != nil {
			if isPgUniqueViolation(err) {
				return errors.NewConflictError(item.EntityID, item.Version)
			}
			return errors.NewStoreError("failed to insert event", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgUniqueViolation(err) {
			return errors.NewConflictError(items[0].EntityID, items[0].Version)
		}
		return errors.NewStoreError("failed to commit events", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanPgxItems(rows pgx.Rows) ([]event.StoreItem, error) {
	var items []event.StoreItem
	for rows.Next() {
		var (
			item      event.StoreItem
			timestamp string
			kind      string
		)
		if err := rows.Scan(&item.ID, &item.EntityID, &item.Version, &item.Type,
			&item.Data, &timestamp, &kind); err != nil {
			return nil, errors.NewStoreError("failed to scan event row", err)
		}

		ts, err := event.ParseTime(timestamp)
		if err != nil {
			return nil, errors.NewStoreError("corrupt event timestamp", err)
		}
		item.Timestamp = ts
		item.EntityType = event.EntityType(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("failed to iterate event rows", err)
	}
	return items, nil
}
