package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// SQLiteStore is the embedded single-process event store. The relational
// primary key on (entity_id, version) provides the optimistic concurrency
// constraint directly.
type SQLiteStore struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
}

// NewSQLiteStore opens (or creates) the event log database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewStoreError("failed to open event database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, errors.NewStoreError("failed to open read connection", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, errors.NewStoreError("failed to initialize schema", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
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
	return err
}

// EventsForEntity returns the full history of one entity.
func (s *SQLiteStore) EventsForEntity(ctx context.Context, entityID string) ([]event.StoreItem, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, entity_id, version, type, data, timestamp, entity_type
		FROM events WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, errors.NewStoreError("failed to read entity history", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Events returns all events with timestamp strictly after the cursor. The
// canonical fixed-width timestamp format makes the string comparison a
// time comparison.
func (s *SQLiteStore) Events(ctx context.Context, cursor event.Time) ([]event.StoreItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor.IsZero() {
		rows, err = s.readDB.QueryContext(ctx, `
			SELECT id, entity_id, version, type, data, timestamp, entity_type
			FROM events`)
	} else {
		rows, err = s.readDB.QueryContext(ctx, `
			SELECT id, entity_id, version, type, data, timestamp, entity_type
			FROM events WHERE timestamp > ?`, cursor.String())
	}
	if err != nil {
		return nil, errors.NewStoreError("failed to read events", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// SaveEvents appends all items in one transaction. A primary key violation
// on any row rolls the whole batch back and reports a conflict.
func (s *SQLiteStore) SaveEvents(ctx context.Context, items []event.StoreItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, entity_id, version, type, data, timestamp, entity_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewStoreError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx,
			item.ID, item.EntityID, item.Version, item.Type,
			item.Data, item.Timestamp.String(), string(item.EntityType))
		if err != nil {
			if isSQLiteConstraint(err) {
				return errors.NewConflictError(item.EntityID, item.Version)
			}
			return errors.NewStoreError("failed to insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreError("failed to commit events", err)
	}
	return nil
}

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
	rerr := s.readDB.Close()
	werr := s.db.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !stderrors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint
}

func scanItems(rows *sql.Rows) ([]event.StoreItem, error) {
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
