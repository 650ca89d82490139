// Package client implements the offline-first client side: a SQLite
// local cache of events and materialized views, and a sync engine that
// pushes locally created events to the hub and merges the server feed
// back in.
package client

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

const cursorKey = "eventSyncCursor"

// Cache is the client's local event database. Events are keyed by their
// id; an event without a version is unsynced and carries a syncing-since
// mark while a push for it is in flight.
type Cache struct {
	db *sql.DB
}

// NewCache opens (or creates) the local cache database at dbPath.
func NewCache(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to open local cache", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Cache{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to initialize local cache", err)
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id      TEXT PRIMARY KEY,
			entity_id     TEXT NOT NULL,
			entity_type   TEXT NOT NULL,
			version       INTEGER NOT NULL DEFAULT 0,
			type          TEXT NOT NULL,
			data          TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			syncing_since TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
		CREATE INDEX IF NOT EXISTS idx_events_unsynced ON events(version) WHERE version = 0;

		CREATE TABLE IF NOT EXISTS views (
			entity_id   TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			body        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS keyval (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// AddLocalEvent stores an event created on this client. If the event is
// unsynced and a push is starting immediately, it is marked as syncing.
func (c *Cache) AddLocalEvent(ctx context.Context, ev event.Event, entityType event.EntityType, syncing bool) error {
	since := ""
	if !ev.Synced() && syncing {
		since = event.Now().String()
	}
	return c.putEvent(ctx, ev, entityType, since)
}

// MergeSyncedEvents upserts events received from the server, clearing any
// syncing marks they resolve. A synced copy overwrites the local unsynced
// copy with the same id. It returns the complete event list of every
// touched entity so callers can rebuild views.
func (c *Cache) MergeSyncedEvents(ctx context.Context, events []event.Event, typeOf func(string) (event.EntityType, bool)) (map[string][]event.Event, error) {
	for _, ev := range events {
		entityType, ok := typeOf(ev.Type)
		if !ok {
			return nil, errors.NewSyncError(errors.CodeLocalCache,
				"received event of unknown type "+ev.Type, nil)
		}
		if err := c.putEvent(ctx, ev, entityType, ""); err != nil {
			return nil, err
		}
	}

	touched := make(map[string][]event.Event)
	for _, ev := range events {
		if _, ok := touched[ev.EntityID]; ok {
			continue
		}
		history, err := c.EventsForEntity(ctx, ev.EntityID)
		if err != nil {
			return nil, err
		}
		touched[ev.EntityID] = history
	}
	return touched, nil
}

// RemoveFailedEvents purges events the server rejected. The rejection is
// terminal, so the local copies are deleted outright. It returns the
// entity's surviving events; an empty result means the entity never made
// it to the server and the caller should drop its view.
func (c *Cache) RemoveFailedEvents(ctx context.Context, entityID string, eventIDs []string) ([]event.Event, error) {
	for _, id := range eventIDs {
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM events WHERE event_id = ? AND entity_id = ?`, id, entityID); err != nil {
			return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to purge rejected event", err)
		}
	}
	return c.EventsForEntity(ctx, entityID)
}

// CheckoutUnsynced returns all events that still need a push, grouped by
// entity and sorted by timestamp ascending, and marks them as syncing.
// An event already marked as syncing is skipped unless the mark is older
// than staleAfter, which means the previous push never completed.
func (c *Cache) CheckoutUnsynced(ctx context.Context, staleAfter time.Duration) (map[string][]event.Event, error) {
	stale := event.At(time.Now().Add(-staleAfter)).String()

	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, entity_id, version, type, data, timestamp
		FROM events
		WHERE version = 0 AND (syncing_since = '' OR syncing_since < ?)
		ORDER BY entity_id, timestamp`, stale)
	if err != nil {
		return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to read unsynced events", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	now := event.Now().String()
	for _, ev := range events {
		if _, err := c.db.ExecContext(ctx,
			`UPDATE events SET syncing_since = ? WHERE event_id = ?`, now, ev.ID); err != nil {
			return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to mark event as syncing", err)
		}
	}

	return event.GroupByEntity(events), nil
}

// EventsForEntity returns the entity's cached events in canonical order.
func (c *Cache) EventsForEntity(ctx context.Context, entityID string) ([]event.Event, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, entity_id, version, type, data, timestamp
		FROM events WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to read entity events", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	event.SortCanonical(events)
	return events, nil
}

// HasUnsynced reports whether any event is still waiting for the server.
func (c *Cache) HasUnsynced(ctx context.Context) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE version = 0`).Scan(&n)
	if err != nil {
		return false, errors.NewSyncError(errors.CodeLocalCache, "failed to count unsynced events", err)
	}
	return n > 0, nil
}

// Cursor returns the catch-up sync cursor, zero if no sync has happened.
func (c *Cache) Cursor(ctx context.Context) (event.Time, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM keyval WHERE key = ?`, cursorKey).Scan(&value)
	if err == sql.ErrNoRows {
		return event.Time{}, nil
	}
	if err != nil {
		return event.Time{}, errors.NewSyncError(errors.CodeLocalCache, "failed to read sync cursor", err)
	}
	cursor, err := event.ParseTime(value)
	if err != nil {
		return event.Time{}, errors.NewSyncError(errors.CodeLocalCache, "corrupt sync cursor", err)
	}
	return cursor, nil
}

// SetCursor stores the catch-up sync cursor.
func (c *Cache) SetCursor(ctx context.Context, cursor event.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO keyval (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		cursorKey, cursor.String())
	if err != nil {
		return errors.NewSyncError(errors.CodeLocalCache, "failed to store sync cursor", err)
	}
	return nil
}

// PutView stores an entity's materialized view as a JSON document.
func (c *Cache) PutView(ctx context.Context, entityID string, entityType event.EntityType, body []byte) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO views (entity_id, entity_type, body) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET body = excluded.body`,
		entityID, string(entityType), string(body))
	if err != nil {
		return errors.NewSyncError(errors.CodeLocalCache, "failed to store view", err)
	}
	return nil
}

// View loads an entity's materialized view, sql.ErrNoRows mapped to a
// nil body.
func (c *Cache) View(ctx context.Context, entityID string) ([]byte, error) {
	var body string
	err := c.db.QueryRowContext(ctx,
		`SELECT body FROM views WHERE entity_id = ?`, entityID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to read view", err)
	}
	return []byte(body), nil
}

// DeleteView removes an entity's materialized view.
func (c *Cache) DeleteView(ctx context.Context, entityID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM views WHERE entity_id = ?`, entityID)
	if err != nil {
		return errors.NewSyncError(errors.CodeLocalCache, "failed to delete view", err)
	}
	return nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) putEvent(ctx context.Context, ev event.Event, entityType event.EntityType, syncingSince string) error {
	data := "{}"
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO events (event_id, entity_id, entity_type, version, type, data, timestamp, syncing_since)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			version = excluded.version,
			syncing_since = excluded.syncing_since`,
		ev.ID, ev.EntityID, string(entityType), ev.Version, ev.Type, data,
		ev.Timestamp.String(), syncingSince)
	if err != nil {
		return errors.NewSyncError(errors.CodeLocalCache, "failed to store event", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			ev        event.Event
			data      string
			timestamp string
		)
		if err := rows.Scan(&ev.ID, &ev.EntityID, &ev.Version, &ev.Type, &data, &timestamp); err != nil {
			return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to scan cached event", err)
		}
		if data != "" && data != "{}" {
			ev.Data = []byte(data)
		}
		ts, err := event.ParseTime(timestamp)
		if err != nil {
			return nil, errors.NewSyncError(errors.CodeLocalCache, "corrupt cached timestamp", err)
		}
		ev.Timestamp = ts
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewSyncError(errors.CodeLocalCache, "failed to iterate cached events", err)
	}
	return events, nil
}
