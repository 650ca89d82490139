// Package store provides the append-only event persistence abstraction.
// All backends enforce a uniqueness constraint on (entityId, version);
// violating it surfaces as a typed conflict error which the hub's retry
// loop pattern-matches on. The conflict is a first-class signal, not a
// generic I/O failure.
package store

import (
	"context"

	"github.com/larder/larder/pkg/event"
)

// EventStore is the append-only event log.
type EventStore interface {
	// EventsForEntity returns the full history of one entity, in no
	// particular order. Callers sort by version.
	EventsForEntity(ctx context.Context, entityID string) ([]event.StoreItem, error)

	// Events returns all events with timestamp strictly after the cursor,
	// or the full log for the zero cursor. Used for catch-up sync.
	Events(ctx context.Context, cursor event.Time) ([]event.StoreItem, error)

	// SaveEvents atomically appends all items, which must target a single
	// entity. If any (entityId, version) already exists the whole batch
	// fails with a conflict error and nothing is persisted.
	SaveEvents(ctx context.Context, items []event.StoreItem) error

	// Close releases backend resources.
	Close() error
}
