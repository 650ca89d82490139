// Package event defines the immutable unit of change shared by the server
// hub, the event stores, and the client sync engine. An event is identified
// by a client-generated UUID which doubles as the idempotency key; the
// server assigns a dense per-entity version once the event is accepted.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EntityType names the validator/reducer family that owns an event.
type EntityType string

const (
	EntityRecipe        EntityType = "recipe"
	EntityShoppingList  EntityType = "shoppingList"
	EntityPinnedRecipes EntityType = "pinnedRecipes"
)

// Reserved entity ids for singleton aggregates. These are ordinary entities
// addressed by a well-known constant id, not a separate code path.
const (
	ShoppingListID  = "3b7f2231-b3ca-40d0-adcc-4b495025b490"
	PinnedRecipesID = "375539e6-fd51-48c1-8d61-c47cdc3645d4"
)

// Event is a single immutable change to one entity.
//
// Version is zero while the event only exists on the client that created
// it. Once the hub accepts the event the assigned version is permanent.
type Event struct {
	ID        string          `json:"id"`
	EntityID  string          `json:"entityId"`
	Version   int             `json:"version,omitempty"`
	Type      string          `json:"type"`
	Timestamp Time            `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New constructs an unversioned event with a fresh id and the current time.
// The payload is serialized into the opaque data blob; a nil payload leaves
// the blob empty.
func New(entityID, eventType string, payload any) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Type:      eventType,
		Timestamp: Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("event: failed to serialize %s payload: %w", eventType, err)
		}
		ev.Data = data
	}

	return ev, nil
}

// Synced reports whether the event has been accepted by the server.
func (ev Event) Synced() bool {
	return ev.Version > 0
}

// Validate checks the envelope fields common to all event types. Payload
// validation is the owning entity validator's job.
func (ev Event) Validate() error {
	if _, err := uuid.Parse(ev.ID); err != nil {
		return fmt.Errorf("event: invalid id %q: %w", ev.ID, err)
	}
	if _, err := uuid.Parse(ev.EntityID); err != nil {
		return fmt.Errorf("event: invalid entity id %q: %w", ev.EntityID, err)
	}
	if ev.Version < 0 {
		return fmt.Errorf("event: negative version %d", ev.Version)
	}
	if len(ev.Type) < 3 {
		return fmt.Errorf("event: invalid type %q", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("event: missing timestamp")
	}
	return nil
}

// StoreItem is the persisted form of an event: the event plus the entity
// type that owns it, with the payload kept as an opaque string so stores
// need not understand per-type schemas.
type StoreItem struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entityId"`
	Version    int        `json:"version"`
	Type       string     `json:"type"`
	Data       string     `json:"data"`
	Timestamp  Time       `json:"timestamp"`
	EntityType EntityType `json:"entityType"`
}

// ToStoreItem converts an accepted event into its persisted form.
// The event must carry a server-assigned version.
func ToStoreItem(ev Event, entityType EntityType) (StoreItem, error) {
	if ev.Version < 1 {
		return StoreItem{}, fmt.Errorf("event: cannot store %s without a version", ev.ID)
	}

	data := "{}"
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}

	return StoreItem{
		ID:         ev.ID,
		EntityID:   ev.EntityID,
		Version:    ev.Version,
		Type:       ev.Type,
		Data:       data,
		Timestamp:  ev.Timestamp,
		EntityType: entityType,
	}, nil
}

// Event converts the persisted form back into an event.
func (it StoreItem) Event() Event {
	ev := Event{
		ID:        it.ID,
		EntityID:  it.EntityID,
		Version:   it.Version,
		Type:      it.Type,
		Timestamp: it.Timestamp,
	}
	if it.Data != "" && it.Data != "{}" {
		ev.Data = json.RawMessage(it.Data)
	}
	return ev
}

// GroupByEntity buckets events by their entity id, preserving order within
// each bucket.
func GroupByEntity(events []Event) map[string][]Event {
	grouped := make(map[string][]Event)
	for _, ev := range events {
		grouped[ev.EntityID] = append(grouped[ev.EntityID], ev)
	}
	return grouped
}

// MaxTimestamp returns the highest timestamp among the given events. It is
// the cursor-advance rule: a sync response's cursor is the max timestamp of
// the returned events.
func MaxTimestamp(events []Event) Time {
	var max Time
	for _, ev := range events {
		if ev.Timestamp.After(max.Time) {
			max = ev.Timestamp
		}
	}
	return max
}
