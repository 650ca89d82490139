// Package hub is the server-side write path. It validates incoming event
// batches against each entity's replayed history, assigns dense versions,
// persists through the event store's optimistic concurrency check, and
// retries the whole cycle on version conflicts.
package hub

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/larder/larder/internal/entity"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/internal/store"
	"github.com/larder/larder/pkg/event"
)

// maxAttempts bounds the validate-assign-save cycle. Losing the store
// race this many times in a row means the entity is too contended to
// serve the batch right now; the caller gets an explicit error instead of
// an unbounded retry.
const maxAttempts = 5

// Rejection records one event the hub refused, with the terminal reason.
type Rejection struct {
	EventID string
	Err     error
}

// Hub accepts event batches into the shared log and fans accepted events
// out to subscribers.
type Hub struct {
	store      store.EventStore
	validators []entity.Validator
	broadcast  *Broadcaster
	log        *logrus.Entry
}

// New creates a hub over the given store and validator set.
func New(st store.EventStore, validators []entity.Validator) *Hub {
	return &Hub{
		store:      st,
		validators: validators,
		broadcast:  NewBroadcaster(64),
		log:        logrus.WithField("component", "hub"),
	}
}

// Broadcaster exposes the subscriber registry for session feeds.
func (h *Hub) Broadcaster() *Broadcaster {
	return h.broadcast
}

// AddEvents runs the write cycle for one entity's batch.
//
// The validator is chosen by the first event's type and owns the whole
// batch. Per event, three outcomes exist: accepted (returned with its
// assigned version), rejected (returned in rejections, terminal, never
// retried), or silently dropped because an event with the same id is
// already in the log. A version conflict restarts the cycle against the
// fresh history; after maxAttempts losses the batch fails with a
// contention error and nothing from it is persisted.
func (h *Hub) AddEvents(ctx context.Context, entityID string, incoming []event.Event) ([]event.Event, []Rejection, error) {
	if len(incoming) == 0 {
		return nil, nil, nil
	}

	pending, rejections := h.screen(entityID, incoming)
	if len(pending) == 0 {
		return nil, rejections, nil
	}

	v := h.validatorFor(pending[0].Type)
	if v == nil {
		err := errors.New(errors.ErrCategoryHub, errors.CodeNoValidator,
			fmt.Sprintf("could not find event validator for %q", pending[0].Type))
		for _, ev := range pending {
			rejections = append(rejections, Rejection{EventID: ev.ID, Err: err})
		}
		return nil, rejections, nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		accepted, attemptRejections, err := h.attempt(ctx, v, entityID, pending)
		if err != nil {
			if errors.IsConflict(err) {
				h.log.WithFields(logrus.Fields{
					"entity":  entityID,
					"attempt": attempt,
				}).Info("version conflict, retrying batch")
				continue
			}
			return nil, nil, err
		}

		if len(accepted) > 0 {
			h.broadcast.Publish(accepted, v.EntityType())
		}
		return accepted, append(rejections, attemptRejections...), nil
	}

	return nil, nil, errors.New(errors.ErrCategoryHub, errors.CodeContention,
		fmt.Sprintf("too much contention adding events for entity %s", entityID))
}

// attempt runs one validate-assign-save cycle against a snapshot of the
// entity's history. A conflict error from the store invalidates the whole
// attempt.
func (h *Hub) attempt(ctx context.Context, v entity.Validator, entityID string, pending []event.Event) ([]event.Event, []Rejection, error) {
	items, err := h.store.EventsForEntity(ctx, entityID)
	if err != nil {
		return nil, nil, err
	}
	event.SortByVersion(items)

	existing := make(map[string]struct{}, len(items))
	history := make([]event.Event, 0, len(items))
	for _, it := range items {
		existing[it.ID] = struct{}{}
		history = append(history, it.Event())
	}

	state, err := entity.Replay(v, history)
	if err != nil {
		return nil, nil, errors.NewInternalError(
			fmt.Sprintf("stored history of entity %s fails validation", entityID), err)
	}

	var (
		accepted   []event.Event
		rejections []Rejection
	)
	next := len(history)

	for _, ev := range pending {
		// Covers both ids already in the log and duplicates within the
		// batch itself.
		if _, ok := existing[ev.ID]; ok {
			h.log.WithFields(logrus.Fields{
				"entity": entityID,
				"event":  ev.ID,
			}).Warn("dropping already persisted event")
			continue
		}
		existing[ev.ID] = struct{}{}

		if err := state.Apply(ev); err != nil {
			rejections = append(rejections, Rejection{EventID: ev.ID, Err: err})
			continue
		}

		next++
		ev.Version = next
		accepted = append(accepted, ev)
	}

	if len(accepted) == 0 {
		return nil, rejections, nil
	}

	toSave := make([]event.StoreItem, 0, len(accepted))
	for _, ev := range accepted {
		item, err := event.ToStoreItem(ev, v.EntityType())
		if err != nil {
			return nil, nil, errors.NewInternalError("failed to build store item", err)
		}
		toSave = append(toSave, item)
	}

	if err := h.store.SaveEvents(ctx, toSave); err != nil {
		return nil, nil, err
	}
	return accepted, rejections, nil
}

// SyncEvents returns every event with a timestamp strictly after the
// cursor, in canonical order, along with the advanced cursor. An empty
// result leaves the cursor unchanged.
func (h *Hub) SyncEvents(ctx context.Context, cursor event.Time) ([]event.Event, event.Time, error) {
	items, err := h.store.Events(ctx, cursor)
	if err != nil {
		return nil, cursor, err
	}

	events := make([]event.Event, 0, len(items))
	for _, it := range items {
		events = append(events, it.Event())
	}
	event.SortCanonical(events)

	next := event.MaxTimestamp(events)
	if next.IsZero() {
		next = cursor
	}
	return events, next, nil
}

// EntityEvents returns one entity's full accepted history in version
// order.
func (h *Hub) EntityEvents(ctx context.Context, entityID string) ([]event.Event, error) {
	items, err := h.store.EventsForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	event.SortByVersion(items)

	events := make([]event.Event, 0, len(items))
	for _, it := range items {
		events = append(events, it.Event())
	}
	return events, nil
}

// screen validates envelopes before the write cycle: an event addressed
// to a different entity than the batch can never become legal and is
// rejected up front.
func (h *Hub) screen(entityID string, incoming []event.Event) ([]event.Event, []Rejection) {
	var (
		pending    []event.Event
		rejections []Rejection
	)
	for _, ev := range incoming {
		if ev.EntityID != entityID {
			rejections = append(rejections, Rejection{
				EventID: ev.ID,
				Err: errors.New(errors.ErrCategoryHub, errors.CodeEntityMismatch,
					fmt.Sprintf("event %s targets entity %s, batch targets %s", ev.ID, ev.EntityID, entityID)),
			})
			continue
		}
		if err := ev.Validate(); err != nil {
			rejections = append(rejections, Rejection{
				EventID: ev.ID,
				Err:     errors.NewValidationError(errors.CodeInvalidPayload, err.Error()),
			})
			continue
		}
		pending = append(pending, ev)
	}
	return pending, rejections
}

func (h *Hub) validatorFor(eventType string) entity.Validator {
	for _, v := range h.validators {
		if v.Matches(eventType) {
			return v
		}
	}
	return nil
}
