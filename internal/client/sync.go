package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larder/larder/internal/entity/registry"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/api"
	"github.com/larder/larder/pkg/event"
)

// staleSyncAfter is how long a syncing mark is trusted. A mark older than
// this means the push it belonged to never completed (the connection
// dropped mid-flight), so the event is eligible for resend.
const staleSyncAfter = 30 * time.Second

// Transport is the client's view of the server: the two request
// operations plus a live feed of sync batches. The websocket client
// implements it; tests substitute an in-process hub.
type Transport interface {
	// AddEvents pushes one entity's batch and returns the per-event
	// failures.
	AddEvents(ctx context.Context, req api.AddEventsRequest) (api.AddEventsResponse, error)

	// SyncEvents requests all events after the cursor.
	SyncEvents(ctx context.Context, req api.SyncEventsRequest) (api.SyncEventsResponse, error)
}

// Handlers are the engine's callbacks into the application layer.
// All of them are optional.
type Handlers struct {
	// OnUpdate delivers an entity's complete event history whenever it
	// changes, for view rebuilding.
	OnUpdate func(entityID string, events []event.Event)

	// OnDelete reports that an entity was rejected wholesale by the
	// server and its local trace was purged.
	OnDelete func(entityType event.EntityType, entityID string)

	// OnError surfaces server rejection reasons to the user.
	OnError func(messages []string)
}

// SyncEngine coordinates the local cache with the server: local events
// are applied optimistically and pushed when connected; server batches
// are merged back and the cursor advanced.
type SyncEngine struct {
	cache     *Cache
	transport Transport
	handlers  Handlers
	connected atomic.Bool
	log       *logrus.Entry
}

// NewSyncEngine creates a sync engine over the given cache and transport.
func NewSyncEngine(cache *Cache, transport Transport, handlers Handlers) *SyncEngine {
	return &SyncEngine{
		cache:     cache,
		transport: transport,
		handlers:  handlers,
		log:       logrus.WithField("component", "sync"),
	}
}

// Dispatch applies a locally created event: it is cached immediately (the
// optimistic update) and, if the connection is up, pushed in its own
// batch. Offline events wait for the next reconnect push.
func (e *SyncEngine) Dispatch(ctx context.Context, ev event.Event) error {
	entityType, ok := registry.EntityTypeOf(ev.Type)
	if !ok {
		return errors.NewSyncError(errors.CodeLocalCache, "unknown event type "+ev.Type, nil)
	}

	connected := e.connected.Load()
	push := connected && !ev.Synced()

	if err := e.cache.AddLocalEvent(ctx, ev, entityType, push); err != nil {
		return err
	}
	if err := e.notifyUpdate(ctx, ev.EntityID); err != nil {
		return err
	}

	if push {
		e.push(ctx, ev.EntityID, []event.Event{ev})
	}
	return nil
}

// SetConnected flips the connection state. Coming online triggers a push
// of everything that accumulated while offline, plus anything whose
// previous push never completed.
func (e *SyncEngine) SetConnected(ctx context.Context, connected bool) {
	e.connected.Store(connected)
	if connected {
		e.PushUnsynced(ctx)
	}
}

// PushUnsynced checks out all pending events and pushes them, one
// request per entity, oldest first within each entity.
func (e *SyncEngine) PushUnsynced(ctx context.Context) {
	pending, err := e.cache.CheckoutUnsynced(ctx, staleSyncAfter)
	if err != nil {
		e.log.WithError(err).Error("failed to check out unsynced events")
		return
	}
	for entityID, events := range pending {
		event.SortByTimestamp(events)
		e.push(ctx, entityID, events)
	}
}

// Pull runs one catch-up sync round: fetch everything after the cursor,
// merge it, advance the cursor.
func (e *SyncEngine) Pull(ctx context.Context) error {
	cursor, err := e.cache.Cursor(ctx)
	if err != nil {
		return err
	}

	resp, err := e.transport.SyncEvents(ctx, api.SyncEventsRequest{Cursor: cursor.String()})
	if err != nil {
		return err
	}
	return e.MergeServerBatch(ctx, resp)
}

// MergeServerBatch folds one sync feed batch into the cache. Server
// copies overwrite local unsynced copies with the same id, which is how
// a client learns its own events were accepted.
func (e *SyncEngine) MergeServerBatch(ctx context.Context, batch api.SyncEventsResponse) error {
	if batch.Cursor != "" {
		cursor, err := event.ParseTime(batch.Cursor)
		if err != nil {
			return errors.NewSyncError(errors.CodeSerialization, "invalid sync cursor", err)
		}
		if err := e.cache.SetCursor(ctx, cursor); err != nil {
			return err
		}
	}
	if len(batch.Events) == 0 {
		return nil
	}

	touched, err := e.cache.MergeSyncedEvents(ctx, batch.Events, registry.EntityTypeOf)
	if err != nil {
		return err
	}
	for entityID, events := range touched {
		e.update(entityID, events)
	}
	return nil
}

// push sends one entity's batch and reconciles the response. Accepted
// events are not acknowledged here; their versioned copies arrive through
// the sync feed. Failures are terminal: the rejected events are purged
// and, if nothing of the entity survives, its view is dropped.
func (e *SyncEngine) push(ctx context.Context, entityID string, events []event.Event) {
	resp, err := e.transport.AddEvents(ctx, api.AddEventsRequest{
		EntityID: entityID,
		Events:   events,
	})
	if err != nil {
		// The syncing marks age out and the events are resent later.
		e.log.WithError(err).WithField("entity", entityID).Warn("push failed")
		return
	}
	if len(resp.Failed) == 0 {
		return
	}

	messages := make([]string, 0, len(resp.Failed))
	failedIDs := make([]string, 0, len(resp.Failed))
	for _, f := range resp.Failed {
		messages = append(messages, f.Error)
		failedIDs = append(failedIDs, f.EventID)
	}
	if e.handlers.OnError != nil {
		e.handlers.OnError(messages)
	}

	surviving, err := e.cache.RemoveFailedEvents(ctx, entityID, failedIDs)
	if err != nil {
		e.log.WithError(err).WithField("entity", entityID).Error("failed to purge rejected events")
		return
	}

	if len(surviving) > 0 {
		e.update(entityID, surviving)
		return
	}

	entityType, _ := registry.EntityTypeOf(events[0].Type)
	if err := e.cache.DeleteView(ctx, entityID); err != nil {
		e.log.WithError(err).WithField("entity", entityID).Error("failed to drop view")
	}
	if e.handlers.OnDelete != nil {
		e.handlers.OnDelete(entityType, entityID)
	}
}

func (e *SyncEngine) notifyUpdate(ctx context.Context, entityID string) error {
	events, err := e.cache.EventsForEntity(ctx, entityID)
	if err != nil {
		return err
	}
	e.update(entityID, events)
	return nil
}

func (e *SyncEngine) update(entityID string, events []event.Event) {
	if e.handlers.OnUpdate != nil && len(events) > 0 {
		e.handlers.OnUpdate(entityID, events)
	}
}
