package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder/internal/entity/pinned"
	"github.com/larder/larder/internal/entity/registry"
	"github.com/larder/larder/internal/entity/shoppinglist"
	"github.com/larder/larder/internal/hub"
	"github.com/larder/larder/internal/store"
	"github.com/larder/larder/pkg/api"
	"github.com/larder/larder/pkg/event"
)

// hubTransport runs requests against an in-process hub, standing in for
// the websocket client.
type hubTransport struct {
	h *hub.Hub
}

func (t hubTransport) AddEvents(ctx context.Context, req api.AddEventsRequest) (api.AddEventsResponse, error) {
	_, rejected, err := t.h.AddEvents(ctx, req.EntityID, req.Events)
	if err != nil {
		return api.AddEventsResponse{}, err
	}
	resp := api.AddEventsResponse{Failed: []api.FailedEvent{}}
	for _, r := range rejected {
		resp.Failed = append(resp.Failed, api.FailedEvent{EventID: r.EventID, Error: r.Err.Error()})
	}
	return resp, nil
}

func (t hubTransport) SyncEvents(ctx context.Context, req api.SyncEventsRequest) (api.SyncEventsResponse, error) {
	cursor, err := event.ParseTime(req.Cursor)
	if err != nil {
		return api.SyncEventsResponse{}, err
	}
	events, next, err := t.h.SyncEvents(ctx, cursor)
	if err != nil {
		return api.SyncEventsResponse{}, err
	}
	return api.SyncEventsResponse{Cursor: next.String(), Events: events}, nil
}

type fixture struct {
	engine *SyncEngine
	cache  *Cache
	views  *Materializer

	deleted []string
	errors  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cache, err := NewCache(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	f := &fixture{cache: cache, views: NewMaterializer(cache)}
	f.engine = NewSyncEngine(cache, hubTransport{hub.New(st, registry.Validators())}, Handlers{
		OnUpdate: func(entityID string, events []event.Event) {
			_ = f.views.Rebuild(context.Background(), entityID, events)
		},
		OnDelete: func(_ event.EntityType, entityID string) {
			f.deleted = append(f.deleted, entityID)
		},
		OnError: func(messages []string) {
			f.errors = append(f.errors, messages...)
		},
	})
	return f
}

func pinLocally(t *testing.T, f *fixture, recipeID string) event.Event {
	t.Helper()
	ev, err := event.New(event.PinnedRecipesID, pinned.TypeRecipePinned,
		pinned.RecipePinned{RecipeID: recipeID})
	require.NoError(t, err)
	require.NoError(t, f.engine.Dispatch(context.Background(), ev))
	return ev
}

func TestSyncEngine_OfflineEventsPushOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Created offline: cached, optimistic view built, nothing pushed.
	recipeID := uuid.NewString()
	pinLocally(t, f, recipeID)

	unsynced, err := f.cache.HasUnsynced(ctx)
	require.NoError(t, err)
	assert.True(t, unsynced)

	view, err := f.views.PinnedRecipes(ctx)
	require.NoError(t, err)
	assert.Equal(t, pinned.PinnedRecipes{recipeID}, view)

	// Reconnect pushes, and the next pull brings the versioned copy back.
	f.engine.SetConnected(ctx, true)
	require.NoError(t, f.engine.Pull(ctx))

	unsynced, err = f.cache.HasUnsynced(ctx)
	require.NoError(t, err)
	assert.False(t, unsynced)

	events, err := f.cache.EventsForEntity(ctx, event.PinnedRecipesID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)
	assert.Empty(t, f.errors)
}

func TestSyncEngine_ConnectedDispatchPushesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.SetConnected(ctx, true)
	pinLocally(t, f, uuid.NewString())

	require.NoError(t, f.engine.Pull(ctx))

	unsynced, err := f.cache.HasUnsynced(ctx)
	require.NoError(t, err)
	assert.False(t, unsynced)
}

func TestSyncEngine_RejectedEntityIsPurged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.SetConnected(ctx, true)

	// Unpinning a recipe that was never pinned is illegal; the entity's
	// only event fails, so the whole local trace goes away.
	ev, err := event.New(event.PinnedRecipesID, pinned.TypeRecipeUnpinned,
		pinned.RecipeUnpinned{RecipeID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, f.engine.Dispatch(ctx, ev))

	assert.NotEmpty(t, f.errors)
	assert.Contains(t, f.deleted, event.PinnedRecipesID)

	events, err := f.cache.EventsForEntity(ctx, event.PinnedRecipesID)
	require.NoError(t, err)
	assert.Empty(t, events)

	body, err := f.cache.View(ctx, event.PinnedRecipesID)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestSyncEngine_PartialRejectionKeepsSurvivors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Queue a legal pin and an illegal unpin while offline so they travel
	// in one batch.
	recipeID := uuid.NewString()
	pinLocally(t, f, recipeID)

	bad, err := event.New(event.PinnedRecipesID, pinned.TypeRecipeUnpinned,
		pinned.RecipeUnpinned{RecipeID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, f.engine.Dispatch(ctx, bad))

	f.engine.SetConnected(ctx, true)
	require.NoError(t, f.engine.Pull(ctx))

	assert.NotEmpty(t, f.errors)
	assert.Empty(t, f.deleted)

	events, err := f.cache.EventsForEntity(ctx, event.PinnedRecipesID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)

	view, err := f.views.PinnedRecipes(ctx)
	require.NoError(t, err)
	assert.Equal(t, pinned.PinnedRecipes{recipeID}, view)
}

func TestSyncEngine_PullMergesOtherClients(t *testing.T) {
	ctx := context.Background()

	// Two engines over one hub simulate two devices sharing a server.
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	shared := hubTransport{hub.New(st, registry.Validators())}

	cacheA, err := NewCache(filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cacheA.Close() })
	cacheB, err := NewCache(filepath.Join(t.TempDir(), "b.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cacheB.Close() })

	engineA := NewSyncEngine(cacheA, shared, Handlers{})
	engineB := NewSyncEngine(cacheB, shared, Handlers{})

	engineA.SetConnected(ctx, true)
	item := shoppinglist.Item{ID: uuid.NewString(), Name: "flour"}
	ev, err := event.New(event.ShoppingListID, shoppinglist.TypeItemsAdded,
		shoppinglist.ItemsAdded{Items: []shoppinglist.Item{item}})
	require.NoError(t, err)
	require.NoError(t, engineA.Dispatch(ctx, ev))

	require.NoError(t, engineB.Pull(ctx))
	events, err := cacheB.EventsForEntity(ctx, event.ShoppingListID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
	assert.Equal(t, 1, events[0].Version)

	// The cursor advanced; an immediate second pull is a no-op.
	cursor, err := cacheB.Cursor(ctx)
	require.NoError(t, err)
	assert.False(t, cursor.IsZero())
}

func TestCache_CheckoutSkipsInFlightEvents(t *testing.T) {
	cache, err := NewCache(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	ctx := context.Background()

	ev, err := event.New(event.PinnedRecipesID, pinned.TypeRecipePinned,
		pinned.RecipePinned{RecipeID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, cache.AddLocalEvent(ctx, ev, event.EntityPinnedRecipes, false))

	first, err := cache.CheckoutUnsynced(ctx, staleSyncAfter)
	require.NoError(t, err)
	require.Len(t, first[event.PinnedRecipesID], 1)

	// A fresh syncing mark keeps the event out of the next checkout.
	second, err := cache.CheckoutUnsynced(ctx, staleSyncAfter)
	require.NoError(t, err)
	assert.Empty(t, second)

	// A stale mark means the push never completed, so it goes out again.
	third, err := cache.CheckoutUnsynced(ctx, -time.Second)
	require.NoError(t, err)
	require.Len(t, third[event.PinnedRecipesID], 1)
}

func TestCache_CursorRoundTrip(t *testing.T) {
	cache, err := NewCache(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	ctx := context.Background()

	cursor, err := cache.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	at := event.At(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, cache.SetCursor(ctx, at))

	cursor, err = cache.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(at.Time))
}
