// Package integration exercises the full stack end to end: sqlite event
// store, hub, websocket gateway, and two independent clients with their
// own local caches syncing through it.
package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder/internal/api/ws"
	"github.com/larder/larder/internal/client"
	"github.com/larder/larder/internal/entity/recipe"
	"github.com/larder/larder/internal/entity/registry"
	"github.com/larder/larder/internal/hub"
	"github.com/larder/larder/internal/store"
	"github.com/larder/larder/pkg/api"
	"github.com/larder/larder/pkg/event"
)

const waitFor = 5 * time.Second

// appClient is one simulated app instance: a websocket connection, a
// local cache, the sync engine, and materialized views.
type appClient struct {
	engine *client.SyncEngine
	cache  *client.Cache
	views  *client.Materializer
	conn   *ws.Client
	errors chan []string
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(ws.NewServer(hub.New(st, registry.Validators())))
	t.Cleanup(srv.Close)
	return srv
}

func startClient(t *testing.T, ctx context.Context, srv *httptest.Server) *appClient {
	t.Helper()

	cache, err := client.NewCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	ac := &appClient{
		cache:  cache,
		views:  client.NewMaterializer(cache),
		errors: make(chan []string, 4),
	}

	var engine *client.SyncEngine
	conn := ws.NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), func(connected bool) {
		engine.SetConnected(ctx, connected)
	})

	engine = client.NewSyncEngine(cache, conn, client.Handlers{
		OnUpdate: func(entityID string, events []event.Event) {
			_ = ac.views.Rebuild(ctx, entityID, events)
		},
		OnError: func(messages []string) { ac.errors <- messages },
	})
	ac.engine = engine
	ac.conn = conn

	// The live feed replaces polling: every accepted batch anywhere in the
	// system is merged into this client's cache as it happens.
	conn.Subscribe(api.TypeSyncEvents,
		func() (any, error) {
			cursor, err := cache.Cursor(ctx)
			if err != nil {
				return nil, err
			}
			return api.SyncEventsRequest{Cursor: cursor.String()}, nil
		},
		func(resp api.Response) {
			if resp.Error != "" {
				return
			}
			var batch api.SyncEventsResponse
			if err := json.Unmarshal(resp.Data, &batch); err != nil {
				return
			}
			_ = engine.MergeServerBatch(ctx, batch)
		})

	go conn.Run(ctx)
	return ac
}

func dispatch(t *testing.T, ctx context.Context, ac *appClient, entityID, eventType string, payload any) {
	t.Helper()
	ev, err := event.New(entityID, eventType, payload)
	require.NoError(t, err)
	require.NoError(t, ac.engine.Dispatch(ctx, ev))
}

func TestOfflineEditsReachOtherClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t)
	alice := startClient(t, ctx, srv)
	bob := startClient(t, ctx, srv)

	// Alice edits straight away, likely before her connection is up; the
	// events sit in her cache and her local view already reflects them.
	recipeID := uuid.NewString()
	dispatch(t, ctx, alice, recipeID, recipe.TypeCreated, nil)
	dispatch(t, ctx, alice, recipeID, recipe.TypeNameSet, recipe.NameSet{Name: "Soda Bread"})
	dispatch(t, ctx, alice, recipeID, recipe.TypeTagAdded, recipe.TagAdded{Tag: recipe.TagBread})

	view, err := alice.views.Recipe(ctx, recipeID)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "Soda Bread", view.Name)

	// Once both connections come up, the reconnect push drains Alice's
	// backlog and Bob learns the recipe through the live feed.
	require.Eventually(t, func() bool {
		v, err := bob.views.Recipe(ctx, recipeID)
		return err == nil && v != nil && v.Name == "Soda Bread" && v.Version == 3
	}, waitFor, 20*time.Millisecond)

	// Alice's own copies were overwritten by the versioned server copies.
	require.Eventually(t, func() bool {
		pending, err := alice.cache.HasUnsynced(ctx)
		return err == nil && !pending
	}, waitFor, 20*time.Millisecond)

	events, err := alice.cache.EventsForEntity(ctx, recipeID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Version)
	}
}

func TestConcurrentEditsConverge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t)
	alice := startClient(t, ctx, srv)
	bob := startClient(t, ctx, srv)

	recipeID := uuid.NewString()
	dispatch(t, ctx, alice, recipeID, recipe.TypeCreated, nil)

	// Bob waits until he has seen the create, then both edit the same
	// recipe. The hub serializes the batches; both clients must converge
	// on the same document.
	require.Eventually(t, func() bool {
		v, err := bob.views.Recipe(ctx, recipeID)
		return err == nil && v != nil
	}, waitFor, 20*time.Millisecond)

	dispatch(t, ctx, alice, recipeID, recipe.TypeTagAdded, recipe.TagAdded{Tag: recipe.TagVegetarian})
	dispatch(t, ctx, bob, recipeID, recipe.TypeNameSet, recipe.NameSet{Name: "Flatbread"})

	for _, ac := range []*appClient{alice, bob} {
		require.Eventually(t, func() bool {
			v, err := ac.views.Recipe(ctx, recipeID)
			return err == nil && v != nil && v.Version == 3 &&
				v.Name == "Flatbread" && len(v.Tags) == 1
		}, waitFor, 20*time.Millisecond)
	}
}

func TestRejectedEntityIsPurgedEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t)
	alice := startClient(t, ctx, srv)

	// Editing a recipe that was never created is rejected by the server
	// validator; the client purges the entity and surfaces the reason.
	recipeID := uuid.NewString()
	dispatch(t, ctx, alice, recipeID, recipe.TypeNameSet, recipe.NameSet{Name: "Ghost"})

	select {
	case messages := <-alice.errors:
		require.NotEmpty(t, messages)
		assert.Contains(t, messages[0], "hasn't been created")
	case <-time.After(waitFor):
		t.Fatal("rejection never surfaced")
	}

	require.Eventually(t, func() bool {
		events, err := alice.cache.EventsForEntity(ctx, recipeID)
		return err == nil && len(events) == 0
	}, waitFor, 20*time.Millisecond)

	view, err := alice.views.Recipe(ctx, recipeID)
	require.NoError(t, err)
	assert.Nil(t, view)
}
