package hub

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder/internal/entity/pinned"
	"github.com/larder/larder/internal/entity/registry"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/internal/store"
	"github.com/larder/larder/pkg/event"
)

func newTestHub(t *testing.T) (*Hub, store.EventStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, registry.Validators()), st
}

func pinEvent(t *testing.T, recipeID string) event.Event {
	t.Helper()
	ev, err := event.New(event.PinnedRecipesID, pinned.TypeRecipePinned,
		pinned.RecipePinned{RecipeID: recipeID})
	require.NoError(t, err)
	return ev
}

func unpinEvent(t *testing.T, recipeID string) event.Event {
	t.Helper()
	ev, err := event.New(event.PinnedRecipesID, pinned.TypeRecipeUnpinned,
		pinned.RecipeUnpinned{RecipeID: recipeID})
	require.NoError(t, err)
	return ev
}

func TestAddEvents_AssignsDenseVersions(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	first, rejected, err := h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{
		pinEvent(t, uuid.NewString()),
		pinEvent(t, uuid.NewString()),
	})
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, first, 2)
	assert.Equal(t, 1, first[0].Version)
	assert.Equal(t, 2, first[1].Version)

	second, rejected, err := h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{
		pinEvent(t, uuid.NewString()),
	})
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, second, 1)
	assert.Equal(t, 3, second[0].Version)
}

func TestAddEvents_DuplicateIDsAreDropped(t *testing.T) {
	h, st := newTestHub(t)
	ctx := context.Background()

	ev := pinEvent(t, uuid.NewString())
	accepted, rejected, err := h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{ev})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Empty(t, rejected)

	// The same event resubmitted (as an offline client retrying would) is
	// neither accepted again nor reported as a failure.
	accepted, rejected, err = h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{ev})
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Empty(t, rejected)

	items, err := st.EventsForEntity(ctx, event.PinnedRecipesID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestAddEvents_NoValidatorRejectsWholeBatch(t *testing.T) {
	h, _ := newTestHub(t)

	ev, err := event.New(event.PinnedRecipesID, "NoSuchEvent", nil)
	require.NoError(t, err)

	accepted, rejected, err := h.AddEvents(context.Background(), event.PinnedRecipesID, []event.Event{ev})
	require.NoError(t, err)
	assert.Empty(t, accepted)
	require.Len(t, rejected, 1)
	assert.Equal(t, errors.CodeNoValidator, errors.GetCode(rejected[0].Err))
}

func TestAddEvents_IllegalEventIsRejectedOthersAccepted(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	good := pinEvent(t, uuid.NewString())
	bad := unpinEvent(t, uuid.NewString()) // never pinned

	accepted, rejected, err := h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{good, bad})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, good.ID, accepted[0].ID)
	assert.Equal(t, 1, accepted[0].Version)
	require.Len(t, rejected, 1)
	assert.Equal(t, bad.ID, rejected[0].EventID)
	assert.Equal(t, errors.CodeIllegalEvent, errors.GetCode(rejected[0].Err))
}

func TestAddEvents_EntityMismatchIsRejected(t *testing.T) {
	h, _ := newTestHub(t)

	stray := pinEvent(t, uuid.NewString())
	stray.EntityID = uuid.NewString()

	accepted, rejected, err := h.AddEvents(context.Background(), event.PinnedRecipesID, []event.Event{stray})
	require.NoError(t, err)
	assert.Empty(t, accepted)
	require.Len(t, rejected, 1)
	assert.Equal(t, errors.CodeEntityMismatch, errors.GetCode(rejected[0].Err))
}

// conflictingStore wraps a real store and loses the save race a fixed
// number of times before letting writes through.
type conflictingStore struct {
	store.EventStore
	remaining int
	saves     int
}

func (c *conflictingStore) SaveEvents(ctx context.Context, items []event.StoreItem) error {
	c.saves++
	if c.remaining > 0 {
		c.remaining--
		return errors.NewConflictError(items[0].EntityID, items[0].Version)
	}
	return c.EventStore.SaveEvents(ctx, items)
}

func TestAddEvents_RetriesThroughConflicts(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	flaky := &conflictingStore{EventStore: st, remaining: 2}
	h := New(flaky, registry.Validators())

	accepted, rejected, err := h.AddEvents(context.Background(), event.PinnedRecipesID, []event.Event{
		pinEvent(t, uuid.NewString()),
	})
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, accepted, 1)
	assert.Equal(t, 3, flaky.saves)
}

func TestAddEvents_ContentionAfterRetryBudget(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	flaky := &conflictingStore{EventStore: st, remaining: maxAttempts}
	h := New(flaky, registry.Validators())

	accepted, _, err := h.AddEvents(context.Background(), event.PinnedRecipesID, []event.Event{
		pinEvent(t, uuid.NewString()),
	})
	require.Error(t, err)
	assert.Empty(t, accepted)
	assert.Equal(t, errors.CodeContention, errors.GetCode(err))
	assert.Equal(t, maxAttempts, flaky.saves)
}

func TestAddEvents_ConcurrentWritersGetDistinctVersions(t *testing.T) {
	h, st := newTestHub(t)
	ctx := context.Background()

	// Two writers race on a brand-new entity with one event each. Both
	// must win eventually: the loser of the save race retries against the
	// fresh history and takes the next version.
	type result struct {
		accepted []event.Event
		rejected []Rejection
		err      error
	}
	results := make([]result, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		ev := pinEvent(t, uuid.NewString())
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepted, rejected, err := h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{ev})
			results[i] = result{accepted: accepted, rejected: rejected, err: err}
		}(i)
	}
	wg.Wait()

	versions := make(map[int]bool)
	for _, r := range results {
		require.NoError(t, r.err)
		assert.Empty(t, r.rejected)
		require.Len(t, r.accepted, 1)
		versions[r.accepted[0].Version] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, versions)

	items, err := st.EventsForEntity(ctx, event.PinnedRecipesID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSyncEvents_CursorAdvancesToMaxTimestamp(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	a := pinEvent(t, uuid.NewString())
	a.Timestamp = event.At(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	b := pinEvent(t, uuid.NewString())
	b.Timestamp = event.At(time.Date(2026, 4, 1, 9, 1, 0, 0, time.UTC))

	_, rejected, err := h.AddEvents(ctx, event.PinnedRecipesID, []event.Event{a, b})
	require.NoError(t, err)
	require.Empty(t, rejected)

	events, cursor, err := h.SyncEvents(ctx, event.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, cursor.Equal(b.Timestamp.Time))

	// Syncing from the advanced cursor yields nothing and keeps the cursor.
	events, next, err := h.SyncEvents(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.True(t, next.Equal(cursor.Time))
}

func TestBroadcaster_PublishesAcceptedBatches(t *testing.T) {
	h, _ := newTestHub(t)

	sub := h.Broadcaster().SubscribeAutoID(event.EntityPinnedRecipes)
	defer h.Broadcaster().Unsubscribe(sub.ID)

	ev := pinEvent(t, uuid.NewString())
	_, _, err := h.AddEvents(context.Background(), event.PinnedRecipesID, []event.Event{ev})
	require.NoError(t, err)

	select {
	case batch := <-sub.Ch:
		require.Len(t, batch, 1)
		assert.Equal(t, ev.ID, batch[0].ID)
		assert.Equal(t, 1, batch[0].Version)
	case <-time.After(time.Second):
		t.Fatal("expected a published batch")
	}
}

func TestBroadcaster_UnsubscribeDuringPublishIsSafe(t *testing.T) {
	b := NewBroadcaster(1)
	batch := []event.Event{{ID: uuid.NewString(), Version: 1}}

	// Sessions unsubscribe on every disconnect, concurrently with hub
	// publishes. A close racing a send must neither panic nor deadlock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			b.Publish(batch, event.EntityPinnedRecipes)
		}
	}()

	for i := 0; i < 2000; i++ {
		sub := b.SubscribeAutoID()
		b.Unsubscribe(sub.ID)
	}
	<-done

	// Unsubscribing twice is a no-op.
	sub := b.SubscribeAutoID()
	b.Unsubscribe(sub.ID)
	b.Unsubscribe(sub.ID)
}
