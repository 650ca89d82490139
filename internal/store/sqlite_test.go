package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedEvent(entityID string, version int, at time.Time) event.StoreItem {
	ev, err := event.New(entityID, "TestEvent", nil)
	if err != nil {
		panic(err)
	}
	ev.Timestamp = event.At(at)
	ev.Version = version
	item, err := event.ToStoreItem(ev, event.EntityRecipe)
	if err != nil {
		panic(err)
	}
	return item
}

func TestSQLiteStore_SaveAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []event.StoreItem{
		storedEvent("entity-a", 1, base),
		storedEvent("entity-a", 2, base.Add(time.Second)),
	}
	require.NoError(t, s.SaveEvents(ctx, items))

	got, err := s.EventsForEntity(ctx, "entity-a")
	require.NoError(t, err)
	require.Len(t, got, 2)

	event.SortByVersion(got)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, 2, got[1].Version)
	assert.Equal(t, items[0].ID, got[0].ID)
	assert.Equal(t, event.EntityRecipe, got[0].EntityType)
	assert.True(t, got[0].Timestamp.Equal(base))
}

func TestSQLiteStore_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.SaveEvents(ctx, []event.StoreItem{storedEvent("entity-a", 1, base)}))

	err := s.SaveEvents(ctx, []event.StoreItem{storedEvent("entity-a", 1, base.Add(time.Second))})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestSQLiteStore_ConflictRollsBackWholeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.SaveEvents(ctx, []event.StoreItem{storedEvent("entity-a", 1, base)}))

	// Version 2 is free but version 1 is taken; nothing may land.
	err := s.SaveEvents(ctx, []event.StoreItem{
		storedEvent("entity-a", 2, base.Add(time.Second)),
		storedEvent("entity-a", 1, base.Add(2*time.Second)),
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	got, err := s.EventsForEntity(ctx, "entity-a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_SameVersionDifferentEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.SaveEvents(ctx, []event.StoreItem{storedEvent("entity-a", 1, base)}))
	require.NoError(t, s.SaveEvents(ctx, []event.StoreItem{storedEvent("entity-b", 1, base)}))
}

func TestSQLiteStore_CursorIsStrict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveEvents(ctx, []event.StoreItem{
		storedEvent("entity-a", 1, base),
		storedEvent("entity-a", 2, base.Add(time.Minute)),
	}))
	require.NoError(t, s.SaveEvents(ctx, []event.StoreItem{
		storedEvent("entity-b", 1, base.Add(2*time.Minute)),
	}))

	// Zero cursor returns everything.
	all, err := s.Events(ctx, event.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// A cursor equal to an event's timestamp excludes that event.
	after, err := s.Events(ctx, event.At(base.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "entity-b", after[0].EntityID)

	// A cursor past the newest event returns nothing.
	none, err := s.Events(ctx, event.At(base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_EmptyBatchIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveEvents(context.Background(), nil))
}
