package client

import (
	"context"
	"encoding/json"

	"github.com/larder/larder/internal/entity/pinned"
	"github.com/larder/larder/internal/entity/recipe"
	"github.com/larder/larder/internal/entity/registry"
	"github.com/larder/larder/internal/entity/shoppinglist"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// Materializer rebuilds an entity's view from its full event history and
// stores the result in the cache. Wired as the sync engine's OnUpdate
// handler it keeps every cached view current with the log.
type Materializer struct {
	cache *Cache
}

// NewMaterializer creates a materializer over the cache.
func NewMaterializer(cache *Cache) *Materializer {
	return &Materializer{cache: cache}
}

// Rebuild folds the events into the owning kind's view and persists it.
func (m *Materializer) Rebuild(ctx context.Context, entityID string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	entityType, ok := registry.EntityTypeOf(events[0].Type)
	if !ok {
		return errors.NewSyncError(errors.CodeLocalCache,
			"cannot build view for unknown event type "+events[0].Type, nil)
	}

	var (
		view any
		err  error
	)
	switch entityType {
	case event.EntityRecipe:
		view, err = recipe.Build(events)
	case event.EntityShoppingList:
		view, err = shoppinglist.Build(events)
	case event.EntityPinnedRecipes:
		view, err = pinned.Build(events)
	}
	if err != nil {
		return errors.NewSyncError(errors.CodeLocalCache, "failed to build view", err)
	}

	body, err := json.Marshal(view)
	if err != nil {
		return errors.NewSyncError(errors.CodeSerialization, "failed to serialize view", err)
	}
	return m.cache.PutView(ctx, entityID, entityType, body)
}

// Recipe loads a cached recipe view, nil if none is cached.
func (m *Materializer) Recipe(ctx context.Context, recipeID string) (*recipe.Recipe, error) {
	body, err := m.cache.View(ctx, recipeID)
	if err != nil || body == nil {
		return nil, err
	}
	var view recipe.Recipe
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, errors.NewSyncError(errors.CodeSerialization, "corrupt recipe view", err)
	}
	return &view, nil
}

// ShoppingList loads the cached shopping list view, nil if none is
// cached.
func (m *Materializer) ShoppingList(ctx context.Context) (*shoppinglist.ShoppingList, error) {
	body, err := m.cache.View(ctx, event.ShoppingListID)
	if err != nil || body == nil {
		return nil, err
	}
	var view shoppinglist.ShoppingList
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, errors.NewSyncError(errors.CodeSerialization, "corrupt shopping list view", err)
	}
	return &view, nil
}

// PinnedRecipes loads the cached pin list, empty if none is cached.
func (m *Materializer) PinnedRecipes(ctx context.Context) (pinned.PinnedRecipes, error) {
	body, err := m.cache.View(ctx, event.PinnedRecipesID)
	if err != nil || body == nil {
		return nil, err
	}
	var view pinned.PinnedRecipes
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, errors.NewSyncError(errors.CodeSerialization, "corrupt pinned recipes view", err)
	}
	return view, nil
}
