// Package registry assembles the full set of entity validators. It exists
// apart from package entity so the kind packages can implement the
// entity.Validator interface without an import cycle.
package registry

import (
	"github.com/larder/larder/internal/entity"
	"github.com/larder/larder/internal/entity/pinned"
	"github.com/larder/larder/internal/entity/recipe"
	"github.com/larder/larder/internal/entity/shoppinglist"
	"github.com/larder/larder/pkg/event"
)

// Validators returns one validator per entity kind.
func Validators() []entity.Validator {
	return []entity.Validator{
		pinned.Validator{},
		shoppinglist.Validator{},
		recipe.Validator{},
	}
}

// EntityTypeOf resolves which entity kind owns an event type.
func EntityTypeOf(eventType string) (event.EntityType, bool) {
	for _, v := range Validators() {
		if v.Matches(eventType) {
			return v.EntityType(), true
		}
	}
	return "", false
}
