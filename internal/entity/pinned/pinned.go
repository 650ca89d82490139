// Package pinned implements the pinned-recipes entity kind: an ordered set
// of recipe ids, kept as a singleton aggregate addressed by
// event.PinnedRecipesID.
package pinned

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/larder/larder/internal/entity"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// Pinned recipes event types.
const (
	TypeRecipePinned   = "RecipePinned"
	TypeRecipeUnpinned = "RecipeUnpinned"
	TypeRecipeMoved    = "PinnedRecipeMoved"
)

// IsPinnedRecipesEvent reports whether the event type belongs to the
// pinned-recipes kind.
func IsPinnedRecipesEvent(eventType string) bool {
	switch eventType {
	case TypeRecipePinned, TypeRecipeUnpinned, TypeRecipeMoved:
		return true
	}
	return false
}

// Payload is the closed sum of pinned-recipes event payloads.
type Payload interface {
	payload()
}

// RecipePinned appends a recipe to the pin list.
type RecipePinned struct {
	RecipeID string `json:"recipeId"`
}

// RecipeUnpinned removes a recipe from the pin list.
type RecipeUnpinned struct {
	RecipeID string `json:"recipeId"`
}

// RecipeMoved reorders a pinned recipe.
type RecipeMoved struct {
	RecipeID string `json:"recipeId"`
	Index    int    `json:"index"`
}

func (RecipePinned) payload()   {}
func (RecipeUnpinned) payload() {}
func (RecipeMoved) payload()    {}

// DecodePayload deserializes and structurally validates one pinned-recipes
// event payload.
func DecodePayload(eventType string, data []byte) (Payload, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}

	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidPayload, "invalid event", err)
		}
		return nil
	}

	invalid := func(format string, args ...any) error {
		return errors.NewValidationError(errors.CodeInvalidPayload,
			fmt.Sprintf("invalid event: %s", fmt.Sprintf(format, args...)))
	}

	switch eventType {
	case TypeRecipePinned:
		var p RecipePinned
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.RecipeID) {
			return nil, invalid("invalid recipe id %q", p.RecipeID)
		}
		return p, nil
	case TypeRecipeUnpinned:
		var p RecipeUnpinned
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.RecipeID) {
			return nil, invalid("invalid recipe id %q", p.RecipeID)
		}
		return p, nil
	case TypeRecipeMoved:
		var p RecipeMoved
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.RecipeID) {
			return nil, invalid("invalid recipe id %q", p.RecipeID)
		}
		if p.Index < 0 {
			return nil, invalid("negative index")
		}
		return p, nil
	default:
		return nil, errors.NewValidationError(errors.CodeUnknownEventType,
			fmt.Sprintf("unknown event: %s", eventType))
	}
}

// Validator implements entity.Validator for pinned recipes.
type Validator struct{}

func (Validator) EntityType() event.EntityType { return event.EntityPinnedRecipes }

func (Validator) Matches(eventType string) bool { return IsPinnedRecipesEvent(eventType) }

func (Validator) NewState() entity.State {
	return &validationState{pinned: make(map[string]struct{})}
}

type validationState struct {
	pinned map[string]struct{}
}

func illegal(format string, args ...any) error {
	return errors.NewValidationError(errors.CodeIllegalEvent, fmt.Sprintf(format, args...))
}

func (s *validationState) Apply(ev event.Event) error {
	payload, err := DecodePayload(ev.Type, ev.Data)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case RecipePinned:
		if _, ok := s.pinned[p.RecipeID]; ok {
			return illegal("recipe %s is already pinned", p.RecipeID)
		}
		s.pinned[p.RecipeID] = struct{}{}
	case RecipeUnpinned:
		if _, ok := s.pinned[p.RecipeID]; !ok {
			return illegal("recipe %s is not pinned", p.RecipeID)
		}
		delete(s.pinned, p.RecipeID)
	case RecipeMoved:
		if _, ok := s.pinned[p.RecipeID]; !ok {
			return illegal("recipe %s is not pinned", p.RecipeID)
		}
		if p.Index > len(s.pinned) {
			return illegal("invalid item index %d", p.Index)
		}
	}

	return nil
}

// PinnedRecipes is the materialized view: recipe ids in pin order.
type PinnedRecipes []string

// Reduce applies one event to the view, returning the updated view.
func Reduce(view PinnedRecipes, ev event.Event) (PinnedRecipes, error) {
	payload, err := DecodePayload(ev.Type, ev.Data)
	if err != nil {
		return view, err
	}

	switch p := payload.(type) {
	case RecipePinned:
		view = append(view, p.RecipeID)
	case RecipeUnpinned:
		kept := view[:0]
		for _, id := range view {
			if id != p.RecipeID {
				kept = append(kept, id)
			}
		}
		view = kept
	case RecipeMoved:
		previous := -1
		for i, id := range view {
			if id == p.RecipeID {
				previous = i
				break
			}
		}
		if previous < 0 {
			break
		}
		view = append(view[:previous], view[previous+1:]...)
		index := p.Index
		if index > len(view) {
			index = len(view)
		}
		view = append(view, "")
		copy(view[index+1:], view[index:])
		view[index] = p.RecipeID
	}

	return view, nil
}

// Build rebuilds the view wholesale from a full event list.
func Build(events []event.Event) (PinnedRecipes, error) {
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	event.SortCanonical(ordered)

	view := PinnedRecipes{}
	for _, ev := range ordered {
		var err error
		view, err = Reduce(view, ev)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
