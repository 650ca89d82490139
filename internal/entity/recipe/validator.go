package recipe

import (
	"fmt"

	"github.com/larder/larder/internal/entity"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// Validator implements entity.Validator for recipes.
type Validator struct{}

func (Validator) EntityType() event.EntityType { return event.EntityRecipe }

func (Validator) Matches(eventType string) bool { return IsRecipeEvent(eventType) }

func (Validator) NewState() entity.State {
	return &validationState{
		ingredients: make(map[string]ItemType),
		tags:        make(map[Tag]struct{}),
	}
}

// validationState is the minimal summary needed to judge the next event:
// whether the recipe exists, which ingredient ids it holds and of what item
// type, which tags are present, and whether it is soft-deleted.
type validationState struct {
	created     bool
	ingredients map[string]ItemType
	tags        map[Tag]struct{}
	deleted     bool
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
	case Created:
		if s.created {
			return illegal("recipe has already been created")
		}
		s.created = true
		return nil
	case Imported:
		if s.created {
			return illegal("recipe has already been created")
		}
		s.created = true
		for _, ing := range p.Ingredients {
			s.ingredients[ing.ID] = ing.Type
		}
		return nil
	}

	if !s.created {
		return illegal("recipe hasn't been created")
	}

	switch p := payload.(type) {
	case IngredientItemAdded:
		if _, ok := s.ingredients[p.ItemID]; ok {
			return illegal("recipe already has ingredient %s", p.ItemID)
		}
		if p.Index != nil && *p.Index > len(s.ingredients) {
			return illegal("invalid ingredient index %d", *p.Index)
		}
		s.ingredients[p.ItemID] = p.ItemType
	case IngredientItemMoved:
		if _, ok := s.ingredients[p.ItemID]; !ok {
			return illegal("recipe doesn't have ingredient %s", p.ItemID)
		}
		if p.Index > len(s.ingredients) {
			return illegal("invalid ingredient index %d", p.Index)
		}
	case IngredientItemRemoved:
		if _, ok := s.ingredients[p.ItemID]; !ok {
			return illegal("recipe doesn't have ingredient %s", p.ItemID)
		}
		delete(s.ingredients, p.ItemID)
	case IngredientUpdated:
		itemType, ok := s.ingredients[p.ItemID]
		if !ok {
			return illegal("recipe doesn't have ingredient %s", p.ItemID)
		}
		if itemType != ItemIngredient {
			return illegal("recipe item %s is a heading, not an ingredient", p.ItemID)
		}
	case IngredientHeadingUpdated:
		itemType, ok := s.ingredients[p.ItemID]
		if !ok {
			return illegal("recipe doesn't have ingredient %s", p.ItemID)
		}
		if itemType != ItemHeading {
			return illegal("recipe item %s is an ingredient, not a heading", p.ItemID)
		}
	case TagAdded:
		if _, ok := s.tags[p.Tag]; ok {
			return illegal("recipe already has tag %s", p.Tag)
		}
		s.tags[p.Tag] = struct{}{}
	case TagRemoved:
		if _, ok := s.tags[p.Tag]; !ok {
			return illegal("recipe doesn't have tag %s", p.Tag)
		}
		delete(s.tags, p.Tag)
	case Deleted:
		if s.deleted {
			return illegal("recipe has already been deleted")
		}
		s.deleted = true
	case Restored:
		if !s.deleted {
			return illegal("recipe has not been deleted")
		}
		s.deleted = false
	case NameSet, ImageSet, InstructionsSet, CookTimeSet, PrepTimeSet, Completed:
		// Always legal on a created recipe.
	}

	return nil
}
