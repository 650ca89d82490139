package shoppinglist

import (
	"fmt"

	"github.com/larder/larder/internal/entity"
	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// Validator implements entity.Validator for the shopping list.
type Validator struct{}

func (Validator) EntityType() event.EntityType { return event.EntityShoppingList }

func (Validator) Matches(eventType string) bool { return IsShoppingListEvent(eventType) }

func (Validator) NewState() entity.State {
	return &validationState{
		itemIDs:    make(map[string]struct{}),
		checkedIDs: make(map[string]struct{}),
	}
}

// validationState tracks which item ids exist and which of them are
// currently checked.
type validationState struct {
	itemIDs    map[string]struct{}
	checkedIDs map[string]struct{}
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
	case ItemsAdded:
		for _, item := range p.Items {
			if _, ok := s.itemIDs[item.ID]; ok {
				return illegal("shopping list already has item %s", item.ID)
			}
			s.itemIDs[item.ID] = struct{}{}
		}
		if p.Index != nil && *p.Index > len(s.itemIDs) {
			return illegal("invalid item index %d", *p.Index)
		}
	case ItemUpdated:
		if _, ok := s.itemIDs[p.Item.ID]; !ok {
			return illegal("shopping list doesn't have item %s", p.Item.ID)
		}
	case ItemsRemoved:
		for _, id := range p.ItemIDs {
			if _, ok := s.itemIDs[id]; !ok {
				return illegal("shopping list doesn't have item %s", id)
			}
			delete(s.itemIDs, id)
			delete(s.checkedIDs, id)
		}
	case ItemsChecked:
		for _, id := range p.ItemIDs {
			if _, ok := s.itemIDs[id]; !ok {
				return illegal("shopping list doesn't have item %s", id)
			}
			if _, ok := s.checkedIDs[id]; ok {
				return illegal("shopping list item %s is already checked", id)
			}
			s.checkedIDs[id] = struct{}{}
		}
	case ItemsUnchecked:
		for _, id := range p.ItemIDs {
			if _, ok := s.itemIDs[id]; !ok {
				return illegal("shopping list doesn't have item %s", id)
			}
			if _, ok := s.checkedIDs[id]; !ok {
				return illegal("shopping list item %s isn't checked", id)
			}
			delete(s.checkedIDs, id)
		}
	case ItemMoved:
		if _, ok := s.itemIDs[p.ItemID]; !ok {
			return illegal("shopping list doesn't have item %s", p.ItemID)
		}
		if p.Index > len(s.itemIDs) {
			return illegal("invalid item index %d", p.Index)
		}
	}

	return nil
}
