// Package shoppinglist implements the shopping list entity kind. The list
// is a singleton aggregate addressed by event.ShoppingListID, but nothing
// here depends on that; it is an ordinary entity.
package shoppinglist

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/larder/larder/internal/errors"
)

// Shopping list event types.
const (
	TypeItemsAdded     = "ShoppingListItemsAdded"
	TypeItemUpdated    = "ShoppingListItemUpdated"
	TypeItemsRemoved   = "ShoppingListItemsRemoved"
	TypeItemsChecked   = "ShoppingListItemsChecked"
	TypeItemsUnchecked = "ShoppingListItemsUnchecked"
	TypeItemMoved      = "ShoppingListItemMoved"
)

// IsShoppingListEvent reports whether the event type belongs to the
// shopping list kind.
func IsShoppingListEvent(eventType string) bool {
	switch eventType {
	case TypeItemsAdded, TypeItemUpdated, TypeItemsRemoved,
		TypeItemsChecked, TypeItemsUnchecked, TypeItemMoved:
		return true
	}
	return false
}

// Item is one shopping list entry.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Payload is the closed sum of shopping list event payloads.
type Payload interface {
	payload()
}

// ItemsAdded inserts items. An absent index appends.
type ItemsAdded struct {
	Items []Item `json:"items"`
	Index *int   `json:"index,omitempty"`
}

// ItemUpdated renames one item.
type ItemUpdated struct {
	Item Item `json:"item"`
}

// ItemsRemoved deletes items.
type ItemsRemoved struct {
	ItemIDs []string `json:"itemIds"`
}

// ItemsChecked moves items to the checked list.
type ItemsChecked struct {
	ItemIDs []string `json:"itemIds"`
}

// ItemsUnchecked moves items back to the open list.
type ItemsUnchecked struct {
	ItemIDs []string `json:"itemIds"`
}

// ItemMoved reorders one open item.
type ItemMoved struct {
	ItemID string `json:"itemId"`
	Index  int    `json:"index"`
}

func (ItemsAdded) payload()     {}
func (ItemUpdated) payload()    {}
func (ItemsRemoved) payload()   {}
func (ItemsChecked) payload()   {}
func (ItemsUnchecked) payload() {}
func (ItemMoved) payload()      {}

// DecodePayload deserializes and structurally validates one shopping list
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
	case TypeItemsAdded:
		var p ItemsAdded
		if err := decode(&p); err != nil {
			return nil, err
		}
		for _, item := range p.Items {
			if !validUUID(item.ID) {
				return nil, invalid("invalid item id %q", item.ID)
			}
		}
		if p.Index != nil && *p.Index < 0 {
			return nil, invalid("negative index")
		}
		return p, nil
	case TypeItemUpdated:
		var p ItemUpdated
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.Item.ID) {
			return nil, invalid("invalid item id %q", p.Item.ID)
		}
		return p, nil
	case TypeItemsRemoved:
		var p ItemsRemoved
		if err := decode(&p); err != nil {
			return nil, err
		}
		if err := validateItemIDs(p.ItemIDs); err != nil {
			return nil, invalid("%v", err)
		}
		return p, nil
	case TypeItemsChecked:
		var p ItemsChecked
		if err := decode(&p); err != nil {
			return nil, err
		}
		if err := validateItemIDs(p.ItemIDs); err != nil {
			return nil, invalid("%v", err)
		}
		return p, nil
	case TypeItemsUnchecked:
		var p ItemsUnchecked
		if err := decode(&p); err != nil {
			return nil, err
		}
		if err := validateItemIDs(p.ItemIDs); err != nil {
			return nil, invalid("%v", err)
		}
		return p, nil
	case TypeItemMoved:
		var p ItemMoved
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.ItemID) {
			return nil, invalid("invalid item id %q", p.ItemID)
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

func validateItemIDs(ids []string) error {
	for _, id := range ids {
		if !validUUID(id) {
			return fmt.Errorf("invalid item id %q", id)
		}
	}
	return nil
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
