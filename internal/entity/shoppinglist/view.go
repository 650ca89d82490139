package shoppinglist

import "github.com/larder/larder/pkg/event"

// ShoppingList is the materialized view: open items in order, then checked
// items in the order they were checked.
type ShoppingList struct {
	Items   []Item `json:"items"`
	Checked []Item `json:"checked"`
}

// NewShoppingList returns the empty view.
func NewShoppingList() *ShoppingList {
	return &ShoppingList{
		Items:   []Item{},
		Checked: []Item{},
	}
}

// Reduce applies one event to the view in place.
func Reduce(view *ShoppingList, ev event.Event) error {
	payload, err := DecodePayload(ev.Type, ev.Data)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case ItemsAdded:
		index := len(view.Items)
		if p.Index != nil {
			index = *p.Index
		}
		view.Items = insertItems(view.Items, index, p.Items)
	case ItemUpdated:
		for i := range view.Items {
			if view.Items[i].ID == p.Item.ID {
				view.Items[i].Name = p.Item.Name
			}
		}
		for i := range view.Checked {
			if view.Checked[i].ID == p.Item.ID {
				view.Checked[i].Name = p.Item.Name
			}
		}
	case ItemsRemoved:
		view.Items = removeItems(view.Items, p.ItemIDs)
		view.Checked = removeItems(view.Checked, p.ItemIDs)
	case ItemsChecked:
		kept := view.Items[:0]
		for _, item := range view.Items {
			if containsID(p.ItemIDs, item.ID) {
				view.Checked = append(view.Checked, item)
			} else {
				kept = append(kept, item)
			}
		}
		view.Items = kept
	case ItemsUnchecked:
		kept := view.Checked[:0]
		for _, item := range view.Checked {
			if containsID(p.ItemIDs, item.ID) {
				view.Items = append(view.Items, item)
			} else {
				kept = append(kept, item)
			}
		}
		view.Checked = kept
	case ItemMoved:
		previous := -1
		for i, item := range view.Items {
			if item.ID == p.ItemID {
				previous = i
				break
			}
		}
		if previous < 0 {
			break
		}
		item := view.Items[previous]
		view.Items = append(view.Items[:previous], view.Items[previous+1:]...)
		view.Items = insertItems(view.Items, p.Index, []Item{item})
	}

	return nil
}

// Build rebuilds the view wholesale from a full event list.
func Build(events []event.Event) (*ShoppingList, error) {
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	event.SortCanonical(ordered)

	view := NewShoppingList()
	for _, ev := range ordered {
		if err := Reduce(view, ev); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func insertItems(list []Item, index int, items []Item) []Item {
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	out := make([]Item, 0, len(list)+len(items))
	out = append(out, list[:index]...)
	out = append(out, items...)
	out = append(out, list[index:]...)
	return out
}

func removeItems(list []Item, ids []string) []Item {
	kept := list[:0]
	for _, item := range list {
		if !containsID(ids, item.ID) {
			kept = append(kept, item)
		}
	}
	return kept
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
