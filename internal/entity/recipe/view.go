package recipe

import (
	"sort"

	"github.com/larder/larder/pkg/event"
)

// Recipe is the materialized view consumers read. It is always derivable
// from the event log alone.
type Recipe struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Version        int           `json:"version"`
	Ingredients    []Ingredient  `json:"ingredients"`
	Instructions   []Instruction `json:"instructions"`
	ImageID        string        `json:"imageId,omitempty"`
	CreatedOn      event.Time    `json:"createdOn"`
	UpdatedOn      event.Time    `json:"updatedOn"`
	CookTime       *int          `json:"cookTime,omitempty"`
	PrepTime       *int          `json:"prepTime,omitempty"`
	CompletedCount int           `json:"completedCount"`
	CompletedOn    event.Time    `json:"completedOn,omitempty"`
	Source         string        `json:"source,omitempty"`
	Tags           []Tag         `json:"tags"`
	Deleted        bool          `json:"deleted"`
}

// NewRecipe returns the empty view.
func NewRecipe() *Recipe {
	return &Recipe{
		Ingredients:  []Ingredient{},
		Instructions: []Instruction{},
		Tags:         []Tag{},
	}
}

// Reduce applies one event to the view in place. Events are assumed to have
// passed validation; the only error path is a payload that fails to decode.
// Incremental application assumes each event is applied exactly once.
func Reduce(view *Recipe, ev event.Event) error {
	payload, err := DecodePayload(ev.Type, ev.Data)
	if err != nil {
		return err
	}

	view.Version++
	view.UpdatedOn = ev.Timestamp

	switch p := payload.(type) {
	case Created:
		view.ID = ev.EntityID
		view.CreatedOn = ev.Timestamp
	case Imported:
		view.ID = ev.EntityID
		view.CreatedOn = ev.Timestamp
		view.Name = p.Name
		view.Ingredients = p.Ingredients
		view.Instructions = p.Instructions
		view.CookTime = p.CookTime
		view.PrepTime = p.PrepTime
		view.ImageID = p.ImageID
		view.Source = p.Source
		if p.Tags != nil {
			view.Tags = p.Tags
		}
	case ImageSet:
		view.ImageID = p.ImageID
	case NameSet:
		view.Name = p.Name
	case IngredientItemAdded:
		index := len(view.Ingredients)
		if p.Index != nil {
			index = *p.Index
		}
		item := Ingredient{ID: p.ItemID, Type: p.ItemType}
		view.Ingredients = insertIngredient(view.Ingredients, index, item)
	case IngredientItemMoved:
		previous := indexOfIngredient(view.Ingredients, p.ItemID)
		if previous < 0 {
			break
		}
		item := view.Ingredients[previous]
		view.Ingredients = append(view.Ingredients[:previous], view.Ingredients[previous+1:]...)
		view.Ingredients = insertIngredient(view.Ingredients, p.Index, item)
	case IngredientItemRemoved:
		filtered := view.Ingredients[:0]
		for _, ing := range view.Ingredients {
			if ing.ID != p.ItemID {
				filtered = append(filtered, ing)
			}
		}
		view.Ingredients = filtered
	case IngredientUpdated:
		if i := indexOfIngredient(view.Ingredients, p.ItemID); i >= 0 {
			view.Ingredients[i].Name = p.Name
			view.Ingredients[i].Amount = p.Amount
			view.Ingredients[i].Measurement = p.Measurement
		}
	case IngredientHeadingUpdated:
		if i := indexOfIngredient(view.Ingredients, p.ItemID); i >= 0 {
			view.Ingredients[i].Name = p.Name
		}
	case InstructionsSet:
		view.Instructions = p.Instructions
	case CookTimeSet:
		view.CookTime = p.Time
	case PrepTimeSet:
		view.PrepTime = p.Time
	case Completed:
		view.CompletedCount++
		view.CompletedOn = ev.Timestamp
	case TagAdded:
		for _, tag := range view.Tags {
			if tag == p.Tag {
				return nil
			}
		}
		view.Tags = append(view.Tags, p.Tag)
		sort.Slice(view.Tags, func(i, j int) bool { return view.Tags[i] < view.Tags[j] })
	case TagRemoved:
		filtered := view.Tags[:0]
		for _, tag := range view.Tags {
			if tag != p.Tag {
				filtered = append(filtered, tag)
			}
		}
		view.Tags = filtered
	case Deleted:
		view.Deleted = true
	case Restored:
		view.Deleted = false
	}

	return nil
}

// Build rebuilds the view wholesale from a full event list: sort by the
// canonical order, then fold from the initial state.
func Build(events []event.Event) (*Recipe, error) {
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	event.SortCanonical(ordered)

	view := NewRecipe()
	for _, ev := range ordered {
		if err := Reduce(view, ev); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func insertIngredient(list []Ingredient, index int, item Ingredient) []Ingredient {
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	list = append(list, Ingredient{})
	copy(list[index+1:], list[index:])
	list[index] = item
	return list
}

func indexOfIngredient(list []Ingredient, id string) int {
	for i, ing := range list {
		if ing.ID == id {
			return i
		}
	}
	return -1
}
