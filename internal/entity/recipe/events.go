package recipe

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/larder/larder/internal/errors"
)

// Recipe event types.
const (
	TypeCreated                  = "RecipeCreated"
	TypeImported                 = "RecipeImported"
	TypeNameSet                  = "RecipeNameSet"
	TypeImageSet                 = "RecipeImageSet"
	TypeIngredientItemAdded      = "RecipeIngredientItemAdded"
	TypeIngredientItemMoved      = "RecipeIngredientItemMoved"
	TypeIngredientItemRemoved    = "RecipeIngredientItemRemoved"
	TypeIngredientUpdated        = "RecipeIngredientUpdated"
	TypeIngredientHeadingUpdated = "RecipeIngredientHeadingUpdated"
	TypeInstructionsSet          = "RecipeInstructionsSet"
	TypeCookTimeSet              = "RecipeCookTimeSet"
	TypePrepTimeSet              = "RecipePrepTimeSet"
	TypeCompleted                = "RecipeCompleted"
	TypeTagAdded                 = "RecipeTagAdded"
	TypeTagRemoved               = "RecipeTagRemoved"
	TypeDeleted                  = "RecipeDeleted"
	TypeRestored                 = "RecipeRestored"
)

// IsRecipeEvent reports whether the event type belongs to the recipe kind.
func IsRecipeEvent(eventType string) bool {
	switch eventType {
	case TypeCreated, TypeImported, TypeNameSet, TypeImageSet,
		TypeIngredientItemAdded, TypeIngredientItemMoved, TypeIngredientItemRemoved,
		TypeIngredientUpdated, TypeIngredientHeadingUpdated, TypeInstructionsSet,
		TypeCookTimeSet, TypePrepTimeSet, TypeCompleted,
		TypeTagAdded, TypeTagRemoved, TypeDeleted, TypeRestored:
		return true
	}
	return false
}

// Payload is the closed sum of recipe event payloads.
type Payload interface {
	payload()
}

// Created starts an empty recipe.
type Created struct{}

// Imported starts a recipe from a scraped source document.
type Imported struct {
	Name         string        `json:"name"`
	Ingredients  []Ingredient  `json:"ingredients"`
	Instructions []Instruction `json:"instructions"`
	CookTime     *int          `json:"cookTime,omitempty"`
	PrepTime     *int          `json:"prepTime,omitempty"`
	ImageID      string        `json:"imageId,omitempty"`
	Source       string        `json:"source"`
	Tags         []Tag         `json:"tags,omitempty"`
}

// NameSet renames the recipe.
type NameSet struct {
	Name string `json:"name"`
}

// ImageSet replaces the recipe image.
type ImageSet struct {
	ImageID string `json:"imageId"`
}

// IngredientItemAdded inserts an empty ingredient or heading. An absent
// index appends.
type IngredientItemAdded struct {
	ItemID   string   `json:"itemId"`
	ItemType ItemType `json:"itemType"`
	Index    *int     `json:"index,omitempty"`
}

// IngredientItemMoved reorders one ingredient list entry.
type IngredientItemMoved struct {
	ItemID string `json:"itemId"`
	Index  int    `json:"index"`
}

// IngredientItemRemoved deletes one ingredient list entry.
type IngredientItemRemoved struct {
	ItemID string `json:"itemId"`
}

// IngredientUpdated replaces an ingredient's fields.
type IngredientUpdated struct {
	ItemID      string      `json:"itemId"`
	Name        string      `json:"name,omitempty"`
	Amount      string      `json:"amount,omitempty"`
	Measurement Measurement `json:"measurement,omitempty"`
}

// IngredientHeadingUpdated renames a heading.
type IngredientHeadingUpdated struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
}

// InstructionsSet replaces the whole instruction list.
type InstructionsSet struct {
	Instructions []Instruction `json:"instructions"`
}

// CookTimeSet sets or clears the cook time in minutes.
type CookTimeSet struct {
	Time *int `json:"time,omitempty"`
}

// PrepTimeSet sets or clears the prep time in minutes.
type PrepTimeSet struct {
	Time *int `json:"time,omitempty"`
}

// Completed records that the recipe was cooked.
type Completed struct{}

// TagAdded adds a tag.
type TagAdded struct {
	Tag Tag `json:"tag"`
}

// TagRemoved removes a tag.
type TagRemoved struct {
	Tag Tag `json:"tag"`
}

// Deleted soft-deletes the recipe.
type Deleted struct{}

// Restored undoes a soft delete.
type Restored struct{}

func (Created) payload()                  {}
func (Imported) payload()                 {}
func (NameSet) payload()                  {}
func (ImageSet) payload()                 {}
func (IngredientItemAdded) payload()      {}
func (IngredientItemMoved) payload()      {}
func (IngredientItemRemoved) payload()    {}
func (IngredientUpdated) payload()        {}
func (IngredientHeadingUpdated) payload() {}
func (InstructionsSet) payload()          {}
func (CookTimeSet) payload()              {}
func (PrepTimeSet) payload()              {}
func (Completed) payload()                {}
func (TagAdded) payload()                 {}
func (TagRemoved) payload()               {}
func (Deleted) payload()                  {}
func (Restored) payload()                 {}

// DecodePayload deserializes and structurally validates one recipe event
// payload. Unknown event types and malformed payloads fail with typed
// validation errors; such failures are terminal for the event.
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
	case TypeCreated:
		return Created{}, nil
	case TypeImported:
		var p Imported
		if err := decode(&p); err != nil {
			return nil, err
		}
		if p.Source == "" {
			return nil, invalid("missing source")
		}
		if err := validateIngredients(p.Ingredients); err != nil {
			return nil, invalid("%v", err)
		}
		if err := validateInstructions(p.Instructions); err != nil {
			return nil, invalid("%v", err)
		}
		if p.CookTime != nil && *p.CookTime < 0 {
			return nil, invalid("negative cook time")
		}
		if p.PrepTime != nil && *p.PrepTime < 0 {
			return nil, invalid("negative prep time")
		}
		if p.ImageID != "" && !validUUID(p.ImageID) {
			return nil, invalid("invalid image id %q", p.ImageID)
		}
		for _, tag := range p.Tags {
			if !tag.Valid() {
				return nil, invalid("unknown tag %q", tag)
			}
		}
		return p, nil
	case TypeNameSet:
		var p NameSet
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeImageSet:
		var p ImageSet
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.ImageID) {
			return nil, invalid("invalid image id %q", p.ImageID)
		}
		return p, nil
	case TypeIngredientItemAdded:
		var p IngredientItemAdded
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.ItemID) {
			return nil, invalid("invalid item id %q", p.ItemID)
		}
		if !p.ItemType.Valid() {
			return nil, invalid("unknown item type %q", p.ItemType)
		}
		if p.Index != nil && *p.Index < 0 {
			return nil, invalid("negative index")
		}
		return p, nil
	case TypeIngredientItemMoved:
		var p IngredientItemMoved
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
	case TypeIngredientItemRemoved:
		var p IngredientItemRemoved
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.ItemID) {
			return nil, invalid("invalid item id %q", p.ItemID)
		}
		return p, nil
	case TypeIngredientUpdated:
		var p IngredientUpdated
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.ItemID) {
			return nil, invalid("invalid item id %q", p.ItemID)
		}
		if !p.Measurement.Valid() {
			return nil, invalid("unknown measurement %q", p.Measurement)
		}
		return p, nil
	case TypeIngredientHeadingUpdated:
		var p IngredientHeadingUpdated
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !validUUID(p.ItemID) {
			return nil, invalid("invalid item id %q", p.ItemID)
		}
		return p, nil
	case TypeInstructionsSet:
		var p InstructionsSet
		if err := decode(&p); err != nil {
			return nil, err
		}
		if err := validateInstructions(p.Instructions); err != nil {
			return nil, invalid("%v", err)
		}
		return p, nil
	case TypeCookTimeSet:
		var p CookTimeSet
		if err := decode(&p); err != nil {
			return nil, err
		}
		if p.Time != nil && *p.Time < 0 {
			return nil, invalid("negative time")
		}
		return p, nil
	case TypePrepTimeSet:
		var p PrepTimeSet
		if err := decode(&p); err != nil {
			return nil, err
		}
		if p.Time != nil && *p.Time < 0 {
			return nil, invalid("negative time")
		}
		return p, nil
	case TypeCompleted:
		return Completed{}, nil
	case TypeTagAdded:
		var p TagAdded
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !p.Tag.Valid() {
			return nil, invalid("unknown tag %q", p.Tag)
		}
		return p, nil
	case TypeTagRemoved:
		var p TagRemoved
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !p.Tag.Valid() {
			return nil, invalid("unknown tag %q", p.Tag)
		}
		return p, nil
	case TypeDeleted:
		return Deleted{}, nil
	case TypeRestored:
		return Restored{}, nil
	default:
		return nil, errors.NewValidationError(errors.CodeUnknownEventType,
			fmt.Sprintf("unknown event: %s", eventType))
	}
}

func validateIngredients(ingredients []Ingredient) error {
	for _, ing := range ingredients {
		if !validUUID(ing.ID) {
			return fmt.Errorf("invalid ingredient id %q", ing.ID)
		}
		if !ing.Type.Valid() {
			return fmt.Errorf("unknown ingredient item type %q", ing.Type)
		}
		if !ing.Measurement.Valid() {
			return fmt.Errorf("unknown measurement %q", ing.Measurement)
		}
	}
	return nil
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
