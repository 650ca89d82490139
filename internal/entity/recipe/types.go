// Package recipe implements the recipe entity kind: its event types, the
// validation state machine, and the view reducer producing the Recipe
// document consumers read.
package recipe

import "fmt"

// Measurement is the closed set of ingredient measurements.
type Measurement string

const (
	Teaspoon   Measurement = "Teaspoon"
	Tablespoon Measurement = "Tablespoon"
	Cup        Measurement = "Cup"
	Millilitre Measurement = "Millilitre"
	Litre      Measurement = "Litre"
	Gram       Measurement = "Gram"
	Pound      Measurement = "Pound"
	Ounce      Measurement = "Ounce"
)

var measurements = map[Measurement]struct{}{
	Teaspoon: {}, Tablespoon: {}, Cup: {}, Millilitre: {},
	Litre: {}, Gram: {}, Pound: {}, Ounce: {},
}

// Valid reports whether the measurement is a known value. The empty string
// is valid as "no measurement".
func (m Measurement) Valid() bool {
	if m == "" {
		return true
	}
	_, ok := measurements[m]
	return ok
}

// Tag is the closed set of recipe tags.
type Tag string

const (
	TagBaking     Tag = "Baking"
	TagBread      Tag = "Bread"
	TagBreakfast  Tag = "Breakfast"
	TagMain       Tag = "Main"
	TagPasta      Tag = "Pasta"
	TagPudding    Tag = "Pudding"
	TagSalad      Tag = "Salad"
	TagSide       Tag = "Side"
	TagSoup       Tag = "Soup"
	TagVegetarian Tag = "Vegetarian"
)

var tags = map[Tag]struct{}{
	TagBaking: {}, TagBread: {}, TagBreakfast: {}, TagMain: {}, TagPasta: {},
	TagPudding: {}, TagSalad: {}, TagSide: {}, TagSoup: {}, TagVegetarian: {},
}

// Valid reports whether the tag is a known value.
func (t Tag) Valid() bool {
	_, ok := tags[t]
	return ok
}

// ItemType distinguishes the two kinds of entries in the ingredient list.
type ItemType string

const (
	ItemIngredient ItemType = "Ingredient"
	ItemHeading    ItemType = "Heading"
)

// Valid reports whether the item type is a known value.
func (t ItemType) Valid() bool {
	return t == ItemIngredient || t == ItemHeading
}

// Ingredient is one entry in a recipe's ingredient list: either a real
// ingredient or a section heading.
type Ingredient struct {
	Type        ItemType    `json:"type"`
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Amount      string      `json:"amount,omitempty"`
	Measurement Measurement `json:"measurement,omitempty"`
}

// InstructionPart is one run of an instruction line: either styled text or
// an inline reference to an ingredient by id.
type InstructionPart struct {
	Text   *string `json:"text,omitempty"`
	Bold   bool    `json:"bold,omitempty"`
	Italic bool    `json:"italic,omitempty"`
	At     string  `json:"at,omitempty"`
}

// IsContent reports whether the part is a text run rather than an
// ingredient reference.
func (p InstructionPart) IsContent() bool {
	return p.Text != nil
}

// Instruction is one instruction line, a sequence of parts.
type Instruction []InstructionPart

func validateInstructions(instructions []Instruction) error {
	for _, line := range instructions {
		for _, part := range line {
			if part.Text == nil && part.At == "" {
				return fmt.Errorf("instruction part must be text or an ingredient reference")
			}
			if part.Text != nil && part.At != "" {
				return fmt.Errorf("instruction part cannot be both text and an ingredient reference")
			}
			if part.At != "" && !validUUID(part.At) {
				return fmt.Errorf("invalid ingredient reference %q", part.At)
			}
		}
	}
	return nil
}
