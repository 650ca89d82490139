package pinned

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

func pinEvents(t *testing.T, steps ...func() (string, any)) []event.Event {
	t.Helper()
	events := make([]event.Event, 0, len(steps))
	base := time.Date(2026, 2, 3, 7, 0, 0, 0, time.UTC)
	for i, s := range steps {
		eventType, payload := s()
		ev, err := event.New(event.PinnedRecipesID, eventType, payload)
		require.NoError(t, err)
		ev.Version = i + 1
		ev.Timestamp = event.At(base.Add(time.Duration(i) * time.Second))
		events = append(events, ev)
	}
	return events
}

func step(eventType string, payload any) func() (string, any) {
	return func() (string, any) { return eventType, payload }
}

func TestValidator_PinRules(t *testing.T) {
	recipeID := uuid.NewString()

	tests := []struct {
		name    string
		steps   []func() (string, any)
		wantErr string
	}{
		{
			name: "pin unpin repin",
			steps: []func() (string, any){
				step(TypeRecipePinned, RecipePinned{RecipeID: recipeID}),
				step(TypeRecipeUnpinned, RecipeUnpinned{RecipeID: recipeID}),
				step(TypeRecipePinned, RecipePinned{RecipeID: recipeID}),
			},
		},
		{
			name: "double pin",
			steps: []func() (string, any){
				step(TypeRecipePinned, RecipePinned{RecipeID: recipeID}),
				step(TypeRecipePinned, RecipePinned{RecipeID: recipeID}),
			},
			wantErr: "already pinned",
		},
		{
			name: "unpin never pinned",
			steps: []func() (string, any){
				step(TypeRecipeUnpinned, RecipeUnpinned{RecipeID: recipeID}),
			},
			wantErr: "is not pinned",
		},
		{
			name: "move never pinned",
			steps: []func() (string, any){
				step(TypeRecipeMoved, RecipeMoved{RecipeID: recipeID, Index: 0}),
			},
			wantErr: "is not pinned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := Validator{}.NewState()
			var err error
			for _, ev := range pinEvents(t, tt.steps...) {
				if err = state.Apply(ev); err != nil {
					break
				}
			}
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.CodeIllegalEvent, errors.GetCode(err))
		})
	}
}

func TestReduce_PinOrdering(t *testing.T) {
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()

	view, err := Build(pinEvents(t,
		step(TypeRecipePinned, RecipePinned{RecipeID: a}),
		step(TypeRecipePinned, RecipePinned{RecipeID: b}),
		step(TypeRecipePinned, RecipePinned{RecipeID: c}),
		step(TypeRecipeMoved, RecipeMoved{RecipeID: c, Index: 0}),
		step(TypeRecipeUnpinned, RecipeUnpinned{RecipeID: b}),
	))
	require.NoError(t, err)

	assert.Equal(t, PinnedRecipes{c, a}, view)
}

func TestDecodePayload_RejectsBadIDs(t *testing.T) {
	_, err := DecodePayload(TypeRecipePinned, []byte(`{"recipeId":"nope"}`))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidPayload, errors.GetCode(err))
}
