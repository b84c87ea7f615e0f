package narrative_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fable-server/internal/ai/mocks"
	"fable-server/internal/choices"
	"fable-server/internal/models"
	"fable-server/internal/narrative"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(client *mocks.MockClient) narrative.Engine {
	return narrative.NewEngine(client, choices.NewExtractor(zap.NewNop()), zap.NewNop())
}

// promptContaining matches the user-prompt argument by substring, which is
// how the engine's call sites are told apart.
func promptContaining(substr string) interface{} {
	return mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, substr)
	})
}

const choicesJSON = `[{"text":"Enter","consequence":"You step inside."},{"text":"Wait","consequence":"You linger at the threshold."}]`

func TestGenerateInitial(t *testing.T) {
	ctx := context.Background()

	t.Run("Success assembles a full segment", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Begin a new adventure"), mock.Anything).
			Return("You stand before a dark cave mouth, cold air spilling out.", nil).Once()
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Summarize everything above"), mock.Anything).
			Return("The hero reaches a cave mouth.", nil).Once()
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("JSON array"), mock.Anything).
			Return(choicesJSON, nil).Once()

		state := models.NewSessionState()
		seg := newEngine(client).GenerateInitial(ctx, state)

		assert.Contains(t, seg.Text, "cave mouth")
		assert.Equal(t, models.EnvironmentCave, seg.Environment.BaseEnvironment)
		assert.Equal(t, "cave", seg.Metadata.Location)
		assert.Equal(t, "Enter", seg.Choices[0].Text)
		assert.Equal(t, "Wait", seg.Choices[1].Text)
		assert.Equal(t, "The hero reaches a cave mouth.", state.StorySummary)
		require.Len(t, state.History, 1)
	})

	t.Run("Backend that always fails yields the fixed fallback", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("model exploded"))

		state := models.NewSessionState()
		seg := newEngine(client).GenerateInitial(ctx, state)

		assert.Equal(t, "forest", seg.Metadata.Location)
		assert.Equal(t, models.EnvironmentForest, seg.Environment.BaseEnvironment)
		assert.Equal(t, "Explore further", seg.Choices[0].Text)
		assert.Equal(t, "Stay cautious", seg.Choices[1].Text)
		assert.NotEmpty(t, seg.Text)
		assert.NotEmpty(t, state.StorySummary)
		require.Len(t, state.History, 1)
	})
}

func TestGenerateNext(t *testing.T) {
	ctx := context.Background()

	seedState := func() (*models.SessionState, models.StorySegment) {
		state := models.NewSessionState()
		state.SetSummary("The hero entered the forest.")
		seg := models.StorySegment{
			Text:        "Tall pines close in around the narrow path.",
			Environment: newForestEnvironment(),
			Metadata: models.StoryMetadata{
				Mood: "serene", Location: "forest", TimeOfDay: "day", Weather: "clear",
			},
		}
		state.AppendSegment(seg)
		return state, seg
	}

	chosen := models.Choice{
		Text:        "Press on",
		Consequence: "You push deeper into the woods",
	}

	t.Run("Counter increments and refresh fires on the third turn", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Continue the story"), mock.Anything).
			Return("The path winds on beneath silent branches.", nil).Times(3)
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("JSON array"), mock.Anything).
			Return(choicesJSON, nil).Times(3)
		// Non-refresh turns fold the new text into the summary.
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Summarize everything above"), mock.Anything).
			Return("The hero walks deeper into the woods.", nil).Twice()
		// The third turn rewrites the summary from scratch instead.
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("fresh, concise summary"), mock.Anything).
			Return("A fresh telling of the journey so far.", nil).Once()

		state, current := seedState()
		engine := newEngine(client)

		seg1 := engine.GenerateNext(ctx, state, current, chosen)
		assert.Equal(t, 1, state.SegmentsSinceRefresh)

		seg2 := engine.GenerateNext(ctx, state, seg1, chosen)
		assert.Equal(t, 2, state.SegmentsSinceRefresh)

		engine.GenerateNext(ctx, state, seg2, chosen)
		assert.Equal(t, 0, state.SegmentsSinceRefresh)
		// The refreshed summary replaces, it is not a concatenation.
		assert.Equal(t, "A fresh telling of the journey so far.", state.StorySummary)
	})

	t.Run("Consequence is prepended to the continuation", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Continue the story"), mock.Anything).
			Return("The trees thin and a clearing opens ahead.", nil).Once()
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Summarize everything above"), mock.Anything).
			Return("The hero finds a clearing.", nil).Once()
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("JSON array"), mock.Anything).
			Return(choicesJSON, nil).Once()

		state, current := seedState()
		seg := newEngine(client).GenerateNext(ctx, state, current, chosen)

		assert.True(t, strings.HasPrefix(seg.Text, "You push deeper into the woods."),
			"got %q", seg.Text)
		assert.Contains(t, seg.Text, "clearing opens ahead")
	})

	t.Run("Restated consequence is not duplicated", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Continue the story"), mock.Anything).
			Return("You push deeper into the woods until the light gives out.", nil).Once()
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("Summarize everything above"), mock.Anything).
			Return("The hero loses the light.", nil).Once()
		client.On("Complete", mock.Anything, mock.Anything, promptContaining("JSON array"), mock.Anything).
			Return(choicesJSON, nil).Once()

		state, current := seedState()
		seg := newEngine(client).GenerateNext(ctx, state, current, chosen)

		assert.Equal(t, 1, strings.Count(seg.Text, "You push deeper into the woods"))
	})

	t.Run("Generation failure degrades to a local fallback segment", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("backend gone"))

		state, current := seedState()
		fled := models.Choice{
			Text:        "Run",
			Consequence: "You flee",
			EnvironmentImpact: models.EnvironmentModification{
				Lighting:   models.LightingChange{Intensity: floatPtr(0.1)},
				Transition: models.TransitionZoom,
			},
		}
		seg := newEngine(client).GenerateNext(ctx, state, current, fled)

		assert.Equal(t, "You flee. As you continue your journey...", seg.Text)
		assert.Equal(t, 0.1, seg.Environment.Lighting.Intensity)
		assert.Equal(t, current.Environment.BaseEnvironment, seg.Environment.BaseEnvironment)
		assert.Equal(t, "Explore further", seg.Choices[0].Text)
		assert.Equal(t, "Stay cautious", seg.Choices[1].Text)
		assert.Equal(t, 1, state.SegmentsSinceRefresh)
		// The fallback text is still folded into the summary locally.
		assert.Contains(t, state.StorySummary, "You flee.")
		require.Len(t, state.History, 2)
	})

	t.Run("Summary never exceeds its cap over many turns", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("backend gone"))

		state, current := seedState()
		engine := newEngine(client)
		seg := current
		for i := 0; i < 12; i++ {
			seg = engine.GenerateNext(ctx, state, seg, chosen)
			assert.LessOrEqual(t, len([]rune(state.StorySummary)), models.SummaryMaxLength)
		}
	})
}

func newForestEnvironment() models.EnvironmentDescription {
	return models.EnvironmentDescription{
		BaseEnvironment: models.EnvironmentForest,
		Lighting: models.Lighting{
			Intensity: 0.7, Color: "#a3c585", Ambient: "dappled daylight", Shadows: true,
		},
		Atmosphere: models.Atmosphere{
			Fog: true, FogDensity: 0.2, FogColor: "#d6dfcf",
		},
		Props: []string{"tall pines"},
	}
}

func floatPtr(f float64) *float64 { return &f }
