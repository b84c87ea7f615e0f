package narrative

import (
	"time"

	"fable-server/internal/environment"
	"fable-server/internal/models"

	"github.com/google/uuid"
)

// Fallback content keeps the public contract total: generation never
// surfaces an error, it degrades to fixed but structurally valid segments.

const initialFallbackText = "You stand at the edge of an ancient forest, mist curling " +
	"between the trees. Somewhere ahead, hidden paths wait to be discovered. " +
	"The air hums with quiet promise."

const continuationFallbackText = "As you continue your journey..."

func fallbackChoices() [models.ChoicesPerSegment]models.Choice {
	dim := 0.35
	bright := 0.85
	dense := 0.65
	thin := 0.15
	fogOn := true
	return [models.ChoicesPerSegment]models.Choice{
		{
			Text:        "Explore further",
			Consequence: "You press on into the unknown.",
			EnvironmentImpact: models.EnvironmentModification{
				Lighting:   models.LightingChange{Intensity: &dim},
				Atmosphere: models.AtmosphereChange{Fog: &fogOn, FogDensity: &dense},
				Transition: models.TransitionFade,
			},
		},
		{
			Text:        "Stay cautious",
			Consequence: "You hold back, watching for danger.",
			EnvironmentImpact: models.EnvironmentModification{
				Lighting:   models.LightingChange{Intensity: &bright},
				Atmosphere: models.AtmosphereChange{FogDensity: &thin},
				Transition: models.TransitionSlide,
			},
		},
	}
}

// initialFallbackSegment is the fixed segment returned when the very first
// generation fails. Always a forest opening.
func initialFallbackSegment() models.StorySegment {
	preset := environment.PresetFor(models.EnvironmentForest)
	return models.StorySegment{
		ID:          uuid.New(),
		Text:        initialFallbackText,
		Environment: preset.Description,
		Choices:     fallbackChoices(),
		Metadata:    preset.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
}

// continuationFallbackSegment builds the next segment purely from local
// data: the chosen consequence as prose, the current environment with the
// choice's deltas applied, fixed alternatives. No failure path.
func continuationFallbackSegment(current models.StorySegment, choice models.Choice) models.StorySegment {
	return models.StorySegment{
		ID:          uuid.New(),
		Text:        joinConsequence(choice.Consequence, continuationFallbackText),
		Environment: current.Environment.ApplyModification(choice.EnvironmentImpact),
		Choices:     fallbackChoices(),
		Metadata:    current.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
}
