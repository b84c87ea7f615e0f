package models

import (
	"time"

	"github.com/google/uuid"
)

// TransitionType identifies the presentation animation a choice triggers.
type TransitionType string

const (
	TransitionFade  TransitionType = "fade"
	TransitionSlide TransitionType = "slide"
	TransitionZoom  TransitionType = "zoom"
)

// ChoicesPerSegment is the fixed number of player options in every segment.
// The extractor's fallback chain guarantees this cardinality: never 0,
// never 1, never more.
const ChoicesPerSegment = 2

// LightingChange is a partial override of a scene's lighting. Nil/empty
// fields leave the current value untouched.
type LightingChange struct {
	Intensity *float64 `json:"intensity,omitempty"`
	Color     string   `json:"color,omitempty"`
	Ambient   string   `json:"ambient,omitempty"`
	Shadows   *bool    `json:"shadows,omitempty"`
}

// AtmosphereChange is a partial override of a scene's atmosphere.
type AtmosphereChange struct {
	Fog        *bool    `json:"fog,omitempty"`
	FogDensity *float64 `json:"fog_density,omitempty"`
	FogColor   string   `json:"fog_color,omitempty"`
}

// EnvironmentModification is the delta a choice applies to the next
// segment's environment. Impacts are synthesized by the extractor, not
// parsed from model output (the model cannot reliably emit them).
type EnvironmentModification struct {
	Lighting   LightingChange   `json:"lighting"`
	Atmosphere AtmosphereChange `json:"atmosphere"`
	Transition TransitionType   `json:"transition"`
}

// Choice is one player-selectable option within a segment.
type Choice struct {
	Text              string                  `json:"text"`
	Consequence       string                  `json:"consequence"`
	EnvironmentImpact EnvironmentModification `json:"environment_impact"`
}

// StoryMetadata carries classification labels recomputed from generated
// text; unclassified fields inherit the previous turn's values.
type StoryMetadata struct {
	Mood      string `json:"mood"`
	Location  string `json:"location"`
	TimeOfDay string `json:"time_of_day"`
	Weather   string `json:"weather"`
}

// StorySegment is one turn's narrative unit. Immutable once created;
// owned by the session history in insertion (turn) order.
type StorySegment struct {
	ID          uuid.UUID                 `json:"id"`
	Text        string                    `json:"text"`
	Environment EnvironmentDescription    `json:"environment"`
	Choices     [ChoicesPerSegment]Choice `json:"choices"`
	Metadata    StoryMetadata             `json:"metadata"`
	CreatedAt   time.Time                 `json:"created_at"`
}
