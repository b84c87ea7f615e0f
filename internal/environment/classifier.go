// Package environment maps generated text onto a fixed set of scene
// presets and resolves per-turn environment transitions.
package environment

import (
	"strings"

	"fable-server/internal/models"
)

// Preset bundles everything a scene inherits from its environment kind.
type Preset struct {
	Description models.EnvironmentDescription
	Metadata    models.StoryMetadata
}

// keywordGroup binds an environment to its trigger words. Groups are
// checked in declaration order; the first hit wins.
type keywordGroup struct {
	key      models.EnvironmentKey
	keywords []string
}

// Cave words are checked before ruin words: "ancient cave" is a cave.
var keywordGroups = []keywordGroup{
	{
		key:      models.EnvironmentCave,
		keywords: []string{"cave", "cavern", "underground", "tunnel", "grotto", "stalactite"},
	},
	{
		key:      models.EnvironmentRuins,
		keywords: []string{"ruin", "ancient", "temple", "crumbling", "column", "overgrown stone"},
	},
}

var presets = map[models.EnvironmentKey]Preset{
	models.EnvironmentForest: {
		Description: models.EnvironmentDescription{
			BaseEnvironment: models.EnvironmentForest,
			Lighting: models.Lighting{
				Intensity: 0.7,
				Color:     "#a3c585",
				Ambient:   "dappled daylight",
				Shadows:   true,
			},
			Atmosphere: models.Atmosphere{
				Fog:        true,
				FogDensity: 0.2,
				FogColor:   "#d6dfcf",
			},
			Props: []string{"tall pines", "undergrowth", "moss-covered rocks"},
		},
		Metadata: models.StoryMetadata{
			Mood:      "serene",
			Location:  "forest",
			TimeOfDay: "day",
			Weather:   "clear",
		},
	},
	models.EnvironmentCave: {
		Description: models.EnvironmentDescription{
			BaseEnvironment: models.EnvironmentCave,
			Lighting: models.Lighting{
				Intensity: 0.25,
				Color:     "#6b7a8f",
				Ambient:   "cold darkness",
				Shadows:   true,
			},
			Atmosphere: models.Atmosphere{
				Fog:        true,
				FogDensity: 0.5,
				FogColor:   "#3a3f4a",
			},
			Props: []string{"stalactites", "loose stones", "dripping water"},
		},
		Metadata: models.StoryMetadata{
			Mood:      "tense",
			Location:  "cave",
			TimeOfDay: "unknown",
			Weather:   "still",
		},
	},
	models.EnvironmentRuins: {
		Description: models.EnvironmentDescription{
			BaseEnvironment: models.EnvironmentRuins,
			Lighting: models.Lighting{
				Intensity: 0.5,
				Color:     "#c9b98f",
				Ambient:   "dusty half-light",
				Shadows:   true,
			},
			Atmosphere: models.Atmosphere{
				Fog:        true,
				FogDensity: 0.35,
				FogColor:   "#bfb39a",
			},
			Props: []string{"fallen columns", "carved stones", "withered vines"},
		},
		Metadata: models.StoryMetadata{
			Mood:      "mysterious",
			Location:  "ruins",
			TimeOfDay: "dusk",
			Weather:   "windy",
		},
	},
}

// Classify derives the environment for the next scene from generated text.
// Total: when no keyword matches, the previous environment carries forward,
// and a session with no previous environment starts in the forest.
func Classify(text string, previous models.EnvironmentKey) models.EnvironmentKey {
	lower := strings.ToLower(text)
	for _, group := range keywordGroups {
		for _, keyword := range group.keywords {
			if strings.Contains(lower, keyword) {
				return group.key
			}
		}
	}
	if _, ok := presets[previous]; ok {
		return previous
	}
	return models.EnvironmentForest
}

// PresetFor returns the preset bundle for a key, defaulting to forest for
// anything unknown.
func PresetFor(key models.EnvironmentKey) Preset {
	if preset, ok := presets[key]; ok {
		return preset
	}
	return presets[models.EnvironmentForest]
}

// Resolve computes the next scene's environment: the preset for the
// classified key with the chosen impact's deltas applied, props carried
// over from the current scene when it stays in the same environment.
func Resolve(key models.EnvironmentKey, current models.EnvironmentDescription, impact models.EnvironmentModification) models.EnvironmentDescription {
	next := PresetFor(key).Description
	if key == current.BaseEnvironment && len(current.Props) > 0 {
		next.Props = current.Props
	}
	return next.ApplyModification(impact)
}

// MergeMetadata recomputes classification labels, keeping the previous
// turn's value for anything the new preset leaves unclassified.
func MergeMetadata(key models.EnvironmentKey, previous models.StoryMetadata) models.StoryMetadata {
	next := PresetFor(key).Metadata
	if next.Mood == "" {
		next.Mood = previous.Mood
	}
	if next.TimeOfDay == "" || next.TimeOfDay == "unknown" {
		if previous.TimeOfDay != "" {
			next.TimeOfDay = previous.TimeOfDay
		}
	}
	if next.Weather == "" {
		next.Weather = previous.Weather
	}
	return next
}
