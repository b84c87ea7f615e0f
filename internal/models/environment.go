package models

// EnvironmentKey names one of the fixed environment presets.
type EnvironmentKey string

const (
	EnvironmentForest EnvironmentKey = "forest"
	EnvironmentCave   EnvironmentKey = "cave"
	EnvironmentRuins  EnvironmentKey = "ruins"
)

// Lighting describes the resolved lighting of a scene.
type Lighting struct {
	Intensity float64 `json:"intensity"`
	Color     string  `json:"color"`
	Ambient   string  `json:"ambient"`
	Shadows   bool    `json:"shadows"`
}

// Atmosphere describes the resolved atmosphere of a scene.
type Atmosphere struct {
	Fog        bool    `json:"fog"`
	FogDensity float64 `json:"fog_density"`
	FogColor   string  `json:"fog_color"`
}

// EnvironmentDescription is the full presentational state of a scene.
// Lighting and atmosphere are merged (partially overridden), not replaced,
// when a choice's impact is applied turn-to-turn.
type EnvironmentDescription struct {
	BaseEnvironment EnvironmentKey `json:"base_environment"`
	Lighting        Lighting       `json:"lighting"`
	Atmosphere      Atmosphere     `json:"atmosphere"`
	Props           []string       `json:"props"`
}

// ApplyModification returns a copy of the environment with the choice's
// deltas folded in. Unset delta fields keep the current values; props are
// carried over unchanged.
func (e EnvironmentDescription) ApplyModification(mod EnvironmentModification) EnvironmentDescription {
	next := e
	if mod.Lighting.Intensity != nil {
		next.Lighting.Intensity = *mod.Lighting.Intensity
	}
	if mod.Lighting.Color != "" {
		next.Lighting.Color = mod.Lighting.Color
	}
	if mod.Lighting.Ambient != "" {
		next.Lighting.Ambient = mod.Lighting.Ambient
	}
	if mod.Lighting.Shadows != nil {
		next.Lighting.Shadows = *mod.Lighting.Shadows
	}
	if mod.Atmosphere.Fog != nil {
		next.Atmosphere.Fog = *mod.Atmosphere.Fog
	}
	if mod.Atmosphere.FogDensity != nil {
		next.Atmosphere.FogDensity = *mod.Atmosphere.FogDensity
	}
	if mod.Atmosphere.FogColor != "" {
		next.Atmosphere.FogColor = mod.Atmosphere.FogColor
	}
	if len(e.Props) > 0 {
		next.Props = make([]string, len(e.Props))
		copy(next.Props, e.Props)
	}
	return next
}
