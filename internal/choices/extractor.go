// Package choices parses raw model output into exactly two structured
// player choices. Parsing never fails: an ordered list of strategies runs
// until one yields two usable items, with a fixed default pair as the final
// strategy.
package choices

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"fable-server/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// maxChoiceTextLength bounds a single choice label; longer scraped items
// are cut with an ellipsis.
const maxChoiceTextLength = 100

var parseStrategyTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fable_choice_parse_total",
		Help: "Choice extractions by winning parse strategy.",
	},
	[]string{"strategy"},
)

// parsedChoice is a strategy's intermediate result before impact synthesis.
type parsedChoice struct {
	Text        string
	Consequence string
}

// strategy is one fallible parser. ok is true only when at least two usable
// items were found.
type strategy struct {
	name  string
	parse func(rawText string) (items []parsedChoice, ok bool)
}

// Extractor turns free-form model output into choice pairs.
type Extractor struct {
	strategies []strategy
	rng        *rand.Rand
	logger     *zap.Logger
}

// NewExtractor builds an extractor with the standard strategy order:
// structured JSON, key/value scraping, list scraping.
func NewExtractor(logger *zap.Logger) *Extractor {
	e := &Extractor{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.Named("ChoiceExtractor"),
	}
	e.strategies = []strategy{
		{name: "structured_json", parse: parseStructured},
		{name: "key_value", parse: parseKeyValue},
		{name: "list_items", parse: parseListItems},
	}
	return e
}

// Extract returns exactly two choices for any input, including empty
// strings and unparseable prose. The two choices always carry divergent
// environment impacts so the branches are visually distinguishable.
func (e *Extractor) Extract(rawText string) [models.ChoicesPerSegment]models.Choice {
	for _, s := range e.strategies {
		items, ok := s.parse(rawText)
		if !ok {
			continue
		}
		parseStrategyTotal.With(prometheus.Labels{"strategy": s.name}).Inc()
		e.logger.Debug("Choices parsed",
			zap.String("strategy", s.name),
			zap.Int("items", len(items)))
		return e.assemble(items[0], items[1])
	}

	parseStrategyTotal.With(prometheus.Labels{"strategy": "default"}).Inc()
	e.logger.Debug("No strategy matched, using default choices")
	return e.assemble(
		parsedChoice{Text: "Explore further", Consequence: "You press on into the unknown."},
		parsedChoice{Text: "Stay cautious", Consequence: "You hold back, watching for danger."},
	)
}

// assemble normalizes two parsed items into final choices, synthesizing
// consequences and environment impacts. The first branch darkens the scene
// and thickens fog, the second brightens and thins it; transitions are
// drawn without replacement so they always differ.
func (e *Extractor) assemble(first, second parsedChoice) [models.ChoicesPerSegment]models.Choice {
	transitions := []models.TransitionType{
		models.TransitionFade,
		models.TransitionSlide,
		models.TransitionZoom,
	}
	perm := e.rng.Perm(len(transitions))

	return [models.ChoicesPerSegment]models.Choice{
		{
			Text:        cleanChoiceText(first.Text),
			Consequence: ensureConsequence(first),
			EnvironmentImpact: models.EnvironmentModification{
				Lighting:   models.LightingChange{Intensity: float64Ptr(0.35)},
				Atmosphere: models.AtmosphereChange{Fog: boolPtr(true), FogDensity: float64Ptr(0.65)},
				Transition: transitions[perm[0]],
			},
		},
		{
			Text:        cleanChoiceText(second.Text),
			Consequence: ensureConsequence(second),
			EnvironmentImpact: models.EnvironmentModification{
				Lighting:   models.LightingChange{Intensity: float64Ptr(0.85)},
				Atmosphere: models.AtmosphereChange{FogDensity: float64Ptr(0.15)},
				Transition: transitions[perm[1]],
			},
		},
	}
}

// parseStructured is strategy A: carve out an array-of-objects substring,
// repair common malformations, parse, and accept two objects with text.
func parseStructured(rawText string) ([]parsedChoice, bool) {
	candidate := extractJSONArray(rawText)
	if candidate == "" {
		return nil, false
	}
	repaired := repairJSON(candidate)
	if repaired == "" {
		return nil, false
	}

	var decoded []struct {
		Text        string `json:"text"`
		Consequence string `json:"consequence"`
	}
	if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
		return nil, false
	}

	items := make([]parsedChoice, 0, len(decoded))
	for _, d := range decoded {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		items = append(items, parsedChoice{
			Text:        strings.TrimSpace(d.Text),
			Consequence: strings.TrimSpace(d.Consequence),
		})
	}
	return items, len(items) >= models.ChoicesPerSegment
}

// parseKeyValue is strategy B: scrape text/consequence fields independently
// and pair the first two of each by position.
func parseKeyValue(rawText string) ([]parsedChoice, bool) {
	texts := scrapeField(rawText, "text")
	consequences := scrapeField(rawText, "consequence")
	if len(texts) < models.ChoicesPerSegment || len(consequences) < models.ChoicesPerSegment {
		return nil, false
	}
	items := make([]parsedChoice, models.ChoicesPerSegment)
	for i := range items {
		items[i] = parsedChoice{Text: texts[i], Consequence: consequences[i]}
	}
	return items, true
}

// parseListItems is strategy C: numbered or bulleted lines, first two taken,
// consequences synthesized later.
func parseListItems(rawText string) ([]parsedChoice, bool) {
	var items []parsedChoice
	for _, line := range strings.Split(rawText, "\n") {
		item, ok := stripListMarker(line)
		if !ok {
			continue
		}
		items = append(items, parsedChoice{Text: item})
		if len(items) == models.ChoicesPerSegment {
			return items, true
		}
	}
	return items, false
}

func stripListMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}

	// Numbered items: "1. ..." or "2) ...".
	digits := 0
	for digits < len(trimmed) && trimmed[digits] >= '0' && trimmed[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(trimmed) && (trimmed[digits] == '.' || trimmed[digits] == ')') {
		rest := strings.TrimSpace(trimmed[digits+1:])
		if rest != "" {
			return rest, true
		}
		return "", false
	}

	// Bulleted items.
	for _, marker := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(trimmed, marker) {
			rest := strings.TrimSpace(trimmed[len(marker):])
			if rest != "" {
				return rest, true
			}
		}
	}
	return "", false
}

// scrapeField collects all quoted values of the named field, tolerating
// single quotes and unquoted keys.
func scrapeField(text, field string) []string {
	var values []string
	lower := strings.ToLower(text)
	offset := 0
	for {
		idx := strings.Index(lower[offset:], field)
		if idx == -1 {
			return values
		}
		pos := offset + idx + len(field)
		offset = pos
		rest := text[pos:]
		rest = strings.TrimLeft(rest, `"' `)
		if !strings.HasPrefix(rest, ":") && !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " ")
		if rest == "" {
			continue
		}
		quote := rest[0]
		if quote != '"' && quote != '\'' {
			continue
		}
		end := strings.IndexByte(rest[1:], quote)
		if end <= 0 {
			continue
		}
		value := strings.TrimSpace(rest[1 : 1+end])
		if value != "" {
			values = append(values, value)
		}
	}
}

func cleanChoiceText(text string) string {
	text = strings.Trim(strings.TrimSpace(text), `"'`)
	text = strings.TrimRight(text, ",;")
	if utf8.RuneCountInString(text) > maxChoiceTextLength {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxChoiceTextLength-3])) + "..."
	}
	if text == "" {
		text = "Continue onward"
	}
	return text
}

// ensureConsequence synthesizes a consequence for strategies that only
// produce choice labels.
func ensureConsequence(item parsedChoice) string {
	consequence := strings.Trim(strings.TrimSpace(item.Consequence), `"'`)
	if consequence != "" {
		return consequence
	}
	action := strings.TrimRight(cleanChoiceText(item.Text), ".!?")
	return fmt.Sprintf("You decide to %s.", lowerFirst(action))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func float64Ptr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool          { return &b }
