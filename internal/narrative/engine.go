// Package narrative orchestrates turn generation: prompt building, the
// periodic summary refresh that counters model drift, environment
// transitions and segment assembly.
package narrative

import (
	"context"
	"strings"
	"time"

	"fable-server/internal/ai"
	"fable-server/internal/choices"
	"fable-server/internal/environment"
	"fable-server/internal/models"
	"fable-server/internal/sanitize"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// RefreshThreshold is the number of turns between summary refreshes. Small
// models drift when conditioned on an ever-growing summary; periodically
// rewriting it from scratch trades recency for coherence.
const RefreshThreshold = 3

var segmentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fable_segments_total",
		Help: "Generated story segments by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// Completer is the slice of the model session the engine needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, params ai.GenerationParams) (string, error)
}

// Engine produces story segments. Both methods are total: any model
// failure degrades to deterministic fallback content, never an error.
// Callers are expected to serialize turns per session.
type Engine interface {
	GenerateInitial(ctx context.Context, state *models.SessionState) models.StorySegment
	GenerateNext(ctx context.Context, state *models.SessionState, current models.StorySegment, choice models.Choice) models.StorySegment
}

type engine struct {
	model     Completer
	extractor *choices.Extractor
	logger    *zap.Logger
}

func NewEngine(model Completer, extractor *choices.Extractor, logger *zap.Logger) Engine {
	return &engine{
		model:     model,
		extractor: extractor,
		logger:    logger.Named("NarrativeEngine"),
	}
}

// GenerateInitial produces the opening segment and seeds the summary.
func (e *engine) GenerateInitial(ctx context.Context, state *models.SessionState) models.StorySegment {
	prompt := openingPrompt()
	raw, err := e.model.Complete(ctx, narratorSystemPrompt, prompt, ai.ContinuationParams)
	if err != nil {
		e.logger.Warn("Opening generation failed, using fallback segment", zap.Error(err))
		segmentsTotal.With(prometheus.Labels{"kind": "initial", "outcome": "fallback"}).Inc()
		seg := initialFallbackSegment()
		state.SetSummary(seg.Text)
		state.AppendSegment(seg)
		return seg
	}

	text := sanitize.Clean(raw, prompt)

	// Seed the running summary from the opening itself.
	summary, err := e.model.Complete(ctx, summarySystemPrompt, summaryPrompt(text, ""), ai.SummaryParams)
	if err != nil || strings.TrimSpace(summary) == "" {
		summary = text
	}
	state.SetSummary(strings.TrimSpace(summary))

	key := environment.Classify(text, "")
	preset := environment.PresetFor(key)

	seg := models.StorySegment{
		ID:          uuid.New(),
		Text:        text,
		Environment: preset.Description,
		Choices:     e.generateChoices(ctx, text),
		Metadata:    preset.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	state.AppendSegment(seg)
	segmentsTotal.With(prometheus.Labels{"kind": "initial", "outcome": "generated"}).Inc()
	e.logger.Info("Initial segment generated",
		zap.String("sessionID", state.ID.String()),
		zap.String("environment", string(key)))
	return seg
}

// GenerateNext advances the story by one turn.
func (e *engine) GenerateNext(ctx context.Context, state *models.SessionState, current models.StorySegment, choice models.Choice) models.StorySegment {
	// 1. Count the turn, fire a refresh when the threshold is met.
	state.SegmentsSinceRefresh++
	refreshed := state.SegmentsSinceRefresh >= RefreshThreshold
	if refreshed {
		e.refreshSummary(ctx, state)
		state.SegmentsSinceRefresh = 0
	}

	// 2. Continue the story from the chosen branch.
	prompt := continuationPrompt(
		state.StorySummary,
		tailSentences(current.Text, lastSentenceCount),
		choice,
		current.Environment.BaseEnvironment,
		refreshed,
		current.Metadata,
	)
	raw, err := e.model.Complete(ctx, narratorSystemPrompt, prompt, ai.ContinuationParams)
	if err != nil {
		e.logger.Warn("Continuation generation failed, using local fallback",
			zap.String("sessionID", state.ID.String()),
			zap.Error(err))
		segmentsTotal.With(prometheus.Labels{"kind": "next", "outcome": "fallback"}).Inc()
		seg := continuationFallbackSegment(current, choice)
		if !refreshed {
			e.foldSummaryLocally(state, seg.Text)
		}
		state.AppendSegment(seg)
		return seg
	}

	text := joinConsequence(choice.Consequence, sanitize.Clean(raw, prompt))

	// 3. Fold the new text into the summary, unless the refresh already
	// replaced it this turn.
	if !refreshed {
		summary, err := e.model.Complete(ctx, summarySystemPrompt, summaryPrompt(text, state.StorySummary), ai.SummaryParams)
		if err != nil || strings.TrimSpace(summary) == "" {
			e.foldSummaryLocally(state, text)
		} else {
			state.SetSummary(strings.TrimSpace(summary))
		}
	}

	// 4. Derive the next environment and metadata.
	key := environment.Classify(text, current.Environment.BaseEnvironment)

	seg := models.StorySegment{
		ID:          uuid.New(),
		Text:        text,
		Environment: environment.Resolve(key, current.Environment, choice.EnvironmentImpact),
		Choices:     e.generateChoices(ctx, text),
		Metadata:    environment.MergeMetadata(key, current.Metadata),
		CreatedAt:   time.Now().UTC(),
	}
	state.AppendSegment(seg)
	segmentsTotal.With(prometheus.Labels{"kind": "next", "outcome": "generated"}).Inc()
	e.logger.Info("Segment generated",
		zap.String("sessionID", state.ID.String()),
		zap.String("environment", string(key)),
		zap.Bool("refreshed", refreshed),
		zap.Int("turn", len(state.History)))
	return seg
}

// generateChoices asks the model for a choice pair and extracts it. Total:
// a failed completion feeds the extractor an empty string, which resolves
// to the default pair.
func (e *engine) generateChoices(ctx context.Context, segmentText string) [models.ChoicesPerSegment]models.Choice {
	raw, err := e.model.Complete(ctx, choiceSystemPrompt, choicesPrompt(segmentText), ai.ChoiceParams)
	if err != nil {
		e.logger.Warn("Choice generation failed, extractor will use defaults", zap.Error(err))
		raw = ""
	}
	return e.extractor.Extract(raw)
}

// refreshSummary rewrites the accumulated summary from scratch. A failed
// rewrite keeps the old summary; the refresh still counts.
func (e *engine) refreshSummary(ctx context.Context, state *models.SessionState) {
	fresh, err := e.model.Complete(ctx, summarySystemPrompt, freshSummaryPrompt(state.StorySummary), ai.SummaryParams)
	if err != nil || strings.TrimSpace(fresh) == "" {
		e.logger.Warn("Summary refresh failed, keeping previous summary",
			zap.String("sessionID", state.ID.String()),
			zap.Error(err))
		return
	}
	state.SetSummary(strings.TrimSpace(fresh))
	e.logger.Debug("Summary refreshed", zap.String("sessionID", state.ID.String()))
}

// foldSummaryLocally appends new text to the summary without a model call.
// SetSummary enforces the length cap.
func (e *engine) foldSummaryLocally(state *models.SessionState, text string) {
	if state.StorySummary == "" {
		state.SetSummary(text)
		return
	}
	state.SetSummary(state.StorySummary + " " + text)
}

// joinConsequence prepends the chosen consequence to the generated
// continuation, joining with a period when the consequence lacks terminal
// punctuation. Skipped when the continuation already restates it.
func joinConsequence(consequence, generated string) string {
	consequence = strings.TrimSpace(consequence)
	generated = strings.TrimSpace(generated)
	if consequence == "" {
		return generated
	}
	if strings.Contains(generated, strings.TrimRight(consequence, ".!?")) {
		return generated
	}
	if !strings.HasSuffix(consequence, ".") && !strings.HasSuffix(consequence, "!") && !strings.HasSuffix(consequence, "?") {
		consequence += "."
	}
	if generated == "" {
		return consequence
	}
	return consequence + " " + generated
}
