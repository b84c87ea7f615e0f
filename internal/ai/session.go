package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fable-server/internal/models"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const selfTestPrompt = "Reply with the single word OK."

// Session owns the readiness lifecycle of one model and serializes loading.
//
// The first caller that needs the model triggers a load; concurrent callers
// attach to the same pending load instead of starting their own. A failed
// load is not cached: the next caller retries from scratch.
type Session struct {
	client      Client
	tokenBudget int
	encoder     *tiktoken.Tiktoken
	notify      ProgressFunc
	logger      *zap.Logger

	mu      sync.Mutex
	ready   bool
	pending chan struct{}
	loadErr error
}

// NewSession wires a session around a backend client. notify may be nil;
// tokenBudget <= 0 disables prompt trimming.
func NewSession(client Client, tokenBudget int, notify ProgressFunc, logger *zap.Logger) *Session {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Estimation falls back to a character heuristic.
		logger.Warn("Failed to initialize token encoder", zap.Error(err))
		encoder = nil
	}
	return &Session{
		client:      client,
		tokenBudget: tokenBudget,
		encoder:     encoder,
		notify:      notify,
		logger:      logger.Named("ModelSession"),
	}
}

// EnsureReady makes the model available, loading it if necessary. Safe for
// concurrent use: at most one load runs at a time and every caller observes
// the outcome of the load it attached to.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}

	if s.pending == nil {
		// This caller becomes the loader.
		done := make(chan struct{})
		s.pending = done
		s.mu.Unlock()

		err := s.load(ctx)

		s.mu.Lock()
		s.ready = err == nil
		s.loadErr = err
		s.pending = nil
		s.mu.Unlock()
		close(done)
		return err
	}

	// Attach to the load already in flight.
	done := s.pending
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	return s.loadErr
}

// Ready reports whether the model has completed loading and self-test.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// load runs the full preparation sequence: fetch weights, then verify the
// model actually produces text before declaring it usable.
func (s *Session) load(ctx context.Context) error {
	model := s.client.ModelName()
	startTime := time.Now()
	s.logger.Info("Loading model", zap.String("model", model))

	s.report(ProgressUpdate{Stage: StageFetching, Percent: 0, Label: "fetching model"})

	if err := s.client.Load(ctx, s.report); err != nil {
		modelLoadsTotal.With(prometheus.Labels{"model": model, "status": "fetch_failed"}).Inc()
		return err
	}

	s.report(ProgressUpdate{Stage: StagePreparing, Percent: 90, Label: "running self-test"})

	// A load that fetched weights but cannot generate is treated as failed,
	// so readiness is never cached for a broken model.
	text, err := s.client.Complete(ctx, "", selfTestPrompt, SelfTestParams)
	if err != nil {
		s.logger.Error("Model self-test failed", zap.String("model", model), zap.Error(err))
		modelLoadsTotal.With(prometheus.Labels{"model": model, "status": "selftest_failed"}).Inc()
		return fmt.Errorf("%w: self-test: %v", models.ErrModelLoadFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Error("Model self-test returned empty output", zap.String("model", model))
		modelLoadsTotal.With(prometheus.Labels{"model": model, "status": "selftest_failed"}).Inc()
		return fmt.Errorf("%w: self-test produced empty output", models.ErrModelLoadFailed)
	}

	modelLoadsTotal.With(prometheus.Labels{"model": model, "status": "success"}).Inc()
	s.logger.Info("Model ready",
		zap.String("model", model),
		zap.Duration("loadTime", time.Since(startTime)))

	s.report(ProgressUpdate{Stage: StageReady, Percent: 100, Label: "model ready"})
	return nil
}

// Complete ensures the model is ready, then runs one generation call. The
// user prompt is trimmed from the front when the combined prompt exceeds the
// token budget, keeping the most recent context.
func (s *Session) Complete(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}
	userPrompt = s.fitToBudget(systemPrompt, userPrompt)
	return s.client.Complete(ctx, systemPrompt, userPrompt, params)
}

// EstimateTokens approximates the token count of a prompt.
func (s *Session) EstimateTokens(text string) int {
	if s.encoder != nil {
		return len(s.encoder.Encode(text, nil, nil))
	}
	// Rough average of four characters per token.
	return len(text)/4 + 1
}

func (s *Session) fitToBudget(systemPrompt, userPrompt string) string {
	if s.tokenBudget <= 0 || s.encoder == nil {
		return userPrompt
	}
	systemTokens := s.EstimateTokens(systemPrompt)
	userTokens := s.encoder.Encode(userPrompt, nil, nil)
	if systemTokens+len(userTokens) <= s.tokenBudget {
		return userPrompt
	}
	keep := s.tokenBudget - systemTokens
	if keep <= 0 {
		s.logger.Warn("System prompt alone exceeds token budget",
			zap.Int("systemTokens", systemTokens),
			zap.Int("budget", s.tokenBudget))
		return userPrompt
	}
	trimmed := s.encoder.Decode(userTokens[len(userTokens)-keep:])
	s.logger.Warn("Prompt trimmed to token budget",
		zap.Int("originalTokens", len(userTokens)),
		zap.Int("keptTokens", keep))
	return trimmed
}

func (s *Session) report(u ProgressUpdate) {
	if s.notify != nil {
		s.notify(u)
	}
}
