package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fable-server/internal/config"
	"fable-server/internal/models"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Load stages reported while a model is being prepared.
const (
	StageFetching  = "fetching"
	StagePreparing = "preparing"
	StageReady     = "ready"
)

// ProgressUpdate is one discrete load-progress milestone. Delivery is
// fire-and-forget; consumers may drop updates.
type ProgressUpdate struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Label   string `json:"label"`
}

// ProgressFunc receives load-progress milestones.
type ProgressFunc func(ProgressUpdate)

// Client abstracts a text-generation backend.
//
// Complete normalizes the backend's differing result shapes into a single
// string; anything that matches neither known shape is reported as a
// models.ErrGenerationFailed wrap carrying the original message.
type Client interface {
	// Load fetches model weights/tokenizer, reporting progress. Idempotent
	// at the backend level: an already-present model loads quickly.
	Load(ctx context.Context, progress ProgressFunc) error
	// Complete runs one generation call with the given sampling parameters.
	Complete(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error)
	// ModelName reports the configured model identifier.
	ModelName() string
}

// NewClient builds an AI client implementation based on the configuration.
func NewClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.AIClientType) {
	case "ollama":
		return newOllamaClient(cfg, logger)
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
		openaiConfig.BaseURL = cfg.AIBaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
		client := openaigo.NewClientWithConfig(openaiConfig)
		logger.Info("OpenAI client created",
			zap.String("baseURL", cfg.AIBaseURL),
			zap.String("model", cfg.AIModel),
			zap.Duration("timeout", cfg.AITimeout))
		return &openAIClient{
			client:  client,
			model:   cfg.AIModel,
			timeout: cfg.AITimeout,
			logger:  logger.Named("OpenAIClient"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown AI client type: '%s'", cfg.AIClientType)
	}
}

// --- Ollama implementation ---

type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func newOllamaClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	// api.NewClient expects the base URL without a /v1 suffix.
	baseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL '%s': %w", baseURL, err)
	}

	httpClient := &http.Client{Timeout: cfg.AITimeout}
	client := api.NewClient(parsedURL, httpClient)

	logger.Info("Ollama client created",
		zap.String("baseURL", baseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout))

	return &ollamaClient{
		client:  client,
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

func (c *ollamaClient) ModelName() string { return c.model }

// Load pulls the model through the Ollama registry, translating pull
// progress into fetch-stage updates.
func (c *ollamaClient) Load(ctx context.Context, progress ProgressFunc) error {
	req := &api.PullRequest{Model: c.model}

	err := c.client.Pull(ctx, req, func(resp api.ProgressResponse) error {
		if progress == nil {
			return nil
		}
		percent := 0
		if resp.Total > 0 {
			percent = int(resp.Completed * 100 / resp.Total)
		}
		progress(ProgressUpdate{
			Stage:   StageFetching,
			Percent: percent,
			Label:   resp.Status,
		})
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to pull model", zap.String("model", c.model), zap.Error(err))
		return fmt.Errorf("%w: pull %s: %v", models.ErrModelLoadFailed, c.model, err)
	}
	return nil
}

func (c *ollamaClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" && strings.TrimSpace(userPrompt) == "" {
		generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: empty prompt", models.ErrGenerationFailed)
	}

	messages := make([]api.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	if userPrompt != "" {
		messages = append(messages, api.Message{Role: "user", Content: userPrompt})
	}

	options := map[string]interface{}{
		"num_predict": intVal(params.MaxTokens),
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.RepeatPenalty != nil {
		options["repeat_penalty"] = *params.RepeatPenalty
	}

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   func(b bool) *bool { return &b }(false),
		Options:  options,
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		// Non-streaming: the callback fires once with the full response.
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Ollama chat call failed", zap.Duration("duration", duration), zap.Error(err))
		generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}

	if resp.Message.Content == "" {
		c.logger.Warn("Ollama returned empty completion", zap.Duration("duration", duration))
		generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: empty completion", models.ErrGenerationFailed)
	}

	generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success"}).Inc()
	generationDuration.With(prometheus.Labels{"model": c.model}).Observe(duration.Seconds())
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		promptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.PromptEvalCount))
		completionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.EvalCount))
	}

	c.logger.Debug("Ollama completion received",
		zap.Duration("duration", duration),
		zap.Int("promptTokens", resp.PromptEvalCount),
		zap.Int("completionTokens", resp.EvalCount))

	return resp.Message.Content, nil
}

// --- OpenAI-compatible implementation ---

type openAIClient struct {
	client  *openaigo.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func (c *openAIClient) ModelName() string { return c.model }

// Load is cheap for a hosted backend: there are no local weights to fetch.
// A single milestone keeps the progress surface uniform across backends.
func (c *openAIClient) Load(ctx context.Context, progress ProgressFunc) error {
	if progress != nil {
		progress(ProgressUpdate{Stage: StageFetching, Percent: 100, Label: "remote model ready"})
	}
	return nil
}

func (c *openAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" && strings.TrimSpace(userPrompt) == "" {
		generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: empty prompt", models.ErrGenerationFailed)
	}

	messages := make([]openaigo.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	if userPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userPrompt,
		})
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(requestCtx, openaigo.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		// The chat API has no top_k / repeat_penalty knobs; temperature,
		// max tokens and top_p carry over.
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("OpenAI chat call failed", zap.Duration("duration", duration), zap.Error(err))
		generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Warn("OpenAI returned empty completion", zap.Duration("duration", duration))
		generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: empty completion", models.ErrGenerationFailed)
	}

	generationRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success"}).Inc()
	generationDuration.With(prometheus.Labels{"model": c.model}).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		promptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.Usage.PromptTokens))
		completionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.Usage.CompletionTokens))
	}

	return resp.Choices[0].Message.Content, nil
}
