package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration for the fable server.
type Config struct {
	// Server settings
	Port     string `envconfig:"FABLE_SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"ENV" default:"development"`

	// AI backend settings
	AIClientType     string        `envconfig:"AI_CLIENT_TYPE" default:"ollama"`
	AIBaseURL        string        `envconfig:"AI_BASE_URL" default:"http://localhost:11434"`
	AIModel          string        `envconfig:"AI_MODEL" default:"qwen2.5:1.5b"`
	AIAPIKey         string        `envconfig:"AI_API_KEY" default:""`
	AITimeout        time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AILoadAttempts   int           `envconfig:"AI_LOAD_ATTEMPTS" default:"3"`
	AILoadRetryDelay time.Duration `envconfig:"AI_LOAD_RETRY_DELAY" default:"2s"`
	// Token budget for a single prompt; prompts are trimmed before the
	// backend call when the estimate exceeds it.
	AIPromptTokenBudget int `envconfig:"AI_PROMPT_TOKEN_BUDGET" default:"2048"`

	// Redis settings (persisted session state)
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// PostgreSQL settings (segment history)
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword    string        `envconfig:"DB_PASSWORD" default:""`
	DBName        string        `envconfig:"DB_NAME" default:"fable_db"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Segment history is best-effort; with persistence disabled the session
	// lives purely in memory.
	HistoryPersistenceEnabled bool `envconfig:"HISTORY_PERSISTENCE_ENABLED" default:"false"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Printf("Configuration loaded:")
	log.Printf("  Port: %s", cfg.Port)
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  AI Client Type: %s", cfg.AIClientType)
	log.Printf("  AI Base URL: %s", cfg.AIBaseURL)
	log.Printf("  AI Model: %s", cfg.AIModel)
	log.Printf("  AI Timeout: %v", cfg.AITimeout)
	log.Printf("  AI Load Attempts: %d", cfg.AILoadAttempts)
	log.Printf("  AI Prompt Token Budget: %d", cfg.AIPromptTokenBudget)
	log.Printf("  Redis Addr: %s", cfg.RedisAddr)
	log.Printf("  History Persistence: %v", cfg.HistoryPersistenceEnabled)
	if cfg.HistoryPersistenceEnabled {
		log.Printf("  DB DSN: postgres://%s:***@%s:%s/%s?sslmode=%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
	}

	return &cfg, nil
}
