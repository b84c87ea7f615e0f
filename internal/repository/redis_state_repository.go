package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fable-server/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sessionKeyPrefix = "fable:session:"
	sessionTTL       = 24 * time.Hour
)

type redisStateRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStateRepository stores session state in a Redis hash per session,
// with a sliding TTL so abandoned sessions expire on their own.
func NewRedisStateRepository(client *redis.Client, logger *zap.Logger) StateRepository {
	return &redisStateRepository{
		client: client,
		logger: logger.Named("RedisStateRepository"),
	}
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func (r *redisStateRepository) Save(ctx context.Context, state *models.SessionState) error {
	key := sessionKey(state.ID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key,
		fieldStorySummary, state.StorySummary,
		fieldSegmentsSinceRefresh, state.SegmentsSinceRefresh,
		fieldTurnCount, state.TurnCount,
	)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to save session state",
			zap.String("sessionID", state.ID.String()),
			zap.Error(err))
		return fmt.Errorf("redis save session %s: %w", state.ID, err)
	}
	return nil
}

func (r *redisStateRepository) Load(ctx context.Context, id uuid.UUID) (*models.SessionState, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		r.logger.Error("Failed to load session state",
			zap.String("sessionID", id.String()),
			zap.Error(err))
		return nil, fmt.Errorf("redis load session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, models.ErrSessionNotFound
	}

	counter, err := strconv.Atoi(fields[fieldSegmentsSinceRefresh])
	if err != nil {
		r.logger.Warn("Stored refresh counter is not a number, resetting to 0",
			zap.String("sessionID", id.String()),
			zap.String("value", fields[fieldSegmentsSinceRefresh]))
		counter = 0
	}

	turnCount, err := strconv.Atoi(fields[fieldTurnCount])
	if err != nil {
		turnCount = 0
	}

	state := models.NewSessionState()
	state.ID = id
	state.StorySummary = fields[fieldStorySummary]
	state.SegmentsSinceRefresh = counter
	state.TurnCount = turnCount
	return state, nil
}

func (r *redisStateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		r.logger.Error("Failed to delete session state",
			zap.String("sessionID", id.String()),
			zap.Error(err))
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}
