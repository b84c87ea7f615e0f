package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fable-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// HistoryRepository archives completed segments. Writes are best-effort:
// gameplay never blocks on archival.
type HistoryRepository interface {
	AppendSegment(ctx context.Context, sessionID uuid.UUID, turnIndex int, seg models.StorySegment) error
	ListSegments(ctx context.Context, sessionID uuid.UUID) ([]models.StorySegment, error)
}

type pgHistoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgHistoryRepository(pool *pgxpool.Pool, logger *zap.Logger) HistoryRepository {
	return &pgHistoryRepository{
		pool:   pool,
		logger: logger.Named("PgHistoryRepository"),
	}
}

type segmentRow struct {
	ID          uuid.UUID `db:"id"`
	SessionID   uuid.UUID `db:"session_id"`
	TurnIndex   int       `db:"turn_index"`
	Text        string    `db:"text"`
	Environment []byte    `db:"environment"`
	Choices     []byte    `db:"choices"`
	Metadata    []byte    `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *pgHistoryRepository) AppendSegment(ctx context.Context, sessionID uuid.UUID, turnIndex int, seg models.StorySegment) error {
	environment, err := json.Marshal(seg.Environment)
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}
	choicesJSON, err := json.Marshal(seg.Choices)
	if err != nil {
		return fmt.Errorf("marshal choices: %w", err)
	}
	metadata, err := json.Marshal(seg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO story_segments (id, session_id, turn_index, text, environment, choices, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err = r.pool.Exec(ctx, query,
		seg.ID, sessionID, turnIndex, seg.Text, environment, choicesJSON, metadata, seg.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to append segment",
			zap.String("sessionID", sessionID.String()),
			zap.Int("turnIndex", turnIndex),
			zap.Error(err))
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (r *pgHistoryRepository) ListSegments(ctx context.Context, sessionID uuid.UUID) ([]models.StorySegment, error) {
	query := `
		SELECT id, session_id, turn_index, text, environment, choices, metadata, created_at
		FROM story_segments
		WHERE session_id = $1
		ORDER BY turn_index ASC`

	var rows []segmentRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, sessionID); err != nil {
		r.logger.Error("Failed to list segments",
			zap.String("sessionID", sessionID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("select segments: %w", err)
	}

	segments := make([]models.StorySegment, 0, len(rows))
	for _, row := range rows {
		seg := models.StorySegment{
			ID:        row.ID,
			Text:      row.Text,
			CreatedAt: row.CreatedAt,
		}
		if err := json.Unmarshal(row.Environment, &seg.Environment); err != nil {
			return nil, fmt.Errorf("unmarshal environment for segment %s: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.Choices, &seg.Choices); err != nil {
			return nil, fmt.Errorf("unmarshal choices for segment %s: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.Metadata, &seg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for segment %s: %w", row.ID, err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
