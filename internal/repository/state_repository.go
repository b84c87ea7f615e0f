// Package repository persists narrative session state. The summary and
// refresh counter survive restarts; everything else is rebuilt per turn.
package repository

import (
	"context"

	"fable-server/internal/models"

	"github.com/google/uuid"
)

// Fixed field keys for persisted narrative state.
const (
	fieldStorySummary         = "storySummary"
	fieldSegmentsSinceRefresh = "segmentsSinceRefresh"
	fieldTurnCount            = "turnCount"
)

// StateRepository stores the per-session narrative state. Callers treat
// persistence failures as non-fatal: a session proceeds with in-memory
// defaults when a load or save fails.
type StateRepository interface {
	// Save persists the session's summary and refresh counter.
	Save(ctx context.Context, state *models.SessionState) error
	// Load restores a session, returning models.ErrSessionNotFound when
	// nothing is stored under the id.
	Load(ctx context.Context, id uuid.UUID) (*models.SessionState, error)
	// Delete discards a session on explicit reset.
	Delete(ctx context.Context, id uuid.UUID) error
}
