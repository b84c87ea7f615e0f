package repository

import (
	"context"
	"sync"

	"fable-server/internal/models"

	"github.com/google/uuid"
)

type memoryStateRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.SessionState
}

// NewMemoryStateRepository keeps session state in process memory. Used when
// no Redis address is configured; state does not survive a restart.
func NewMemoryStateRepository() StateRepository {
	return &memoryStateRepository{
		sessions: make(map[uuid.UUID]*models.SessionState),
	}
}

func (r *memoryStateRepository) Save(_ context.Context, state *models.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *state
	r.sessions[state.ID] = &copied
	return nil
}

func (r *memoryStateRepository) Load(_ context.Context, id uuid.UUID) (*models.SessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	copied := *state
	return &copied, nil
}

func (r *memoryStateRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}
