package repository_test

import (
	"context"
	"testing"

	"fable-server/internal/models"
	"fable-server/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryStateRepository()

	t.Run("Load of unknown session fails with not-found", func(t *testing.T) {
		_, err := repo.Load(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("Save then load round-trips summary and counters", func(t *testing.T) {
		state := models.NewSessionState()
		state.SetSummary("The hero crossed the river.")
		state.SegmentsSinceRefresh = 2
		state.TurnCount = 5
		require.NoError(t, repo.Save(ctx, state))

		loaded, err := repo.Load(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, "The hero crossed the river.", loaded.StorySummary)
		assert.Equal(t, 2, loaded.SegmentsSinceRefresh)
		assert.Equal(t, 5, loaded.TurnCount)
	})

	t.Run("Loaded state is a copy", func(t *testing.T) {
		state := models.NewSessionState()
		state.SetSummary("original")
		require.NoError(t, repo.Save(ctx, state))

		loaded, err := repo.Load(ctx, state.ID)
		require.NoError(t, err)
		loaded.SetSummary("mutated")

		reloaded, err := repo.Load(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, "original", reloaded.StorySummary)
	})

	t.Run("Delete removes the session", func(t *testing.T) {
		state := models.NewSessionState()
		require.NoError(t, repo.Save(ctx, state))
		require.NoError(t, repo.Delete(ctx, state.ID))

		_, err := repo.Load(ctx, state.ID)
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})
}
