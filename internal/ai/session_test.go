package ai_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fable-server/internal/ai"
	"fable-server/internal/ai/mocks"
	"fable-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestSession_EnsureReady(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).Return(nil).Once()
		client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("OK", nil).Once()

		var updates []ai.ProgressUpdate
		var mu sync.Mutex
		session := ai.NewSession(client, 0, func(u ai.ProgressUpdate) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		}, zap.NewNop())

		err := session.EnsureReady(ctx)

		assert.NoError(t, err)
		assert.True(t, session.Ready())
		mu.Lock()
		defer mu.Unlock()
		assert.GreaterOrEqual(t, len(updates), 3)
		assert.Equal(t, ai.StageFetching, updates[0].Stage)
		last := updates[len(updates)-1]
		assert.Equal(t, ai.StageReady, last.Stage)
		assert.Equal(t, 100, last.Percent)
	})

	t.Run("Idempotent after success", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).Return(nil).Once()
		client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("OK", nil).Once()

		session := ai.NewSession(client, 0, nil, zap.NewNop())

		assert.NoError(t, session.EnsureReady(ctx))
		// Second call must not trigger another load.
		assert.NoError(t, session.EnsureReady(ctx))
	})

	t.Run("Fetch failure is not cached", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).
			Return(errors.New("registry unreachable")).Once()
		client.On("Load", mock.Anything, mock.Anything).Return(nil).Once()
		client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("OK", nil).Once()

		session := ai.NewSession(client, 0, nil, zap.NewNop())

		err := session.EnsureReady(ctx)
		assert.Error(t, err)
		assert.False(t, session.Ready())

		// The next caller retries and succeeds.
		assert.NoError(t, session.EnsureReady(ctx))
		assert.True(t, session.Ready())
	})

	t.Run("Empty self-test output fails the load", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).Return(nil).Once()
		client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("   ", nil).Once()

		session := ai.NewSession(client, 0, nil, zap.NewNop())

		err := session.EnsureReady(ctx)
		assert.ErrorIs(t, err, models.ErrModelLoadFailed)
		assert.False(t, session.Ready())
	})

	t.Run("Concurrent callers share one load", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
			Return(nil).Once()
		client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("OK", nil).Once()

		session := ai.NewSession(client, 0, nil, zap.NewNop())

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = session.EnsureReady(ctx)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.True(t, session.Ready())
	})
}

func TestSession_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("Loads before generating", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).Return(nil).Once()
		client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("OK", nil).Once()
		client.On("Complete", mock.Anything, "You are a narrator.", "Continue the story.", mock.Anything).
			Return("The fog thickens around you.", nil).Once()

		session := ai.NewSession(client, 0, nil, zap.NewNop())

		text, err := session.Complete(ctx, "You are a narrator.", "Continue the story.", ai.ContinuationParams)

		assert.NoError(t, err)
		assert.Equal(t, "The fog thickens around you.", text)
	})

	t.Run("Load failure surfaces to the caller", func(t *testing.T) {
		client := mocks.NewMockClient(t)
		client.On("ModelName").Return("test-model").Maybe()
		client.On("Load", mock.Anything, mock.Anything).
			Return(models.ErrModelLoadFailed).Once()

		session := ai.NewSession(client, 0, nil, zap.NewNop())

		_, err := session.Complete(ctx, "sys", "user", ai.ContinuationParams)
		assert.ErrorIs(t, err, models.ErrModelLoadFailed)
	})
}
