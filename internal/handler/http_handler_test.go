package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fable-server/internal/ai"
	aimocks "fable-server/internal/ai/mocks"
	"fable-server/internal/handler"
	"fable-server/internal/models"
	enginemocks "fable-server/internal/narrative/mocks"
	"fable-server/internal/repository"
	"fable-server/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handlerFixture struct {
	engine *enginemocks.MockEngine
	client *aimocks.MockClient
	states repository.StateRepository
	router *gin.Engine
}

func newFixture(t *testing.T) *handlerFixture {
	engine := enginemocks.NewMockEngine(t)
	client := aimocks.NewMockClient(t)
	client.On("ModelName").Return("test-model").Maybe()
	session := ai.NewSession(client, 0, nil, zap.NewNop())
	states := repository.NewMemoryStateRepository()

	h := handler.NewStoryHandler(engine, session, states, nil, 2, time.Millisecond, zap.NewNop())

	hub := ws.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := gin.New()
	h.RegisterRoutes(router, hub)

	return &handlerFixture{engine: engine, client: client, states: states, router: router}
}

func testSegment(text string) models.StorySegment {
	return models.StorySegment{
		ID:   uuid.New(),
		Text: text,
		Environment: models.EnvironmentDescription{
			BaseEnvironment: models.EnvironmentForest,
		},
		Choices: [models.ChoicesPerSegment]models.Choice{
			{Text: "Explore further", Consequence: "You press on."},
			{Text: "Stay cautious", Consequence: "You hold back."},
		},
		Metadata:  models.StoryMetadata{Location: "forest"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	seg := testSegment("The forest opens before you.")
	f.engine.On("GenerateInitial", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			state := args.Get(1).(*models.SessionState)
			state.SetSummary(seg.Text)
			state.AppendSegment(seg)
		}).
		Return(seg).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		SessionID uuid.UUID           `json:"session_id"`
		Segment   models.StorySegment `json:"segment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.SessionID)
	assert.Equal(t, "The forest opens before you.", resp.Segment.Text)

	// State must be retrievable for the next turn.
	_, err := f.states.Load(context.Background(), resp.SessionID)
	assert.NoError(t, err)
}

func TestNextSegment(t *testing.T) {
	current := testSegment("Tall pines close in.")
	body := func() *bytes.Buffer {
		payload, _ := json.Marshal(map[string]interface{}{
			"current_segment": current,
			"choice":          current.Choices[0],
		})
		return bytes.NewBuffer(payload)
	}

	t.Run("Advances an existing session", func(t *testing.T) {
		f := newFixture(t)
		state := models.NewSessionState()
		state.SetSummary("The hero entered the forest.")
		require.NoError(t, f.states.Save(context.Background(), state))

		next := testSegment("The path winds deeper.")
		f.engine.On("GenerateNext", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(1).(*models.SessionState).AppendSegment(next)
			}).
			Return(next).Once()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+state.ID.String()+"/next", body())
		req.Header.Set("Content-Type", "application/json")
		f.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Segment models.StorySegment `json:"segment"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "The path winds deeper.", resp.Segment.Text)
	})

	t.Run("Unknown session returns 404", func(t *testing.T) {
		f := newFixture(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+uuid.NewString()+"/next", body())
		req.Header.Set("Content-Type", "application/json")
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Malformed body returns 400", func(t *testing.T) {
		f := newFixture(t)
		state := models.NewSessionState()
		require.NoError(t, f.states.Save(context.Background(), state))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+state.ID.String()+"/next",
			bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid session id returns 400", func(t *testing.T) {
		f := newFixture(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/not-a-uuid/next", body())
		req.Header.Set("Content-Type", "application/json")
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWarmupModel(t *testing.T) {
	t.Run("Ready after successful load", func(t *testing.T) {
		f := newFixture(t)
		f.client.On("Load", mock.Anything, mock.Anything).Return(nil).Once()
		f.client.On("Complete", mock.Anything, "", mock.Anything, mock.Anything).
			Return("OK", nil).Once()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/model/warmup", nil)
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ready")
	})

	t.Run("Exhausted retries return 503", func(t *testing.T) {
		f := newFixture(t)
		f.client.On("Load", mock.Anything, mock.Anything).
			Return(models.ErrModelLoadFailed).Times(2)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/model/warmup", nil)
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_ready":false`)
}

func TestResetSession(t *testing.T) {
	f := newFixture(t)
	state := models.NewSessionState()
	require.NoError(t, f.states.Save(context.Background(), state))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+state.ID.String(), nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := f.states.Load(context.Background(), state.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
