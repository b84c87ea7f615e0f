// Package handler exposes the narrative engine over HTTP.
package handler

import (
	"errors"
	"net/http"
	"time"

	"fable-server/internal/ai"
	"fable-server/internal/models"
	"fable-server/internal/narrative"
	"fable-server/internal/repository"
	"fable-server/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StoryHandler serves session lifecycle and turn generation endpoints.
type StoryHandler struct {
	engine         narrative.Engine
	session        *ai.Session
	states         repository.StateRepository
	history        repository.HistoryRepository // nil when persistence is disabled
	loadAttempts   int
	loadRetryDelay time.Duration
	logger         *zap.Logger
}

func NewStoryHandler(
	engine narrative.Engine,
	session *ai.Session,
	states repository.StateRepository,
	history repository.HistoryRepository,
	loadAttempts int,
	loadRetryDelay time.Duration,
	logger *zap.Logger,
) *StoryHandler {
	return &StoryHandler{
		engine:         engine,
		session:        session,
		states:         states,
		history:        history,
		loadAttempts:   loadAttempts,
		loadRetryDelay: loadRetryDelay,
		logger:         logger.Named("StoryHandler"),
	}
}

func (h *StoryHandler) RegisterRoutes(router *gin.Engine, hub *ws.Hub) {
	api := router.Group("/api")
	{
		api.POST("/sessions", h.CreateSession)
		api.POST("/sessions/:id/next", h.NextSegment)
		api.GET("/sessions/:id/history", h.GetHistory)
		api.DELETE("/sessions/:id", h.ResetSession)
		api.POST("/model/warmup", h.WarmupModel)
	}
	router.GET("/ws/progress", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})
	router.GET("/health", h.Health)
}

type nextSegmentRequest struct {
	CurrentSegment models.StorySegment `json:"current_segment" binding:"required"`
	Choice         models.Choice       `json:"choice" binding:"required"`
}

type segmentResponse struct {
	SessionID            uuid.UUID           `json:"session_id"`
	Segment              models.StorySegment `json:"segment"`
	StorySummary         string              `json:"story_summary"`
	SegmentsSinceRefresh int                 `json:"segments_since_refresh"`
}

// CreateSession starts a new story. The opening segment is total: it falls
// back to fixed content rather than failing.
func (h *StoryHandler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()

	state := models.NewSessionState()
	segment := h.engine.GenerateInitial(ctx, state)

	h.persistState(c, state)
	h.archiveSegment(c, state, segment)

	c.JSON(http.StatusCreated, segmentResponse{
		SessionID:            state.ID,
		Segment:              segment,
		StorySummary:         state.StorySummary,
		SegmentsSinceRefresh: state.SegmentsSinceRefresh,
	})
}

// NextSegment advances one turn. The client supplies the segment it is on
// and the choice taken; only the summary and refresh counter live
// server-side.
func (h *StoryHandler) NextSegment(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	var req nextSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	state, err := h.states.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		// Persistence problems degrade to in-memory defaults.
		h.logger.Warn("Failed to load session state, proceeding with defaults",
			zap.String("sessionID", sessionID.String()),
			zap.Error(err))
		state = models.NewSessionState()
		state.ID = sessionID
	}

	segment := h.engine.GenerateNext(ctx, state, req.CurrentSegment, req.Choice)

	h.persistState(c, state)
	h.archiveSegment(c, state, segment)

	c.JSON(http.StatusOK, segmentResponse{
		SessionID:            state.ID,
		Segment:              segment,
		StorySummary:         state.StorySummary,
		SegmentsSinceRefresh: state.SegmentsSinceRefresh,
	})
}

func (h *StoryHandler) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "history persistence is disabled"})
		return
	}

	segments, err := h.history.ListSegments(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "segments": segments})
}

func (h *StoryHandler) ResetSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := h.states.Delete(c.Request.Context(), sessionID); err != nil {
		h.logger.Warn("Failed to delete session state",
			zap.String("sessionID", sessionID.String()),
			zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// WarmupModel loads the model with a bounded retry budget. Only a total,
// repeated load failure is surfaced to the client.
func (h *StoryHandler) WarmupModel(c *gin.Context) {
	ctx := c.Request.Context()

	var lastErr error
	for attempt := 1; attempt <= h.loadAttempts; attempt++ {
		lastErr = h.session.EnsureReady(ctx)
		if lastErr == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		h.logger.Warn("Model load attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", h.loadAttempts),
			zap.Error(lastErr))
		if attempt < h.loadAttempts {
			select {
			case <-time.After(h.loadRetryDelay):
			case <-ctx.Done():
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "warmup cancelled"})
				return
			}
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "model failed to load after retries: " + lastErr.Error(),
	})
}

func (h *StoryHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"model_ready": h.session.Ready(),
	})
}

func (h *StoryHandler) persistState(c *gin.Context, state *models.SessionState) {
	if err := h.states.Save(c.Request.Context(), state); err != nil {
		h.logger.Warn("Failed to persist session state",
			zap.String("sessionID", state.ID.String()),
			zap.Error(err))
	}
}

func (h *StoryHandler) archiveSegment(c *gin.Context, state *models.SessionState, segment models.StorySegment) {
	if h.history == nil {
		return
	}
	turnIndex := state.TurnCount - 1
	if err := h.history.AppendSegment(c.Request.Context(), state.ID, turnIndex, segment); err != nil {
		h.logger.Warn("Failed to archive segment",
			zap.String("sessionID", state.ID.String()),
			zap.Int("turnIndex", turnIndex),
			zap.Error(err))
	}
}
