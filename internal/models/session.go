package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SummaryMaxLength bounds the running summary. The summary is truncated
// from the tail when an update would exceed it, keeping prompt size bounded
// over an indefinitely long session.
const SummaryMaxLength = 1200

// SessionState is the mutable narrative state of one story session.
// It is owned and mutated exclusively by the narrative engine; every turn
// takes the current state and returns the next one.
type SessionState struct {
	ID                   uuid.UUID      `json:"id"`
	StorySummary         string         `json:"story_summary"`
	SegmentsSinceRefresh int            `json:"segments_since_refresh"`
	TurnCount            int            `json:"turn_count"`
	History              []StorySegment `json:"history"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewSessionState creates an empty session.
func NewSessionState() *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastSegment returns the most recent segment, or nil for a fresh session.
func (s *SessionState) LastSegment() *StorySegment {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// AppendSegment records a completed turn. TurnCount tracks the absolute
// turn number even when History is not restored across restarts.
func (s *SessionState) AppendSegment(seg StorySegment) {
	s.History = append(s.History, seg)
	s.TurnCount++
	s.UpdatedAt = time.Now().UTC()
}

// SetSummary replaces the running summary, enforcing the length cap by
// truncating from the tail.
func (s *SessionState) SetSummary(summary string) {
	if utf8.RuneCountInString(summary) > SummaryMaxLength {
		runes := []rune(summary)
		summary = string(runes[:SummaryMaxLength])
	}
	s.StorySummary = summary
	s.UpdatedAt = time.Now().UTC()
}
