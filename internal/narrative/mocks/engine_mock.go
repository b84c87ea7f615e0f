package mocks

import (
	"context"

	"fable-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockEngine is a hand-written testify mock for narrative.Engine.
type MockEngine struct {
	mock.Mock
}

func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockEngine) GenerateInitial(ctx context.Context, state *models.SessionState) models.StorySegment {
	args := m.Called(ctx, state)
	return args.Get(0).(models.StorySegment)
}

func (m *MockEngine) GenerateNext(ctx context.Context, state *models.SessionState, current models.StorySegment, choice models.Choice) models.StorySegment {
	args := m.Called(ctx, state, current, choice)
	return args.Get(0).(models.StorySegment)
}
