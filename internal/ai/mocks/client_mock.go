package mocks

import (
	"context"

	"fable-server/internal/ai"

	"github.com/stretchr/testify/mock"
)

// MockClient is a hand-written testify mock for ai.Client.
type MockClient struct {
	mock.Mock
}

func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockClient) Load(ctx context.Context, progress ai.ProgressFunc) error {
	args := m.Called(ctx, progress)
	return args.Error(0)
}

func (m *MockClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params ai.GenerationParams) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt, params)
	return args.String(0), args.Error(1)
}

func (m *MockClient) ModelName() string {
	args := m.Called()
	return args.String(0)
}
