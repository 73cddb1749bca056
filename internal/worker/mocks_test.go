package worker_test

import (
	"context"

	"chaptr/backend/internal/rag"

	"github.com/stretchr/testify/mock"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessForRAG(ctx context.Context, bookID int64, text string) (rag.ProcessResult, error) {
	args := m.Called(ctx, bookID, text)
	return args.Get(0).(rag.ProcessResult), args.Error(1)
}

type MockTextLoader struct {
	mock.Mock
}

func (m *MockTextLoader) GetBookText(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}
