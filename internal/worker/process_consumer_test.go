package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"chaptr/backend/internal/middleware"
	"chaptr/backend/internal/rag"
	"chaptr/backend/internal/worker"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func message(t *testing.T, p worker.ProcessBookPayload) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(p)
	assert.NoError(t, err)
	return &nsq.Message{Body: body}
}

func TestProcessConsumer_HandleMessage(t *testing.T) {
	t.Run("Inline Text", func(t *testing.T) {
		p := new(MockProcessor)
		l := new(MockTextLoader)
		consumer := worker.NewProcessConsumer(p, l, time.Minute)

		p.On("ProcessForRAG", mock.MatchedBy(func(ctx context.Context) bool {
			id, _ := middleware.GetBookID(ctx)
			_, hasDeadline := ctx.Deadline()
			return middleware.GetCorrelationID(ctx) == "corr-1" && id == 7 && hasDeadline
		}), int64(7), "Chapter 1\nText.").Return(rag.ProcessResult{Success: true, ChunkCount: 1}, nil)

		err := consumer.HandleMessage(message(t, worker.ProcessBookPayload{BookID: 7, Text: "Chapter 1\nText.", CorrelationID: "corr-1"}))
		assert.NoError(t, err)
		p.AssertExpectations(t)
		l.AssertNotCalled(t, "GetBookText", mock.Anything, mock.Anything)
	})

	t.Run("Loads Stored Text", func(t *testing.T) {
		p := new(MockProcessor)
		l := new(MockTextLoader)
		consumer := worker.NewProcessConsumer(p, l, 0)

		l.On("GetBookText", mock.Anything, int64(7)).Return("Stored text.", nil)
		p.On("ProcessForRAG", mock.Anything, int64(7), "Stored text.").Return(rag.ProcessResult{Success: true}, nil)

		err := consumer.HandleMessage(message(t, worker.ProcessBookPayload{BookID: 7}))
		assert.NoError(t, err)
		l.AssertExpectations(t)
		p.AssertExpectations(t)
	})

	t.Run("Text Load Failure Retries", func(t *testing.T) {
		p := new(MockProcessor)
		l := new(MockTextLoader)
		consumer := worker.NewProcessConsumer(p, l, time.Minute)

		l.On("GetBookText", mock.Anything, int64(7)).Return("", errors.New("connection refused"))

		err := consumer.HandleMessage(message(t, worker.ProcessBookPayload{BookID: 7}))
		assert.Error(t, err)
		p.AssertNotCalled(t, "ProcessForRAG", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Missing Book Is Dropped", func(t *testing.T) {
		p := new(MockProcessor)
		l := new(MockTextLoader)
		consumer := worker.NewProcessConsumer(p, l, time.Minute)

		l.On("GetBookText", mock.Anything, int64(7)).Return("", fmt.Errorf("book 7: %w", rag.ErrNotFound))

		assert.NoError(t, consumer.HandleMessage(message(t, worker.ProcessBookPayload{BookID: 7})))
	})
}

func TestProcessConsumer_ProcessingErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"Already Processing", rag.ErrAlreadyProcessing, false},
		{"Encoding Failure", fmt.Errorf("%w: model down", rag.ErrEncodingFailure), false},
		{"Empty Input", rag.ErrEmptyInput, false},
		{"Index Unavailable", errors.New("index chunks: connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProcessor)
			consumer := worker.NewProcessConsumer(p, new(MockTextLoader), time.Minute)
			p.On("ProcessForRAG", mock.Anything, int64(3), "text").Return(rag.ProcessResult{}, tt.err)

			err := consumer.HandleMessage(message(t, worker.ProcessBookPayload{BookID: 3, Text: "text"}))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessConsumer_PoisonPill(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewProcessConsumer(p, new(MockTextLoader), time.Minute)

	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte(`{"text":"no id"}`)}))
	assert.NoError(t, consumer.HandleMessage(&nsq.Message{}))
	p.AssertNotCalled(t, "ProcessForRAG", mock.Anything, mock.Anything, mock.Anything)
}
