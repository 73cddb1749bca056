package rag

import (
	"context"
	"strings"
	"sync"

	"chaptr/backend/internal/text"
	"chaptr/backend/internal/vector"

	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetBook(ctx context.Context, id int64) (*Book, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Book), args.Error(1)
}

func (m *MockStorage) ClaimProcessing(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) SaveChunks(ctx context.Context, bookID int64, chunks []text.Chunk) ([]int64, error) {
	args := m.Called(ctx, bookID, chunks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockStorage) SetBookStatus(ctx context.Context, id int64, status Status, errMsg string) error {
	return m.Called(ctx, id, status, errMsg).Error(0)
}

func (m *MockStorage) MarkEmbedded(ctx context.Context, id int64, model string, chunkCount int) error {
	return m.Called(ctx, id, model, chunkCount).Error(0)
}

func (m *MockStorage) ResetEmbedding(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockGenerator) ModelName() string { return "mock-llm" }

// memStorage is an in-memory Storage with an atomic processing claim.
type memStorage struct {
	mu     sync.Mutex
	books  map[int64]*Book
	chunks map[int64][]text.Chunk
	nextID int64
	saves  int
}

func newMemStorage(books ...Book) *memStorage {
	s := &memStorage{books: make(map[int64]*Book), chunks: make(map[int64][]text.Chunk)}
	for i := range books {
		b := books[i]
		if b.Status == "" {
			b.Status = StatusPending
		}
		s.books[b.ID] = &b
	}
	return s
}

func (s *memStorage) GetBook(_ context.Context, id int64) (*Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStorage) ClaimProcessing(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.IsEmbedded || (b.Status != StatusPending && b.Status != StatusFailed) {
		return false, nil
	}
	b.Status = StatusProcessing
	return true, nil
}

func (s *memStorage) SaveChunks(_ context.Context, bookID int64, chunks []text.Chunk) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.chunks[bookID] = chunks
	ids := make([]int64, len(chunks))
	for i := range chunks {
		s.nextID++
		ids[i] = s.nextID
	}
	return ids, nil
}

func (s *memStorage) SetBookStatus(_ context.Context, id int64, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[id].Status = status
	s.books[id].ProcessingError = errMsg
	return nil
}

func (s *memStorage) MarkEmbedded(_ context.Context, id int64, model string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.books[id]
	b.IsEmbedded = true
	b.EmbeddingModel = model
	b.ChunkCount = chunkCount
	b.Status = StatusCompleted
	b.ProcessingError = ""
	return nil
}

func (s *memStorage) ResetEmbedding(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, id)
	b := s.books[id]
	b.IsEmbedded = false
	b.EmbeddingModel = ""
	b.ChunkCount = 0
	b.Status = StatusPending
	return nil
}

func (s *memStorage) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// bagEncoder maps text to word counts over a fixed vocabulary.
// A non-nil gate blocks Encode until it is closed or ctx ends; started
// receives a signal as each blocked call begins.
type bagEncoder struct {
	mu      sync.Mutex
	vocab   []string
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (e *bagEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if e.gate != nil {
		select {
		case e.started <- struct{}{}:
		default:
		}
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(e.vocab))
		for _, w := range strings.Fields(strings.ToLower(strings.TrimPrefix(t, vector.InstructionPrefix))) {
			w = strings.Trim(w, ".,!?:")
			for j, term := range e.vocab {
				if w == term {
					v[j]++
				}
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *bagEncoder) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *bagEncoder) Dimension() int      { return len(e.vocab) }
func (e *bagEncoder) MaxInputTokens() int { return 0 }
func (e *bagEncoder) ModelName() string   { return "bag-of-words" }
