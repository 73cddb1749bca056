package rag

import (
	"context"
	"time"

	"chaptr/backend/internal/text"
	"chaptr/backend/internal/vector"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Book is the slice of the book record the pipeline reads.
type Book struct {
	ID              int64
	Title           string
	Author          string
	Status          Status
	ProcessingError string
	IsEmbedded      bool
	EmbeddingModel  string
	ChunkCount      int
}

// Storage persists books and their chunks.
type Storage interface {
	GetBook(ctx context.Context, id int64) (*Book, error)
	// ClaimProcessing atomically moves a pending or failed, not yet embedded
	// book to processing. It reports false when another run owns the book.
	ClaimProcessing(ctx context.Context, id int64) (bool, error)
	// SaveChunks replaces the book's chunks and returns their ids in input order.
	SaveChunks(ctx context.Context, bookID int64, chunks []text.Chunk) ([]int64, error)
	SetBookStatus(ctx context.Context, id int64, status Status, errMsg string) error
	MarkEmbedded(ctx context.Context, id int64, model string, chunkCount int) error
	// ResetEmbedding deletes the chunks and returns the book to pending.
	ResetEmbedding(ctx context.Context, id int64) error
}

// Generator completes a prompt. It may be slow or unavailable.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

type Chunker interface {
	ChunkByChapters(text string) []text.Chunk
}

// VectorStore is the embedding and similarity-search surface the pipeline uses.
type VectorStore interface {
	Index(ctx context.Context, bookID int64, chunkIDs []int64, texts []string, metas []vector.Metadata) error
	Search(ctx context.Context, bookID int64, query string, topK int, filter vector.Filter) ([]vector.SearchResult, error)
	DeleteCollection(ctx context.Context, bookID int64) error
	Stats(ctx context.Context, bookID int64) (vector.Stats, error)
	ModelName() string
	Ping(ctx context.Context) error
	PingEncoder(ctx context.Context) error
}

type ProcessResult struct {
	Success          bool      `json:"success"`
	BookID           int64     `json:"book_id"`
	ChunkCount       int       `json:"chunk_count"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`
	TotalTokens      int       `json:"total_tokens"`
	ChaptersDetected int       `json:"chapters_detected"`
	AlreadyEmbedded  bool      `json:"already_embedded,omitempty"`
	ProcessedAt      time.Time `json:"processed_at"`
	Error            string    `json:"error,omitempty"`
}

// Turn is one message of prior conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	BookID  int64
	Query   string
	History []Turn
	TopK    int
}

type ChatResponse struct {
	Success       bool                  `json:"success"`
	Response      string                `json:"response"`
	Error         string                `json:"error,omitempty"`
	ContextChunks []vector.SearchResult `json:"context_chunks"`
	SearchResults int                   `json:"search_results"`
	BookID        int64                 `json:"book_id"`
	BookTitle     string                `json:"book_title,omitempty"`
	Model         string                `json:"model,omitempty"`
}

type SummaryResponse struct {
	Success        bool   `json:"success"`
	Summary        string `json:"summary,omitempty"`
	Error          string `json:"error,omitempty"`
	BookTitle      string `json:"book_title,omitempty"`
	ChunksAnalyzed int    `json:"chunks_analyzed"`
}

// Component health values.
const (
	Healthy       = "healthy"
	Unhealthy     = "unhealthy"
	NotConfigured = "not_configured"
)

type HealthReport struct {
	Chunker    string    `json:"chunker"`
	Embedding  string    `json:"embedding_service"`
	Index      string    `json:"vector_index"`
	Generation string    `json:"generation_model"`
	Timestamp  time.Time `json:"timestamp"`
}

// OK reports whether retrieval works. Generation may be unconfigured.
func (h HealthReport) OK() bool {
	return h.Chunker == Healthy && h.Embedding == Healthy && h.Index == Healthy && h.Generation != Unhealthy
}
