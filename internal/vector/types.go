package vector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MetadataVersion is stamped on every stored record so readers can detect older shapes.
const MetadataVersion = 1

var (
	ErrEncodingFailure   = errors.New("embedding model failure")
	ErrIndexUnavailable  = errors.New("vector index unavailable")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCollectionMissing = errors.New("collection not found")
)

// Metadata is the closed set of chunk attributes kept next to each vector.
type Metadata struct {
	Version       int      `json:"metadata_version"`
	BookID        int64    `json:"book_id"`
	ChunkIndex    int      `json:"chunk_index"`
	TokenCount    int      `json:"token_count"`
	ChapterTitle  string   `json:"chapter_title,omitempty"`
	ChapterNumber *int     `json:"chapter_number,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
}

// Record is one upsert unit. ChunkID is the storage-assigned chunk identifier.
type Record struct {
	ChunkID  int64
	Content  string
	Metadata Metadata
	Vector   []float32
}

// Match is a raw backend hit. Distance is cosine distance.
type Match struct {
	ChunkID  int64
	Content  string
	Metadata Metadata
	Distance float64
}

// SearchResult is a Match with distance converted to a similarity in [0, 1].
type SearchResult struct {
	ChunkID    int64    `json:"chunk_id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Similarity float64  `json:"similarity"`
}

// Filter restricts a query. A nil ChapterNumber matches every chapter.
type Filter struct {
	ChapterNumber *int
}

func (f Filter) Matches(m Metadata) bool {
	if f.ChapterNumber == nil {
		return true
	}
	return m.ChapterNumber != nil && *m.ChapterNumber == *f.ChapterNumber
}

// CollectionInfo describes a per-book collection.
type CollectionInfo struct {
	Name      string    `json:"collection_name"`
	Model     string    `json:"embedding_model"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	CollectionInfo
	Count int `json:"vector_count"`
}

func CollectionName(bookID int64) string {
	return fmt.Sprintf("book_%d", bookID)
}

// Encoder turns batches of text into fixed-dimension vectors.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	MaxInputTokens() int
	ModelName() string
}

// QueryEncoder is implemented by encoders that embed search queries
// differently from indexed passages.
type QueryEncoder interface {
	EncodeQuery(ctx context.Context, texts []string) ([][]float32, error)
}

// Backend is a nearest-neighbor index partitioned into one collection per book.
type Backend interface {
	EnsureCollection(ctx context.Context, bookID int64, info CollectionInfo) (CollectionInfo, error)
	CollectionExists(ctx context.Context, bookID int64) (bool, error)
	Describe(ctx context.Context, bookID int64) (CollectionInfo, error)
	Upsert(ctx context.Context, bookID int64, records []Record) error
	Query(ctx context.Context, bookID int64, vector []float32, topK int, filter Filter) ([]Match, error)
	Count(ctx context.Context, bookID int64) (int, error)
	DeleteCollection(ctx context.Context, bookID int64) error
	Ping(ctx context.Context) error
}
