package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"chaptr/backend/internal/metrics"
	"chaptr/backend/internal/text"
)

// InstructionPrefix is prepended to every text before encoding, for passages and queries alike.
const InstructionPrefix = "Instruct: Given a book content, retrieve relevant passages that answer the query\nQuery: "

const (
	DefaultBatchSize = 16
	DefaultTopK      = 5
)

// Store embeds text and keeps per-book collections in a Backend.
type Store struct {
	encoder   Encoder
	backend   Backend
	counter   text.TokenCounter
	batchSize int
	metrics   *metrics.Metrics
	now       func() time.Time
}

type StoreOption func(*Store)

func WithBatchSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTokenCounter sets the counter used to enforce the encoder's input limit.
func WithTokenCounter(c text.TokenCounter) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.counter = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func NewStore(encoder Encoder, backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		encoder:   encoder,
		backend:   backend,
		counter:   text.HeuristicCounter{},
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelName returns the configured encoder's model, or "" when none is set.
func (s *Store) ModelName() string {
	if s.encoder == nil {
		return ""
	}
	return s.encoder.ModelName()
}

// Embed encodes texts in fixed-size batches and returns L2-normalized vectors
// in input order. Empty input yields no vectors and no error.
func (s *Store) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, texts, false)
}

// EmbedQuery is Embed for search queries. Encoders implementing QueryEncoder
// embed them in query mode.
func (s *Store) EmbedQuery(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, texts, true)
}

func (s *Store) embed(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if s.encoder == nil {
		return nil, fmt.Errorf("%w: no encoder configured", ErrEncodingFailure)
	}

	encode := s.encoder.Encode
	if qe, ok := s.encoder.(QueryEncoder); ok && query {
		encode = qe.EncodeQuery
	}

	dim := s.encoder.Dimension()
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		batch := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			batch = append(batch, InstructionPrefix+s.truncate(t))
		}

		began := time.Now()
		vecs, err := encode(ctx, batch)
		s.metrics.ObserveEmbedding(time.Since(began))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEncodingFailure, len(vecs), len(batch))
		}
		for _, v := range vecs {
			if dim > 0 && len(v) != dim {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
			}
			out = append(out, normalize(v))
		}
	}
	return out, nil
}

// truncate keeps the leading words of t that fit the encoder's input budget.
func (s *Store) truncate(t string) string {
	limit := s.encoder.MaxInputTokens()
	if limit <= 0 {
		return t
	}
	budget := limit - s.counter.CountTokens(InstructionPrefix)
	if budget <= 0 || s.counter.CountTokens(t) <= budget {
		return t
	}

	words := strings.Fields(t)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.counter.CountTokens(strings.Join(words[:mid], " ")) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}

// CollectionFor returns the book's collection, creating it on first use.
func (s *Store) CollectionFor(ctx context.Context, bookID int64) (CollectionInfo, error) {
	info := CollectionInfo{
		Name:      CollectionName(bookID),
		Model:     s.ModelName(),
		CreatedAt: s.now().UTC(),
	}
	if s.encoder != nil {
		info.Dimension = s.encoder.Dimension()
	}
	got, err := s.backend.EnsureCollection(ctx, bookID, info)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("%w: ensure collection %s: %v", ErrIndexUnavailable, info.Name, err)
	}
	return got, nil
}

// Index embeds texts and upserts them with their chunk ids and metadata into
// the book's collection. All three slices must have the same length.
func (s *Store) Index(ctx context.Context, bookID int64, chunkIDs []int64, texts []string, metas []Metadata) error {
	if len(chunkIDs) != len(texts) || len(metas) != len(texts) {
		return fmt.Errorf("index: %d ids, %d texts, %d metadata records", len(chunkIDs), len(texts), len(metas))
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := s.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) == 0 {
		return fmt.Errorf("%w: no vectors produced for %d texts", ErrEncodingFailure, len(texts))
	}

	if _, err := s.CollectionFor(ctx, bookID); err != nil {
		return err
	}

	records := make([]Record, len(texts))
	for i := range texts {
		meta := metas[i]
		meta.Version = MetadataVersion
		meta.BookID = bookID
		records[i] = Record{
			ChunkID:  chunkIDs[i],
			Content:  texts[i],
			Metadata: meta,
			Vector:   vecs[i],
		}
	}

	if err := s.backend.Upsert(ctx, bookID, records); err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrIndexUnavailable, err)
	}
	slog.DebugContext(ctx, "indexed chunks", "book_id", bookID, "count", len(records))
	return nil
}

// Search returns the topK chunks closest to query, most similar first. A book
// that has never been indexed yields no results and no error.
func (s *Store) Search(ctx context.Context, bookID int64, query string, topK int, filter Filter) ([]SearchResult, error) {
	began := time.Now()
	defer func() { s.metrics.ObserveSearch(time.Since(began)) }()

	if topK <= 0 {
		topK = DefaultTopK
	}

	exists, err := s.backend.CollectionExists(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if !exists {
		return nil, nil
	}

	vecs, err := s.EmbedQuery(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrEncodingFailure)
	}

	matches, err := s.backend.Query(ctx, bookID, vecs[0], topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			ChunkID:    m.ChunkID,
			Content:    m.Content,
			Metadata:   m.Metadata,
			Similarity: similarity(m.Distance),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results, nil
}

// DeleteCollection drops every vector of a book. Deleting a missing collection is not an error.
func (s *Store) DeleteCollection(ctx context.Context, bookID int64) error {
	if err := s.backend.DeleteCollection(ctx, bookID); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrIndexUnavailable, CollectionName(bookID), err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, bookID int64) (Stats, error) {
	exists, err := s.backend.CollectionExists(ctx, bookID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if !exists {
		return Stats{}, fmt.Errorf("%w: %s", ErrCollectionMissing, CollectionName(bookID))
	}

	info, err := s.backend.Describe(ctx, bookID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: describe: %v", ErrIndexUnavailable, err)
	}
	count, err := s.backend.Count(ctx, bookID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: count: %v", ErrIndexUnavailable, err)
	}
	return Stats{CollectionInfo: info, Count: count}, nil
}

// Ping checks the index backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// PingEncoder embeds a sample string to confirm the model answers.
func (s *Store) PingEncoder(ctx context.Context) error {
	vecs, err := s.Embed(ctx, []string{"health check"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return errors.New("encoder returned no vector for health check")
	}
	return nil
}

func similarity(distance float64) float64 {
	return math.Max(0, math.Min(1, 1-distance))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
