package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"chaptr/backend/internal/lock"
	"chaptr/backend/internal/metrics"
	"chaptr/backend/internal/middleware"
	"chaptr/backend/internal/retrieval"
	"chaptr/backend/internal/text"
	"chaptr/backend/internal/vector"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultSearchTopK     = 5
	DefaultSummaryTopK    = 10
	DefaultProcessTimeout = 30 * time.Minute
)

type Config struct {
	SearchTopK  int
	SummaryTopK int
	// ProcessTimeout bounds a processing run independently of its callers.
	ProcessTimeout time.Duration
}

// Deps are the collaborators of the pipeline. Generator may be nil, in which
// case chat and summary report generation as unavailable.
type Deps struct {
	Storage   Storage
	Chunker   Chunker
	Store     VectorStore
	Generator Generator
	Locker    lock.Locker
	Metrics   *metrics.Metrics
	QueryLog  *retrieval.QueryLogger
}

// Service drives chunking, embedding, retrieval and generation for books.
type Service struct {
	storage   Storage
	chunker   Chunker
	store     VectorStore
	generator Generator
	locker    lock.Locker
	metrics   *metrics.Metrics
	queryLog  *retrieval.QueryLogger
	cfg       Config
	inflight  singleflight.Group
	now       func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.SearchTopK <= 0 {
		cfg.SearchTopK = DefaultSearchTopK
	}
	if cfg.SummaryTopK <= 0 {
		cfg.SummaryTopK = DefaultSummaryTopK
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	s := &Service{
		storage:   d.Storage,
		chunker:   d.Chunker,
		store:     d.Store,
		generator: d.Generator,
		locker:    d.Locker,
		metrics:   d.Metrics,
		queryLog:  d.QueryLog,
		cfg:       cfg,
		now:       time.Now,
	}
	if s.chunker == nil {
		s.chunker = text.NewChunker(nil)
	}
	if s.locker == nil {
		s.locker = lock.NewMemoryLocker()
	}
	return s
}

func lockKey(bookID int64) string {
	return "book:" + strconv.FormatInt(bookID, 10)
}

// ProcessForRAG chunks, persists, embeds and indexes a book's text. Calls for
// a book that is already embedded return the recorded result. Concurrent calls
// for the same book in this process share one run; across processes the
// second caller gets ErrAlreadyProcessing.
//
// The run is detached from the callers' cancellation and bounded by the
// configured process timeout. A caller whose ctx ends stops waiting, but the
// run continues for the callers still joined to it.
func (s *Service) ProcessForRAG(ctx context.Context, bookID int64, bookText string) (ProcessResult, error) {
	if strings.TrimSpace(bookText) == "" {
		return ProcessResult{BookID: bookID, Error: ErrEmptyInput.Error()}, ErrEmptyInput
	}

	ch := s.inflight.DoChan(lockKey(bookID), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProcessTimeout)
		defer cancel()
		return s.process(runCtx, bookID, bookText)
	})

	select {
	case r := <-ch:
		if r.Shared {
			slog.DebugContext(ctx, "joined in-flight processing run", "book_id", bookID)
		}
		return r.Val.(ProcessResult), r.Err
	case <-ctx.Done():
		slog.WarnContext(ctx, "stopped waiting for processing run", "book_id", bookID, "error", ctx.Err())
		return ProcessResult{BookID: bookID, Error: ctx.Err().Error()}, ctx.Err()
	}
}

func (s *Service) process(ctx context.Context, bookID int64, bookText string) (ProcessResult, error) {
	ctx = middleware.WithBookID(ctx, bookID)
	res := ProcessResult{BookID: bookID}
	fail := func(err error) (ProcessResult, error) {
		res.Success = false
		res.Error = err.Error()
		return res, err
	}

	unlock, ok, err := s.locker.TryLock(ctx, lockKey(bookID))
	if err != nil {
		return fail(fmt.Errorf("acquire processing lock: %w", err))
	}
	if !ok {
		return fail(ErrAlreadyProcessing)
	}
	defer unlock()

	book, err := s.storage.GetBook(ctx, bookID)
	if err != nil {
		return fail(err)
	}
	if book.IsEmbedded {
		slog.InfoContext(ctx, "book already embedded", "chunks", book.ChunkCount)
		res.Success = true
		res.AlreadyEmbedded = true
		res.ChunkCount = book.ChunkCount
		res.EmbeddingModel = book.EmbeddingModel
		return res, nil
	}

	claimed, err := s.storage.ClaimProcessing(ctx, bookID)
	if err != nil {
		return fail(fmt.Errorf("claim processing: %w", err))
	}
	if !claimed {
		return fail(ErrAlreadyProcessing)
	}

	slog.InfoContext(ctx, "starting rag processing", "text_length", len(bookText))
	started := s.now()
	out, err := s.run(ctx, bookID, bookText)
	if err != nil {
		slog.ErrorContext(ctx, "rag processing failed", "error", err)
		s.markFailed(ctx, bookID, err)
		s.metrics.BookProcessed(string(StatusFailed))
		res.ChunkCount = out.ChunkCount
		return fail(err)
	}

	s.metrics.BookProcessed(string(StatusCompleted))
	slog.InfoContext(ctx, "rag processing completed",
		"chunks", out.ChunkCount, "tokens", out.TotalTokens, "duration", s.now().Sub(started))
	return out, nil
}

func (s *Service) run(ctx context.Context, bookID int64, bookText string) (ProcessResult, error) {
	res := ProcessResult{BookID: bookID}

	chunks := s.chunker.ChunkByChapters(bookText)
	if len(chunks) == 0 {
		return res, ErrEmptyInput
	}
	res.ChunkCount = len(chunks)
	slog.DebugContext(ctx, "chunked text", "chunks", len(chunks))

	ids, err := s.storage.SaveChunks(ctx, bookID, chunks)
	if err != nil {
		return res, fmt.Errorf("persist chunks: %w", err)
	}
	if len(ids) != len(chunks) {
		return res, fmt.Errorf("persist chunks: got %d ids for %d chunks", len(ids), len(chunks))
	}
	s.metrics.AddChunks(len(chunks))

	// Vectors left by an earlier failed run reference chunk ids that no longer exist.
	if err := s.store.DeleteCollection(ctx, bookID); err != nil {
		return res, fmt.Errorf("clear previous vectors: %w", err)
	}

	texts := make([]string, len(chunks))
	metas := make([]vector.Metadata, len(chunks))
	chapters := make(map[int]struct{})
	for i, ch := range chunks {
		texts[i] = ch.Content
		metas[i] = vector.Metadata{
			Version:       vector.MetadataVersion,
			BookID:        bookID,
			ChunkIndex:    ch.Metadata.ChunkIndex,
			TokenCount:    ch.Metadata.TokenCount,
			ChapterTitle:  ch.Metadata.ChapterTitle,
			ChapterNumber: ch.Metadata.ChapterNumber,
			Keywords:      ch.Metadata.Keywords,
		}
		res.TotalTokens += ch.Metadata.TokenCount
		if ch.Metadata.ChapterNumber != nil {
			chapters[*ch.Metadata.ChapterNumber] = struct{}{}
		}
	}
	res.ChaptersDetected = len(chapters)

	if err := s.store.Index(ctx, bookID, ids, texts, metas); err != nil {
		if cleanupErr := s.store.DeleteCollection(context.WithoutCancel(ctx), bookID); cleanupErr != nil {
			slog.WarnContext(ctx, "failed to remove partial vectors", "error", cleanupErr)
		}
		if errors.Is(err, vector.ErrEncodingFailure) || errors.Is(err, vector.ErrDimensionMismatch) {
			return res, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
		}
		return res, fmt.Errorf("index chunks: %w", err)
	}

	res.EmbeddingModel = s.store.ModelName()
	if err := s.storage.MarkEmbedded(ctx, bookID, res.EmbeddingModel, len(chunks)); err != nil {
		return res, fmt.Errorf("mark embedded: %w", err)
	}

	res.Success = true
	res.ProcessedAt = s.now().UTC()
	return res, nil
}

func (s *Service) markFailed(ctx context.Context, bookID int64, cause error) {
	if err := s.storage.SetBookStatus(context.WithoutCancel(ctx), bookID, StatusFailed, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to record processing failure", "error", err)
	}
}

// embeddedBook loads a book and checks it is ready for retrieval.
func (s *Service) embeddedBook(ctx context.Context, bookID int64) (*Book, error) {
	book, err := s.storage.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.IsEmbedded {
		return book, ErrNotEmbedded
	}
	return book, nil
}

// SearchContent returns the chunks most similar to query, optionally limited
// to one chapter number.
func (s *Service) SearchContent(ctx context.Context, bookID int64, query string, topK int, chapter *int) ([]vector.SearchResult, error) {
	ctx = middleware.WithBookID(ctx, bookID)
	if topK <= 0 {
		topK = s.cfg.SearchTopK
	}
	if _, err := s.embeddedBook(ctx, bookID); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := s.store.Search(ctx, bookID, query, topK, vector.Filter{ChapterNumber: chapter})
	s.logQuery(ctx, retrieval.KindSearch, bookID, query, topK, len(results), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Chat answers a question from retrieved context. Generation problems are
// reported in the response with the retrieved context still attached.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx = middleware.WithBookID(ctx, req.BookID)
	resp := ChatResponse{BookID: req.BookID, ContextChunks: []vector.SearchResult{}}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.SearchTopK
	}

	start := time.Now()
	defer func() {
		s.logQuery(ctx, retrieval.KindChat, req.BookID, req.Query, topK, resp.SearchResults, resp.Success, time.Since(start))
	}()

	book, err := s.embeddedBook(ctx, req.BookID)
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	resp.BookTitle = book.Title

	results, err := s.store.Search(ctx, req.BookID, req.Query, topK, vector.Filter{})
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	if len(results) == 0 {
		resp.Success = true
		resp.Response = notFoundMessage(book.Title)
		return resp, nil
	}
	resp.ContextChunks = results
	resp.SearchResults = len(results)

	if s.generator == nil {
		resp.Response = generationUnavailableMessage
		resp.Error = ErrGenerationUnavailable.Error()
		s.metrics.Generation(retrieval.KindChat, "unavailable")
		return resp, nil
	}
	resp.Model = s.generator.ModelName()

	answer, err := s.generator.Complete(ctx, buildChatPrompt(book.Title, req.Query, results, req.History))
	if err != nil {
		slog.ErrorContext(ctx, "chat generation failed", "error", err)
		resp.Response = generationErrorMessage
		resp.Error = err.Error()
		s.metrics.Generation(retrieval.KindChat, "error")
		return resp, nil
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		resp.Response = emptyGenerationMessage
		resp.Error = "empty response from model"
		s.metrics.Generation(retrieval.KindChat, "empty")
		return resp, nil
	}

	resp.Success = true
	resp.Response = answer
	s.metrics.Generation(retrieval.KindChat, "ok")
	return resp, nil
}

// Summarize builds a structured summary from the chunks closest to a generic
// themes query.
func (s *Service) Summarize(ctx context.Context, bookID int64) (SummaryResponse, error) {
	ctx = middleware.WithBookID(ctx, bookID)
	var resp SummaryResponse

	start := time.Now()
	defer func() {
		s.logQuery(ctx, retrieval.KindSummary, bookID, summaryQuery, s.cfg.SummaryTopK, resp.ChunksAnalyzed, resp.Success, time.Since(start))
	}()

	book, err := s.embeddedBook(ctx, bookID)
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	resp.BookTitle = book.Title

	results, err := s.store.Search(ctx, bookID, summaryQuery, s.cfg.SummaryTopK, vector.Filter{})
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	if len(results) == 0 {
		resp.Error = "no content available for summarization"
		return resp, nil
	}
	resp.ChunksAnalyzed = len(results)

	if s.generator == nil {
		resp.Error = ErrGenerationUnavailable.Error()
		s.metrics.Generation(retrieval.KindSummary, "unavailable")
		return resp, nil
	}

	summary, err := s.generator.Complete(ctx, buildSummaryPrompt(book.Title, results))
	if err != nil {
		slog.ErrorContext(ctx, "summary generation failed", "error", err)
		resp.Error = err.Error()
		s.metrics.Generation(retrieval.KindSummary, "error")
		return resp, nil
	}

	resp.Success = true
	resp.Summary = strings.TrimSpace(summary)
	s.metrics.Generation(retrieval.KindSummary, "ok")
	return resp, nil
}

// ResetBook removes a book's vectors and chunks so it can be processed again.
func (s *Service) ResetBook(ctx context.Context, bookID int64) error {
	ctx = middleware.WithBookID(ctx, bookID)
	unlock, ok, err := s.locker.TryLock(ctx, lockKey(bookID))
	if err != nil {
		return fmt.Errorf("acquire processing lock: %w", err)
	}
	if !ok {
		return ErrAlreadyProcessing
	}
	defer unlock()

	if _, err := s.storage.GetBook(ctx, bookID); err != nil {
		return err
	}
	if err := s.store.DeleteCollection(ctx, bookID); err != nil {
		return err
	}
	if err := s.storage.ResetEmbedding(ctx, bookID); err != nil {
		return fmt.Errorf("reset embedding: %w", err)
	}
	slog.InfoContext(ctx, "book embeddings reset")
	return nil
}

// Stats describes the book's vector collection.
func (s *Service) Stats(ctx context.Context, bookID int64) (vector.Stats, error) {
	return s.store.Stats(ctx, bookID)
}

// Health checks every pipeline component.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Chunker:    Healthy,
		Embedding:  Healthy,
		Index:      Healthy,
		Generation: Healthy,
		Timestamp:  s.now().UTC(),
	}
	if err := s.store.PingEncoder(ctx); err != nil {
		slog.WarnContext(ctx, "embedding health check failed", "error", err)
		report.Embedding = Unhealthy
	}
	if err := s.store.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "vector index health check failed", "error", err)
		report.Index = Unhealthy
	}
	if s.generator == nil {
		report.Generation = NotConfigured
	}
	return report
}

func (s *Service) logQuery(ctx context.Context, kind string, bookID int64, query string, topK, results int, ok bool, d time.Duration) {
	s.queryLog.Log(retrieval.QueryLogEntry{
		BookID:        bookID,
		Kind:          kind,
		Query:         query,
		TopK:          topK,
		NumResults:    results,
		Success:       ok,
		Duration:      d,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}
