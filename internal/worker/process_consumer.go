package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"chaptr/backend/internal/middleware"
	"chaptr/backend/internal/rag"

	"github.com/nsqio/go-nsq"
)

const (
	DefaultProcessTimeout = 30 * time.Minute

	// touchInterval stays well under nsqd's default 60s message timeout.
	touchInterval = 30 * time.Second
)

// ProcessConsumer runs the RAG pipeline for books announced on the process topic.
type ProcessConsumer struct {
	processor Processor
	loader    TextLoader
	timeout   time.Duration
}

func NewProcessConsumer(p Processor, l TextLoader, timeout time.Duration) *ProcessConsumer {
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	return &ProcessConsumer{processor: p, loader: l, timeout: timeout}
}

// keepAlive touches m until the returned stop func is called so a long run
// is not redelivered to another worker.
func keepAlive(m *nsq.Message) (stop func()) {
	if m.Delegate == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(touchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() { close(done) }
}

func (h *ProcessConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ProcessBookPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.BookID <= 0 {
		slog.Error("poison pill: missing book id", "body", string(m.Body))
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}
	ctx = middleware.WithBookID(ctx, payload.BookID)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	stop := keepAlive(m)
	defer stop()

	body := payload.Text
	if body == "" {
		var err error
		body, err = h.loader.GetBookText(ctx, payload.BookID)
		if err != nil {
			if isFinal(err) {
				slog.WarnContext(ctx, "dropping process request", "error", err)
				return nil
			}
			slog.ErrorContext(ctx, "failed to load book text", "error", err)
			return err // Retry
		}
	}

	res, err := h.processor.ProcessForRAG(ctx, payload.BookID, body)
	if err != nil {
		if isFinal(err) {
			slog.WarnContext(ctx, "book processing ended without retry", "error", err)
			return nil
		}
		slog.ErrorContext(ctx, "book processing failed", "error", err)
		return err // Retry
	}

	slog.InfoContext(ctx, "book processed",
		"chunks", res.ChunkCount, "already_embedded", res.AlreadyEmbedded, "model", res.EmbeddingModel)
	return nil
}

// isFinal reports errors that a redelivery cannot fix.
func isFinal(err error) bool {
	return errors.Is(err, rag.ErrEmptyInput) ||
		errors.Is(err, rag.ErrNotFound) ||
		errors.Is(err, rag.ErrAlreadyProcessing) ||
		errors.Is(err, rag.ErrEncodingFailure)
}
