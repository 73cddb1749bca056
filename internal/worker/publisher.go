package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chaptr/backend/internal/config"
	"chaptr/backend/internal/middleware"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// ProcessPublisher enqueues books for the processing consumer.
type ProcessPublisher struct {
	pub        TaskPublisher
	maxMsgSize int64
}

// NewProcessPublisher publishes through pub. Messages carrying inline text
// that would exceed maxMsgSize bytes are sent without the text; zero or less
// disables the limit.
func NewProcessPublisher(pub TaskPublisher, maxMsgSize int64) *ProcessPublisher {
	return &ProcessPublisher{pub: pub, maxMsgSize: maxMsgSize}
}

// Enqueue asks a worker to process the book. Pass an empty text to have the
// worker load the stored text.
func (p *ProcessPublisher) Enqueue(ctx context.Context, bookID int64, text string) error {
	if bookID <= 0 {
		return fmt.Errorf("enqueue: invalid book id %d", bookID)
	}
	payload := ProcessBookPayload{
		BookID:        bookID,
		Text:          text,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if p.maxMsgSize > 0 && int64(len(body)) > p.maxMsgSize && payload.Text != "" {
		slog.InfoContext(ctx, "inline text exceeds nsq message size, worker will load stored text",
			"book_id", bookID, "size", len(body), "max", p.maxMsgSize)
		payload.Text = ""
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	if err := p.pub.Publish(config.TopicBookProcess, body); err != nil {
		return fmt.Errorf("publish %s: %w", config.TopicBookProcess, err)
	}
	return nil
}
