package worker

// ProcessBookPayload asks a worker to run the RAG pipeline for a book. When
// Text is empty the worker loads the book's stored text.
type ProcessBookPayload struct {
	BookID        int64  `json:"book_id"`
	Text          string `json:"text,omitempty"`
	CorrelationID string `json:"correlation_id"`
}
