package worker

import (
	"context"

	"chaptr/backend/internal/rag"
)

type Processor interface {
	ProcessForRAG(ctx context.Context, bookID int64, text string) (rag.ProcessResult, error)
}

type TextLoader interface {
	GetBookText(ctx context.Context, id int64) (string, error)
}
