package book

import (
	"fmt"

	"chaptr/backend/internal/rag"
)

// ErrNoText is returned when a book has neither cleaned nor raw text to process.
var ErrNoText = fmt.Errorf("%w: book has no extracted text", rag.ErrEmptyInput)

// New describes a book row to insert.
type New struct {
	Title   string
	Author  string
	RawText string
}
