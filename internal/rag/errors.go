package rag

import "errors"

var (
	ErrEmptyInput            = errors.New("no text to process")
	ErrEncodingFailure       = errors.New("embedding failed")
	ErrNotEmbedded           = errors.New("book is not processed for retrieval yet")
	ErrNotFound              = errors.New("book not found")
	ErrGenerationUnavailable = errors.New("text generation is not configured")
	ErrAlreadyProcessing     = errors.New("book is already being processed")
)
