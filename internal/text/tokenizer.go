package text

import (
	"log/slog"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the sub-word scheme used for token budgeting.
const DefaultEncoding = "cl100k_base"

// wordsToTokens approximates sub-word tokens per whitespace-separated word for English prose.
const wordsToTokens = 1.33

// TokenCounter counts tokens in a text span.
type TokenCounter interface {
	CountTokens(text string) int
}

// HeuristicCounter estimates token counts from word counts.
type HeuristicCounter struct{}

func (HeuristicCounter) CountTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Round(float64(words) * wordsToTokens))
}

// Tokenizer counts tokens with a tiktoken encoding, falling back to
// HeuristicCounter when the encoding cannot be loaded.
type Tokenizer struct {
	enc      *tiktoken.Tiktoken
	encoding string
	fallback HeuristicCounter
}

func NewTokenizer(encoding string) *Tokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	t := &Tokenizer{encoding: encoding}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tokenizer encoding unavailable, using word heuristic", "encoding", encoding, "error", err)
		return t
	}
	t.enc = enc
	return t
}

func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Exact reports whether counts come from the sub-word encoder.
func (t *Tokenizer) Exact() bool {
	return t.enc != nil
}

func (t *Tokenizer) Encoding() string {
	return t.encoding
}
