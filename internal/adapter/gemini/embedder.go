package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
)

const (
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultDimension      = 768
	DefaultMaxInputTokens = 2048
)

type EmbedderConfig struct {
	Model          string
	Dimension      int
	MaxInputTokens int
}

// Embedder encodes text batches with a Gemini embedding model.
type Embedder struct {
	client         *genai.Client
	model          string
	dimension      int
	maxInputTokens int
}

func NewEmbedder(client *genai.Client, cfg EmbedderConfig) *Embedder {
	e := &Embedder{
		client:         client,
		model:          cfg.Model,
		dimension:      cfg.Dimension,
		maxInputTokens: cfg.MaxInputTokens,
	}
	if e.model == "" {
		e.model = DefaultEmbeddingModel
	}
	if e.dimension <= 0 {
		e.dimension = DefaultDimension
	}
	if e.maxInputTokens <= 0 {
		e.maxInputTokens = DefaultMaxInputTokens
	}
	return e
}

// Encode embeds passages for indexing.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return e.encode(ctx, texts, genai.TaskTypeRetrievalDocument)
}

// EncodeQuery embeds search queries.
func (e *Embedder) EncodeQuery(ctx context.Context, texts []string) ([][]float32, error) {
	return e.encode(ctx, texts, genai.TaskTypeRetrievalQuery)
}

func (e *Embedder) encode(ctx context.Context, texts []string, task genai.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(texts))

	em := e.client.EmbeddingModel(e.model)
	em.TaskType = task
	b := em.NewBatch()
	for _, t := range texts {
		b.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, b)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "model", e.model, "error", err)
		return nil, err
	}

	out := make([][]float32, 0, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
		out = append(out, emb.Values)
	}
	return out, nil
}

func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) MaxInputTokens() int { return e.maxInputTokens }

func (e *Embedder) ModelName() string { return e.model }
