package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"chaptr/backend/features/book"
	"chaptr/backend/internal/adapter/gemini"
	"chaptr/backend/internal/config"
	"chaptr/backend/internal/metrics"
	"chaptr/backend/internal/middleware"
	"chaptr/backend/internal/rag"
	"chaptr/backend/internal/retrieval"
	"chaptr/backend/internal/text"
	"chaptr/backend/internal/vector"
	"chaptr/backend/internal/worker"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type App struct {
	Handler         http.Handler
	RAG             *rag.Service
	Books           *book.PostgresRepo
	Publisher       *worker.ProcessPublisher
	ProcessConsumer *worker.ProcessConsumer

	cfg *config.Config
}

type options struct {
	encoder   vector.Encoder
	generator rag.Generator
}

// Option overrides a model collaborator, typically with a stub in tests.
type Option func(*options)

func WithEncoder(e vector.Encoder) Option {
	return func(o *options) { o.encoder = e }
}

func WithGenerator(g rag.Generator) Option {
	return func(o *options) { o.generator = g }
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	tokenizer := text.NewTokenizer(cfg.TokenizerEncoding)
	chunker := text.NewChunker(tokenizer,
		text.WithTargetTokens(cfg.ChunkTargetTokens),
		text.WithMaxTokens(cfg.ChunkMaxTokens),
		text.WithOverlap(cfg.ChunkOverlapTokens),
	)

	// Models are optional: without a key, processing fails with an encoding
	// error and chat reports generation as unavailable.
	encoder, generator := o.encoder, o.generator
	if cfg.GeminiAPIKey != "" && (encoder == nil || generator == nil) {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		if encoder == nil {
			encoder = gemini.NewEmbedder(client, gemini.EmbedderConfig{
				Model:          cfg.EmbeddingModel,
				Dimension:      cfg.EmbeddingDimension,
				MaxInputTokens: cfg.EmbeddingMaxInputTokens,
			})
		}
		if generator == nil {
			generator = gemini.NewGenerator(client, cfg.GenerationModel)
		}
	}
	if encoder == nil {
		slog.Warn("no embedding model configured, book processing will fail until GEMINI_API_KEY is set")
	}

	store := vector.NewStore(encoder, deps.Index,
		vector.WithBatchSize(cfg.EmbeddingBatchSize),
		vector.WithTokenCounter(tokenizer),
		vector.WithMetrics(m),
	)

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	books := book.NewPostgresRepo(deps.DB)
	svc := rag.NewService(rag.Deps{
		Storage:   books,
		Chunker:   chunker,
		Store:     store,
		Generator: generator,
		Locker:    deps.Locker,
		Metrics:   m,
		QueryLog:  queryLogger,
	}, rag.Config{
		SearchTopK:     cfg.SearchTopK,
		SummaryTopK:    cfg.SummaryTopK,
		ProcessTimeout: cfg.ProcessTimeout(),
	})

	a := &App{
		RAG:             svc,
		Books:           books,
		ProcessConsumer: worker.NewProcessConsumer(svc, books, cfg.ProcessTimeout()),
		cfg:             cfg,
	}
	if deps.NSQProducer != nil {
		a.Publisher = worker.NewProcessPublisher(deps.NSQProducer, cfg.NSQMaxMsgSize)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", middleware.CorrelationID(http.HandlerFunc(a.health)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	a.Handler = mux

	return a, nil
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	report := a.RAG.Health(r.Context())
	status := "healthy"
	code := http.StatusOK
	if !report.OK() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"components": report,
	}); err != nil {
		slog.WarnContext(r.Context(), "failed to write health response", "error", err)
	}
}

// Run serves HTTP and, when enabled, consumes processing requests until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableProcessWorker {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	concurrency := a.cfg.ProcessConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = concurrency

	consumer, err := nsq.NewConsumer(config.TopicBookProcess, config.ChannelBookProcess, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(a.ProcessConsumer, concurrency)

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("failed to connect to NSQLookupd: %w", err)
	}
	slog.Info("process consumer connected", "topic", config.TopicBookProcess, "concurrency", concurrency)
	return consumer, nil
}
