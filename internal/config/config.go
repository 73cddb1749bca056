package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendMemory   = "memory"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"chaptr"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"chaptr"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Vector index
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Per-book processing lock. An empty address keeps the lock in process.
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	LockTTLSeconds int    `envconfig:"LOCK_TTL_SECONDS" default:"1800"`

	NSQLookupd            string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost              string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP              string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize         int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"1048576"` // nsqd --max-msg-size
	EnableProcessWorker   bool   `envconfig:"ENABLE_PROCESS_WORKER" default:"true"`
	ProcessConcurrency    int    `envconfig:"PROCESS_CONCURRENCY" default:"2"`
	ProcessTimeoutSeconds int    `envconfig:"PROCESS_TIMEOUT_SECONDS" default:"1800"`

	// Models
	GeminiAPIKey            string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel          string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	EmbeddingDimension      int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	EmbeddingMaxInputTokens int    `envconfig:"EMBEDDING_MAX_INPUT_TOKENS" default:"2048"`
	EmbeddingBatchSize      int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"16"`
	GenerationModel         string `envconfig:"GENERATION_MODEL" default:"gemini-1.5-flash"`

	// Chunking and retrieval
	TokenizerEncoding  string `envconfig:"TOKENIZER_ENCODING" default:"cl100k_base"`
	ChunkTargetTokens  int    `envconfig:"CHUNK_TARGET_TOKENS" default:"600"`
	ChunkMaxTokens     int    `envconfig:"CHUNK_MAX_TOKENS" default:"800"`
	ChunkOverlapTokens int    `envconfig:"CHUNK_OVERLAP_TOKENS" default:"100"`
	SearchTopK         int    `envconfig:"SEARCH_TOP_K" default:"5"`
	SummaryTopK        int    `envconfig:"SUMMARY_TOP_K" default:"10"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case VectorBackendMemory:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND must be %q or %q, got %q", ErrInvalid, VectorBackendWeaviate, VectorBackendMemory, c.VectorBackend)
	}

	if c.ChunkTargetTokens <= 0 {
		return fmt.Errorf("%w: CHUNK_TARGET_TOKENS must be positive", ErrInvalid)
	}
	if c.ChunkMaxTokens < c.ChunkTargetTokens {
		return fmt.Errorf("%w: CHUNK_MAX_TOKENS (%d) is below CHUNK_TARGET_TOKENS (%d)", ErrInvalid, c.ChunkMaxTokens, c.ChunkTargetTokens)
	}
	if c.ChunkOverlapTokens < 0 {
		return fmt.Errorf("%w: CHUNK_OVERLAP_TOKENS must not be negative", ErrInvalid)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("%w: EMBEDDING_BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalid)
	}
	if c.SearchTopK <= 0 || c.SummaryTopK <= 0 {
		return fmt.Errorf("%w: SEARCH_TOP_K and SUMMARY_TOP_K must be positive", ErrInvalid)
	}
	return nil
}

func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
