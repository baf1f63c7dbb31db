// Package config loads ingestion fabric settings from the environment,
// following the same explicit-parsing style as the rest of the stack: no
// reflection-based binding, just named getters with defaults applied after
// the environment and an optional .env file have both been read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Config holds every setting the supervisor, manager, and workers need.
type Config struct {
	// Filesystem layout.
	LibraryDir   string // MASTER_LIBRARY
	ProcessedDir string // PROCESSED_DIR
	LogDir       string

	// Redis broker.
	RedisAddr     string
	QueueExtract  string
	QueueChunk    string
	QueueEmbed    string
	LockPrefix    string
	LockTTL       time.Duration
	PopTimeout    time.Duration

	// Manager scan loop.
	ScanInterval time.Duration

	// Worker pools.
	ExtractWorkers int
	ChunkWorkers   int
	EmbedWorkers   int

	// Chunking.
	MaxTokens int
	Tokenizer string // word|rune

	// Embedding.
	EmbeddingModel   string
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingDim     int

	// Status store.
	PostgresDSN string

	// Vector store.
	VectorBackend    string // qdrant|postgres|memory
	QdrantDSN        string
	QdrantCollection string

	// Staging artifact storage for chunk sets (§3 Chunk Set).
	StagingBackend string // local|s3
	S3Bucket       string
	S3Region       string
	S3Endpoint     string

	// Dead-letter queue extension.
	DLQKafkaBrokers []string

	// Ambient.
	LogLevel string
}

// fileOverlay mirrors the subset of Config an operator may want to pin in a
// checked-in file rather than the environment. Only non-zero fields here
// override the built-in defaults; env vars always take precedence over
// both.
type fileOverlay struct {
	MasterLibrary    string `yaml:"masterLibrary"`
	ProcessedDir     string `yaml:"processedDir"`
	LogDir           string `yaml:"logDir"`
	RedisAddr        string `yaml:"redisAddr"`
	VectorBackend    string `yaml:"vectorBackend"`
	QdrantDSN        string `yaml:"qdrantDSN"`
	QdrantCollection string `yaml:"qdrantCollection"`
	ExtractWorkers   int    `yaml:"extractWorkers"`
	ChunkWorkers     int    `yaml:"chunkWorkers"`
	EmbedWorkers     int    `yaml:"embedWorkers"`
	MaxTokens        int    `yaml:"maxTokens"`
	LogLevel         string `yaml:"logLevel"`
}

// loadFileOverlay looks for config.yaml or config.yml in the current
// working directory. Absence is not an error: env vars and defaults are
// sufficient on their own.
func loadFileOverlay() (fileOverlay, error) {
	var overlay fileOverlay
	for _, name := range []string{"config.yaml", "config.yml"} {
		data, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return overlay, fmt.Errorf("parse %s: %w", name, err)
		}
		return overlay, nil
	}
	return overlay, nil
}

// Load reads .env (if present, overriding the process environment), merges
// an optional config.yaml overlay, then applies any explicit environment
// variables on top.
func Load() (Config, error) {
	_ = godotenv.Overload()

	overlay, err := loadFileOverlay()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LibraryDir:       getenv("MASTER_LIBRARY", firstNonEmpty(overlay.MasterLibrary, "./library")),
		ProcessedDir:     getenv("PROCESSED_DIR", firstNonEmpty(overlay.ProcessedDir, "./processed")),
		LogDir:           getenv("LOG_DIR", firstNonEmpty(overlay.LogDir, "./logs")),
		RedisAddr:        getenv("REDIS_ADDR", firstNonEmpty(overlay.RedisAddr, "localhost:6379")),
		QueueExtract:     getenv("QUEUE_EXTRACT", "extraction_jobs"),
		QueueChunk:       getenv("QUEUE_CHUNK", "document_processing_queue"),
		QueueEmbed:       getenv("QUEUE_EMBED", "embedding_queue"),
		LockPrefix:       getenv("LOCK_PREFIX", "lock:"),
		LockTTL:          getSeconds("LOCK_TTL_SECONDS", 300),
		PopTimeout:       getSeconds("POP_TIMEOUT_SECONDS", 5),
		ScanInterval:     getSeconds("SCAN_INTERVAL_SECONDS", 10),
		ExtractWorkers:   getint("EXTRACT_WORKERS", firstNonZero(overlay.ExtractWorkers, 1)),
		ChunkWorkers:     getint("CHUNK_WORKERS", firstNonZero(overlay.ChunkWorkers, 1)),
		EmbedWorkers:     getint("EMBED_WORKERS", firstNonZero(overlay.EmbedWorkers, 1)),
		MaxTokens:        getint("MAX_TOKENS", firstNonZero(overlay.MaxTokens, 512)),
		Tokenizer:        strings.ToLower(getenv("TOKENIZER", "word")),
		EmbeddingModel:   getenv("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
		EmbeddingBaseURL: getenv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingAPIKey:  os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingDim:     getint("EMBEDDING_DIM", 384),
		PostgresDSN:      getenv("POSTGRES_DSN", "postgres://localhost:5432/ingest?sslmode=disable"),
		VectorBackend:    strings.ToLower(getenv("VECTOR_BACKEND", firstNonEmpty(overlay.VectorBackend, "memory"))),
		QdrantDSN:        getenv("QDRANT_DSN", firstNonEmpty(overlay.QdrantDSN, "http://localhost:6334")),
		QdrantCollection: getenv("QDRANT_COLLECTION", firstNonEmpty(overlay.QdrantCollection, "document_chunks")),
		StagingBackend:   strings.ToLower(getenv("STAGING_BACKEND", "local")),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         getenv("S3_REGION", "us-east-1"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		LogLevel:         strings.ToLower(getenv("LOG_LEVEL", firstNonEmpty(overlay.LogLevel, "info"))),
	}

	if brokers := os.Getenv("DLQ_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.DLQKafkaBrokers = append(cfg.DLQKafkaBrokers, b)
			}
		}
	}

	if cfg.ExtractWorkers < 1 || cfg.ChunkWorkers < 1 || cfg.EmbedWorkers < 1 {
		return cfg, fmt.Errorf("worker pool sizes must be at least 1")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getint(key, defSeconds)) * time.Second
}

// firstNonEmpty returns the overlay value when set, else the hardcoded
// default. Keeps the overlay as a middle tier between Go defaults and env
// vars, which always win via getenv/getint above.
func firstNonEmpty(overlayVal, def string) string {
	if overlayVal != "" {
		return overlayVal
	}
	return def
}

func firstNonZero(overlayVal, def int) int {
	if overlayVal != 0 {
		return overlayVal
	}
	return def
}
