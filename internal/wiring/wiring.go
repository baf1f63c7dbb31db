// Package wiring constructs the shared dependency handles (broker, status
// store, vector store, staging backend, embedder, metrics, dead-letter
// publisher) from configuration. Every binary builds its dependencies here
// and threads them explicitly to its worker loop; there are no package-level
// singletons.
package wiring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"ingestfabric/internal/broker"
	"ingestfabric/internal/config"
	"ingestfabric/internal/converter"
	"ingestfabric/internal/deadletter"
	"ingestfabric/internal/documents"
	"ingestfabric/internal/embed"
	"ingestfabric/internal/objectstore"
	"ingestfabric/internal/obs"
	"ingestfabric/internal/persistence/databases"
	"ingestfabric/internal/statusstore"
)

// Broker connects to the Redis queue broker.
func Broker(cfg config.Config) (*broker.Broker, error) {
	return broker.New(cfg.RedisAddr)
}

// StatusStore opens the Postgres-backed status store and ensures its schema.
func StatusStore(ctx context.Context, cfg config.Config) (*statusstore.Store, error) {
	pool, err := databases.OpenPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return statusstore.Open(ctx, pool)
}

// VectorStore resolves the configured vector store backend.
func VectorStore(ctx context.Context, cfg config.Config) (databases.VectorStore, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return databases.NewQdrantVector(cfg.QdrantDSN, cfg.QdrantCollection, cfg.EmbeddingDim, "cosine")
	case "postgres":
		pool, err := databases.OpenPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		return databases.NewPostgresVector(ctx, pool, cfg.EmbeddingDim, "cosine")
	case "", "memory":
		return databases.NewMemoryVector(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Staging returns the object-store backend for the chunks staging artifact,
// or nil when the default local-disk path is in effect.
func Staging(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	switch cfg.StagingBackend {
	case "", "local":
		return nil, nil
	case "s3":
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   "staging",
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown staging backend %q", cfg.StagingBackend)
	}
}

// Embedder builds the HTTP embedding client for the configured model
// endpoint.
func Embedder(cfg config.Config) embed.Embedder {
	return embed.NewClient(embed.ClientConfig{
		Model:     cfg.EmbeddingModel,
		BaseURL:   cfg.EmbeddingBaseURL,
		Path:      "/v1/embeddings",
		APIKey:    cfg.EmbeddingAPIKey,
		APIHeader: "Authorization",
		Timeout:   60 * time.Second,
	}, cfg.EmbeddingDim)
}

// Converters builds the registry of document converter backends the scan
// and extract stages share.
func Converters() *converter.Registry {
	return converter.NewRegistry(converter.PDFConverter{}, converter.HTMLConverter{})
}

// Tokenizer resolves the configured tokenizer for the chunk stage.
func Tokenizer(cfg config.Config) documents.Tokenizer {
	return documents.ForName(cfg.Tokenizer)
}

// DLQ builds the Kafka dead-letter publisher, or nil when no brokers are
// configured.
func DLQ(cfg config.Config) *deadletter.Publisher {
	return deadletter.NewKafka(cfg.DLQKafkaBrokers)
}

// Metrics installs a global SDK meter provider tagged with the service name
// and returns the recording surface workers use. The returned shutdown
// function flushes pending aggregations.
func Metrics(serviceName string) (obs.Metrics, func(context.Context) error) {
	res := resource.NewWithAttributes(resource.Default().SchemaURL(),
		attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)
	return obs.NewOtelMetrics(), provider.Shutdown
}
