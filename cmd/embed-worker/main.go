// The embed-worker binary runs one member of the Embed Worker Pool:
// blocking-pop from the embed queue, compute embeddings, upsert vector
// records, and back-write terminal document status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ingestfabric/internal/config"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/persistence/databases"
	"ingestfabric/internal/stage/embedworker"
	"ingestfabric/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "embed-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		workerID = flag.String("worker-id", "", "unique worker id (required)")
		debug    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()
	if *workerID == "" {
		return fmt.Errorf("--worker-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if *debug {
		level = "debug"
	}
	log := logging.New(level, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := wiring.Broker(cfg)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer b.Close()

	status, err := wiring.StatusStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}

	vectors, err := wiring.VectorStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer databases.CloseVector(vectors)

	staging, err := wiring.Staging(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open staging backend: %w", err)
	}

	embedder := wiring.Embedder(cfg)
	if err := embedder.Ping(ctx); err != nil {
		return fmt.Errorf("embedding endpoint unreachable: %w", err)
	}

	metrics, flush := wiring.Metrics("ingestfabric-embed")
	defer flush(context.Background())
	dlq := wiring.DLQ(cfg)
	defer dlq.Close()

	w := embedworker.New(embedworker.Config{
		WorkerID:   *workerID,
		QueueEmbed: cfg.QueueEmbed,
		PopTimeout: cfg.PopTimeout,
	}, b, embedder, vectors, status, log)
	w.Staging = staging
	w.Metrics = metrics
	w.DLQ = dlq

	logging.Fields(log.Info(), "-", *workerID, "embed", "started").
		Str("model", cfg.EmbeddingModel).Msg("embed worker started")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Fields(log.Info(), "-", *workerID, "embed", "stopped").Msg("embed worker stopped")
	return nil
}
