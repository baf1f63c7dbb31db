// The chunk-worker binary runs one member of the Chunk Worker Pool:
// blocking-pop from the chunk queue, split into token-bounded chunks, stage
// them for the embed stage.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ingestfabric/internal/config"
	"ingestfabric/internal/converter"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/stage/chunkworker"
	"ingestfabric/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chunk-worker:", err)
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

	staging, err := wiring.Staging(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open staging backend: %w", err)
	}

	metrics, flush := wiring.Metrics("ingestfabric-chunk")
	defer flush(context.Background())
	dlq := wiring.DLQ(cfg)
	defer dlq.Close()

	w := chunkworker.New(chunkworker.Config{
		WorkerID:     *workerID,
		QueueChunk:   cfg.QueueChunk,
		QueueEmbed:   cfg.QueueEmbed,
		PopTimeout:   cfg.PopTimeout,
		ProcessedDir: cfg.ProcessedDir,
		MaxTokens:    cfg.MaxTokens,
	}, b, wiring.Tokenizer(cfg), converter.HTMLConverter{}, log)
	w.Staging = staging
	w.Metrics = metrics
	w.DLQ = dlq

	logging.Fields(log.Info(), "-", *workerID, "chunk", "started").Msg("chunk worker started")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Fields(log.Info(), "-", *workerID, "chunk", "stopped").Msg("chunk worker stopped")
	return nil
}
