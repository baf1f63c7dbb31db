// The extract-worker binary runs one member of the Extract Worker Pool:
// blocking-pop from the extract queue, convert, hand off to the chunk stage.
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
	"ingestfabric/internal/stage/extract"
	"ingestfabric/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "extract-worker:", err)
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

	metrics, flush := wiring.Metrics("ingestfabric-extract")
	defer flush(context.Background())
	dlq := wiring.DLQ(cfg)
	defer dlq.Close()

	w := extract.New(extract.Config{
		WorkerID:     *workerID,
		LockPrefix:   cfg.LockPrefix,
		QueueExtract: cfg.QueueExtract,
		QueueChunk:   cfg.QueueChunk,
		PopTimeout:   cfg.PopTimeout,
	}, b, status, wiring.Converters(), log)
	w.Metrics = metrics
	w.DLQ = dlq

	logging.Fields(log.Info(), "-", *workerID, "extract", "started").Msg("extract worker started")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Fields(log.Info(), "-", *workerID, "extract", "stopped").Msg("extract worker stopped")
	return nil
}
