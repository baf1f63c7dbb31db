// The manager binary runs the singleton Extraction Manager: the periodic
// scan-claim-dispatch loop feeding the extract queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ingestfabric/internal/config"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/stage/manager"
	"ingestfabric/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "manager:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		scanInterval = flag.Int("scan-interval", 0, "seconds between library scans (overrides SCAN_INTERVAL_SECONDS)")
		lockTTL      = flag.Int("lock-ttl", 0, "claim lock TTL in seconds (overrides LOCK_TTL_SECONDS)")
		debug        = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *scanInterval > 0 {
		cfg.ScanInterval = time.Duration(*scanInterval) * time.Second
	}
	if *lockTTL > 0 {
		cfg.LockTTL = time.Duration(*lockTTL) * time.Second
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

	metrics, flush := wiring.Metrics("ingestfabric-manager")
	defer flush(context.Background())

	managerID := "manager-" + uuid.NewString()[:8]
	m := manager.New(manager.Config{
		ManagerID:    managerID,
		LibraryDir:   cfg.LibraryDir,
		LockPrefix:   cfg.LockPrefix,
		LockTTL:      cfg.LockTTL,
		ScanInterval: cfg.ScanInterval,
		QueueExtract: cfg.QueueExtract,
	}, b, status, wiring.Converters(), log)
	m.Metrics = metrics

	logging.Fields(log.Info(), "-", managerID, "manager", "started").
		Str("library", cfg.LibraryDir).
		Dur("scan_interval", cfg.ScanInterval).
		Msg("extraction manager started")

	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Fields(log.Info(), "-", managerID, "manager", "stopped").Msg("extraction manager stopped")
	return nil
}
