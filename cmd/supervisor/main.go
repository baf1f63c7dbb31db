// The supervisor binary spawns the manager and the three worker pools as
// child processes, captures their output to per-child logs, restarts crashed
// children, and drives graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ingestfabric/internal/config"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/supervisor"
	"ingestfabric/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "supervisor:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseDir   = flag.String("base-dir", "", "working directory for children (defaults to cwd)")
		logDir    = flag.String("log-dir", "", "per-child log directory (overrides LOG_DIR)")
		binDir    = flag.String("bin-dir", "", "directory holding the stage binaries (defaults to this binary's directory)")
		redisAddr = flag.String("redis-addr", "", "queue broker address (overrides REDIS_ADDR)")
		grace     = flag.Int("grace-period", 5, "seconds to wait for a child after SIGTERM before killing")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}
	if *baseDir != "" {
		if err := os.Chdir(*baseDir); err != nil {
			return fmt.Errorf("chdir %s: %w", *baseDir, err)
		}
	}

	log := logging.New(cfg.LogLevel, os.Stdout)

	// The broker is an external collaborator: verify it is reachable, never
	// spawn or restart it.
	b, err := wiring.Broker(cfg)
	if err != nil {
		return fmt.Errorf("queue broker unreachable at %s: %w", cfg.RedisAddr, err)
	}
	b.Close()

	bins := *binDir
	if bins == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate own binary: %w", err)
		}
		bins = filepath.Dir(self)
	}

	specs := []supervisor.ChildSpec{{
		Stage:       "manager",
		Command:     filepath.Join(bins, "manager"),
		Restartable: true,
	}}
	pools := []struct {
		stage  string
		binary string
		count  int
	}{
		{"extract", "extract-worker", cfg.ExtractWorkers},
		{"chunk", "chunk-worker", cfg.ChunkWorkers},
		{"embed", "embed-worker", cfg.EmbedWorkers},
	}
	for _, p := range pools {
		for i := 0; i < p.count; i++ {
			workerID := fmt.Sprintf("%s-%d", p.stage, i)
			specs = append(specs, supervisor.ChildSpec{
				Stage:       p.stage,
				WorkerID:    workerID,
				Command:     filepath.Join(bins, p.binary),
				Args:        []string{"--worker-id", workerID},
				Restartable: true,
			})
		}
	}

	sup := supervisor.New(supervisor.Config{
		LogDir:      cfg.LogDir,
		GracePeriod: time.Duration(*grace) * time.Second,
	}, log)

	if err := sup.Start(specs); err != nil {
		sup.Shutdown()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Fields(log.Info(), "-", "supervisor", "supervisor", "running").
		Int("children", len(specs)).Msg("pipeline running")

	sup.Monitor(ctx)
	sup.Shutdown()
	return nil
}
