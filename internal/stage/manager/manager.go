// Package manager implements the Extraction Manager: the
// singleton scan-claim-dispatch loop that is the heart of the at-most-once
// guarantee this whole fabric exists to provide.
package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ingestfabric/internal/broker"
	"ingestfabric/internal/job"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/obs"
	"ingestfabric/internal/statusstore"
	"ingestfabric/internal/traceid"
)

// Config configures one Manager instance.
type Config struct {
	ManagerID    string
	LibraryDir   string
	LockPrefix   string
	LockTTL      time.Duration
	ScanInterval time.Duration
	QueueExtract string
}

// Broker is the subset of the Queue Broker Contract the
// manager needs: claim-lock operations and a push onto EXTRACT_JOBS.
type Broker interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Claim(ctx context.Context, key, owner string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	ProbeLocks(ctx context.Context, keys []string) (map[string]bool, error)
}

// StatusStore is the subset of the Status Store the manager
// needs.
type StatusStore interface {
	GetStatus(ctx context.Context, filepath string) (statusstore.Status, error)
	Add(ctx context.Context, filename, filepath string, status statusstore.Status, traceID string) error
}

// ConverterRegistry resolves which file extensions are eligible for ingest.
type ConverterRegistry interface {
	Extensions() []string
}

// Manager runs the periodic scan-claim-dispatch loop.
type Manager struct {
	cfg    Config
	broker Broker
	status StatusStore
	reg    ConverterRegistry
	log    zerolog.Logger

	// Metrics, when set, records scan cadence and dispatch counts.
	Metrics obs.Metrics
}

// New constructs a Manager.
func New(cfg Config, b Broker, status StatusStore, reg ConverterRegistry, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, broker: b, status: status, reg: reg, log: log}
}

// ScanStats summarizes one scan cycle.
type ScanStats struct {
	FilesFound   int
	JobsCreated  int
	FilesSkipped int
}

// Run sleeps cfg.ScanInterval between scans, checking ctx for cancellation
// at one-second granularity so shutdown is responsive.
func (m *Manager) Run(ctx context.Context) error {
	for {
		stats, err := m.Scan(ctx)
		if err != nil {
			logging.Fields(m.log.Error(), "-", m.cfg.ManagerID, "manager", "scan_error").Err(err).Msg("scan failed")
		} else {
			if m.Metrics != nil {
				m.Metrics.IncCounter("scans_total", map[string]string{"stage": "manager"})
			}
			logging.Fields(m.log.Info(), "-", m.cfg.ManagerID, "manager", "scan_complete").
				Int("files_found", stats.FilesFound).
				Int("jobs_created", stats.JobsCreated).
				Int("files_skipped", stats.FilesSkipped).
				Msg("scan complete")
		}

		wait := m.cfg.ScanInterval
		if err != nil {
			wait = 5 * time.Second // back off after a failed scan, then resume
		}
		if !m.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// sleep waits for d in one-second ticks so ctx cancellation is noticed
// promptly, returning false if ctx was cancelled first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
	return true
}

// Scan performs one pass over the library directory: for every eligible
// regular file, skip if already terminal/in-flight, otherwise claim, mint a
// trace id, register the status record, and dispatch an extract job.
func (m *Manager) Scan(ctx context.Context) (ScanStats, error) {
	var stats ScanStats

	entries, err := os.ReadDir(m.cfg.LibraryDir)
	if err != nil {
		return stats, err
	}

	exts := m.reg.Extensions()
	type candidate struct {
		filename string
		abs      string
		lockKey  string
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !hasSupportedExtension(entry.Name(), exts) {
			continue
		}
		stats.FilesFound++
		filename := entry.Name()
		abs := filepath.Join(m.cfg.LibraryDir, filename)
		candidates = append(candidates, candidate{filename: filename, abs: abs, lockKey: broker.LockKey(m.cfg.LockPrefix, filename)})
	}

	// Batch-probe which candidates are already locked before the sequential
	// claim pass, so a large library directory costs one concurrent round
	// trip instead of N sequential ones.
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.lockKey
	}
	held, err := m.broker.ProbeLocks(ctx, keys)
	if err != nil {
		return stats, err
	}

	for _, c := range candidates {
		dispatched, err := m.claimAndDispatch(ctx, c.filename, c.abs, c.lockKey, held[c.lockKey])
		if err != nil {
			logging.Fields(m.log.Error(), "-", m.cfg.ManagerID, "manager", "claim_error").
				Str("filename", c.filename).Err(err).Msg("claim failed")
			stats.FilesSkipped++
			continue
		}
		if dispatched {
			stats.JobsCreated++
		} else {
			stats.FilesSkipped++
		}
	}
	return stats, nil
}

func (m *Manager) claimAndDispatch(ctx context.Context, filename, filepathAbs, lockKey string, probedLocked bool) (bool, error) {
	// Step 1: skip if terminal or in flight (processed, processing, or
	// error; error records return to the pipeline only by operator requeue).
	status, err := m.status.GetStatus(ctx, filepathAbs)
	if err == nil && (status == statusstore.Processed || status == statusstore.Processing || status == statusstore.Error) {
		return false, nil
	}

	// Step 2: skip if locked (probed in the batch pass above).
	if probedLocked {
		return false, nil
	}

	// Step 3: claim.
	if err := m.broker.Claim(ctx, lockKey, m.cfg.ManagerID, m.cfg.LockTTL); err != nil {
		if err == broker.ErrLockHeld {
			return false, nil
		}
		return false, err
	}

	// Step 4: mint trace id.
	trace := traceid.New()

	// Step 5: register (idempotent insert).
	if err := m.status.Add(ctx, filename, filepathAbs, statusstore.Queued, trace); err != nil {
		return false, err
	}

	// Step 6: dispatch.
	ej := job.Extract{
		TraceID:      trace,
		FilePath:     filepathAbs,
		Filename:     filename,
		JobTimestamp: time.Now(),
		MetadataHint: job.MetadataHint{Source: "library_scan", ManagerID: m.cfg.ManagerID},
	}
	payload, err := json.Marshal(ej)
	if err != nil {
		return false, err
	}
	if err := m.broker.Push(ctx, m.cfg.QueueExtract, payload); err != nil {
		return false, err
	}

	if m.Metrics != nil {
		m.Metrics.IncCounter("jobs_dispatched_total", map[string]string{"stage": "manager"})
	}
	logging.Fields(m.log.Info(), trace, m.cfg.ManagerID, "manager", "job_dispatched").
		Str("filename", filename).Msg("dispatched extract job")
	return true, nil
}

func hasSupportedExtension(filename string, exts []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
