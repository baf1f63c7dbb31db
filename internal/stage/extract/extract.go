// Package extract implements the Extract Worker: consumes
// extract jobs, invokes the converter, and hands the structured document
// downstream to the chunk stage.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ingestfabric/internal/broker"
	"ingestfabric/internal/converter"
	"ingestfabric/internal/deadletter"
	"ingestfabric/internal/job"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/obs"
	"ingestfabric/internal/statusstore"
)

// Broker is the subset of the Queue Broker Contract this worker needs.
type Broker interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Push(ctx context.Context, queue string, payload []byte) error
	Release(ctx context.Context, key string) error
}

// StatusStore is the subset of the Status Store this worker needs.
type StatusStore interface {
	Update(ctx context.Context, filepath string, status statusstore.Status, errMsg *string) error
}

// ConverterRegistry resolves a converter by file extension.
type ConverterRegistry interface {
	For(fileType string) (converter.Converter, bool)
}

// Config configures one Worker instance.
type Config struct {
	WorkerID     string
	LockPrefix   string
	QueueExtract string
	QueueChunk   string
	PopTimeout   time.Duration
}

// Worker is one member of the Extract Worker Pool.
type Worker struct {
	cfg    Config
	broker Broker
	status StatusStore
	reg    ConverterRegistry
	log    zerolog.Logger

	// Metrics, when set, records per-job counters and latency.
	Metrics obs.Metrics
	// DLQ, when set, receives the payload of every terminally-failed job.
	// A nil publisher is a no-op.
	DLQ *deadletter.Publisher
}

// New constructs a Worker.
func New(cfg Config, b Broker, status StatusStore, reg ConverterRegistry, log zerolog.Logger) *Worker {
	return &Worker{cfg: cfg, broker: b, status: status, reg: reg, log: log}
}

// Run loops: blocking-pop one extract job, process it to completion, repeat,
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := w.broker.Pop(ctx, w.cfg.QueueExtract, w.cfg.PopTimeout)
		if errors.Is(err, broker.ErrTimeout) {
			continue
		}
		if err != nil {
			logging.Fields(w.log.Error(), "-", w.cfg.WorkerID, "extract", "pop_error").Err(err).Msg("broker pop failed")
			time.Sleep(5 * time.Second) // back off while the broker is unreachable
			continue
		}

		var ej job.Extract
		if err := json.Unmarshal(payload, &ej); err != nil {
			logging.Fields(w.log.Error(), "-", w.cfg.WorkerID, "extract", "decode_error").Err(err).Msg("malformed extract job")
			continue
		}
		w.process(ctx, ej, payload)
	}
}

func (w *Worker) process(ctx context.Context, ej job.Extract, payload []byte) {
	lockKey := broker.LockKey(w.cfg.LockPrefix, ej.Filename)
	started := time.Now()

	logging.Fields(w.log.Info(), ej.TraceID, w.cfg.WorkerID, "extract", "job_received").
		Str("filename", ej.Filename).Msg("extract job received")

	if err := w.status.Update(ctx, ej.FilePath, statusstore.Processing, nil); err != nil {
		logging.Fields(w.log.Error(), ej.TraceID, w.cfg.WorkerID, "extract", "status_error").Err(err).Msg("failed to mark processing")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(ej.Filename)), ".")
	conv, ok := w.reg.For(ext)
	if !ok {
		w.fail(ctx, ej, lockKey, payload, fmt.Errorf("no converter registered for extension %q", ext))
		return
	}

	doc, err := conv.Convert(ctx, ej.FilePath)
	if err != nil {
		w.fail(ctx, ej, lockKey, payload, err)
		return
	}
	if strings.TrimSpace(doc.Markdown) == "" {
		w.fail(ctx, ej, lockKey, payload, fmt.Errorf("conversion produced no content"))
		return
	}

	info, statErr := os.Stat(ej.FilePath)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	metadata := map[string]any{
		"file_path":       ej.FilePath,
		"filename":        ej.Filename,
		"file_type":       ext,
		"size":            size,
		"extraction_date": time.Now().Format(time.RFC3339),
		"title":           doc.Title,
		"author":          doc.Author,
		"subject":         doc.Subject,
		"keywords":        doc.Keywords,
		"creator":         doc.Creator,
		"producer":        doc.Producer,
		"language":        doc.Language,
		"trace_id":        ej.TraceID,
	}

	cj := job.Chunk{
		TraceID:            ej.TraceID,
		FilePath:           ej.FilePath,
		Filename:           ej.Filename,
		DocumentSerialized: doc.ToMap(),
		MarkdownFallback:   doc.Markdown,
		Metadata:           metadata,
		ExtractionTime:     time.Now(),
		ProducerWorkerID:   w.cfg.WorkerID,
	}
	cjPayload, err := json.Marshal(cj)
	if err != nil {
		w.fail(ctx, ej, lockKey, payload, err)
		return
	}
	if err := w.broker.Push(ctx, w.cfg.QueueChunk, cjPayload); err != nil {
		w.fail(ctx, ej, lockKey, payload, err)
		return
	}

	// Status intentionally stays at "processing" here rather than advancing
	// to "processed": extraction finishing is not the same as the document
	// being embedded. The embed worker performs the terminal back-write.
	if err := w.broker.Release(ctx, lockKey); err != nil {
		logging.Fields(w.log.Error(), ej.TraceID, w.cfg.WorkerID, "extract", "release_error").Err(err).Msg("failed to release claim lock")
	}

	if w.Metrics != nil {
		w.Metrics.IncCounter("jobs_total", map[string]string{"stage": "extract"})
		w.Metrics.ObserveHistogram("job_duration_ms", float64(time.Since(started).Milliseconds()), map[string]string{"stage": "extract"})
	}

	logging.Fields(w.log.Info(), ej.TraceID, w.cfg.WorkerID, "extract", "job_complete").
		Str("filename", ej.Filename).Msg("extraction complete, chunk job dispatched")
}

func (w *Worker) fail(ctx context.Context, ej job.Extract, lockKey string, payload []byte, cause error) {
	msg := cause.Error()
	if err := w.status.Update(ctx, ej.FilePath, statusstore.Error, &msg); err != nil {
		logging.Fields(w.log.Error(), ej.TraceID, w.cfg.WorkerID, "extract", "status_error").Err(err).Msg("failed to mark error")
	}
	if err := w.broker.Release(ctx, lockKey); err != nil {
		logging.Fields(w.log.Error(), ej.TraceID, w.cfg.WorkerID, "extract", "release_error").Err(err).Msg("failed to release claim lock")
	}
	if err := w.DLQ.Publish(ctx, w.cfg.QueueExtract, "extract", w.cfg.WorkerID, ej.TraceID, payload, cause); err != nil {
		logging.Fields(w.log.Error(), ej.TraceID, w.cfg.WorkerID, "extract", "dlq_error").Err(err).Msg("failed to publish dead letter")
	}
	if w.Metrics != nil {
		w.Metrics.IncCounter("jobs_failed_total", map[string]string{"stage": "extract"})
	}
	logging.Fields(w.log.Error(), ej.TraceID, w.cfg.WorkerID, "extract", "job_failed").
		Str("filename", ej.Filename).Err(cause).Msg("extraction failed")
}
