// Package embedworker implements the Embed Worker: the final pipeline
// stage, computing embeddings for staged chunks and upserting them into
// the vector store. It also performs the terminal status back-write:
// status only advances to processed once embedding actually finishes, not
// at extraction time.
package embedworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ingestfabric/internal/broker"
	"ingestfabric/internal/deadletter"
	"ingestfabric/internal/embed"
	"ingestfabric/internal/job"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/obs"
	"ingestfabric/internal/objectstore"
	"ingestfabric/internal/persistence/databases"
	"ingestfabric/internal/statusstore"
)

// Broker is the subset of the Queue Broker Contract this worker needs.
type Broker interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// StatusStore is the subset of the Status Store this worker needs for the
// terminal back-write keyed by trace_id.
type StatusStore interface {
	UpdateByTraceID(ctx context.Context, traceID string, status statusstore.Status, errMsg *string) error
}

// Config configures one Worker instance.
type Config struct {
	WorkerID   string
	QueueEmbed string
	PopTimeout time.Duration
}

// Worker is one member of the Embed Worker Pool.
type Worker struct {
	cfg      Config
	broker   Broker
	embedder embed.Embedder
	vectors  databases.VectorStore
	status   StatusStore
	log      zerolog.Logger

	// Staging, when set, resolves obj:// chunk-file references produced by
	// a chunk worker running with the same object-store backend.
	Staging objectstore.Store
	// Metrics, when set, records per-job counters and latency.
	Metrics obs.Metrics
	// DLQ, when set, receives the payload of every terminally-failed job.
	DLQ *deadletter.Publisher
}

// New constructs a Worker.
func New(cfg Config, b Broker, embedder embed.Embedder, vectors databases.VectorStore, status StatusStore, log zerolog.Logger) *Worker {
	return &Worker{cfg: cfg, broker: b, embedder: embedder, vectors: vectors, status: status, log: log}
}

// Run loops: blocking-pop one embed job, process it to completion, repeat.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := w.broker.Pop(ctx, w.cfg.QueueEmbed, w.cfg.PopTimeout)
		if errors.Is(err, broker.ErrTimeout) {
			continue
		}
		if err != nil {
			logging.Fields(w.log.Error(), "-", w.cfg.WorkerID, "embed", "pop_error").Err(err).Msg("broker pop failed")
			time.Sleep(5 * time.Second)
			continue
		}

		var ej job.Embed
		if err := json.Unmarshal(payload, &ej); err != nil {
			logging.Fields(w.log.Error(), "-", w.cfg.WorkerID, "embed", "decode_error").Err(err).Msg("malformed embed job")
			continue
		}
		if err := w.process(ctx, ej); err != nil {
			traceID, _ := ej.Metadata["trace_id"].(string)
			if derr := w.DLQ.Publish(ctx, w.cfg.QueueEmbed, "embed", w.cfg.WorkerID, traceID, payload, err); derr != nil {
				logging.Fields(w.log.Error(), traceID, w.cfg.WorkerID, "embed", "dlq_error").Err(derr).Msg("failed to publish dead letter")
			}
			if w.Metrics != nil {
				w.Metrics.IncCounter("jobs_failed_total", map[string]string{"stage": "embed"})
			}
			logging.Fields(w.log.Error(), traceID, w.cfg.WorkerID, "embed", "job_failed").Err(err).Msg("embedding failed")
		}
	}
}

type chunkRecord struct {
	Index       int      `json:"chunk_index"`
	Text        string   `json:"text"`
	SectionPath []string `json:"section_path,omitempty"`
	// legacy key names from older staging files
	Document string `json:"document,omitempty"`
	Item     string `json:"item,omitempty"`
}

type stagingFile struct {
	Chunks    []chunkRecord  `json:"chunks"`
	Documents []chunkRecord  `json:"documents,omitempty"`
	Items     []chunkRecord  `json:"items,omitempty"`
	Texts     []string       `json:"texts,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

func (w *Worker) process(ctx context.Context, ej job.Embed) error {
	traceID, _ := ej.Metadata["trace_id"].(string)
	started := time.Now()

	logging.Fields(w.log.Info(), traceID, w.cfg.WorkerID, "embed", "job_received").
		Str("staging_file", ej.ChunksFileReference).Msg("embed job received")

	data, err := w.readStaging(ctx, ej.ChunksFileReference)
	if err != nil {
		w.fail(ctx, traceID, fmt.Errorf("read staging file: %w", err))
		return err
	}

	var sf stagingFile
	if err := json.Unmarshal(data, &sf); err != nil {
		w.fail(ctx, traceID, fmt.Errorf("decode staging file: %w", err))
		return err
	}

	records := sf.Chunks
	if len(records) == 0 {
		records = sf.Documents
	}
	if len(records) == 0 {
		records = sf.Items
	}
	if len(records) == 0 && len(sf.Texts) > 0 {
		records = make([]chunkRecord, len(sf.Texts))
		for i, t := range sf.Texts {
			records[i] = chunkRecord{Index: i, Text: t}
		}
	}
	if len(records) == 0 {
		err := fmt.Errorf("staging file %s has no chunks", ej.ChunksFileReference)
		w.fail(ctx, traceID, err)
		return err
	}

	metadata := map[string]any{}
	for k, v := range sf.Metadata {
		metadata[k] = v
	}
	for k, v := range ej.Metadata {
		metadata[k] = v // job metadata wins over file metadata
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = resolveText(r)
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.fail(ctx, traceID, fmt.Errorf("embed batch: %w", err))
		return err
	}

	documentID, _ := metadata["document_id"].(string)
	if documentID == "" {
		filePath, _ := metadata["file_path"].(string)
		documentID = deriveDocumentID(filePath)
	}

	embeddingTimestamp := time.Now().Format(time.RFC3339)
	for i, rec := range records {
		if i >= len(vectors) {
			break
		}
		key := fmt.Sprintf("%s_%d", documentID, i)
		recMeta := map[string]string{
			"document_id":         documentID,
			"chunk_index":         fmt.Sprintf("%d", i),
			"text":                rec.Text,
			"embedding_model":     w.embedder.Name(),
			"embedding_timestamp": embeddingTimestamp,
		}
		for _, f := range []string{"file_path", "title", "author", "date", "source", "url", "doc_type", "category", "tags", "language", "trace_id"} {
			if v, ok := metadata[f].(string); ok && v != "" {
				recMeta[f] = v
			}
		}
		if err := w.vectors.Upsert(ctx, key, vectors[i], recMeta); err != nil {
			w.fail(ctx, traceID, fmt.Errorf("upsert %s: %w", key, err))
			return err
		}
	}

	if traceID != "" {
		if err := w.status.UpdateByTraceID(ctx, traceID, statusstore.Processed, nil); err != nil {
			logging.Fields(w.log.Error(), traceID, w.cfg.WorkerID, "embed", "status_error").Err(err).Msg("failed to back-write processed status")
		}
	}

	if w.Metrics != nil {
		w.Metrics.IncCounter("jobs_total", map[string]string{"stage": "embed"})
		w.Metrics.ObserveHistogram("job_duration_ms", float64(time.Since(started).Milliseconds()), map[string]string{"stage": "embed"})
	}

	logging.Fields(w.log.Info(), traceID, w.cfg.WorkerID, "embed", "job_complete").
		Str("document_id", documentID).Int("chunks", len(records)).Msg("embedding complete")
	return nil
}

// readStaging loads the chunks artifact, resolving obj:// references
// through the configured object store and plain paths through the local
// filesystem.
func (w *Worker) readStaging(ctx context.Context, ref string) ([]byte, error) {
	key, isObject := strings.CutPrefix(ref, "obj://")
	if !isObject {
		return os.ReadFile(ref)
	}
	if w.Staging == nil {
		return nil, fmt.Errorf("staging reference %s requires an object store backend", ref)
	}
	rc, _, err := w.Staging.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (w *Worker) fail(ctx context.Context, traceID string, cause error) {
	if traceID != "" {
		msg := cause.Error()
		if err := w.status.UpdateByTraceID(ctx, traceID, statusstore.Error, &msg); err != nil {
			logging.Fields(w.log.Error(), traceID, w.cfg.WorkerID, "embed", "status_error").Err(err).Msg("failed to mark error")
		}
	}
	logging.Fields(w.log.Error(), traceID, w.cfg.WorkerID, "embed", "job_failed").Err(cause).Msg("embed job failed")
}

func resolveText(r chunkRecord) string {
	if r.Text != "" {
		return r.Text
	}
	if r.Document != "" {
		return r.Document
	}
	return r.Item
}

// deriveDocumentID computes doc_<hash(file_path) mod 10^7, zero-padded to 7
// digits> when no document_id was supplied.
func deriveDocumentID(filePath string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(filePath))
	n := h.Sum32() % 10000000
	return fmt.Sprintf("doc_%07d", n)
}
