// Package chunkworker implements the Chunk Worker: splits a
// structured document into token-bounded chunks and stages them on disk for
// the embed stage.
package chunkworker

import (
	"bytes"
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
	"ingestfabric/internal/chunk"
	"ingestfabric/internal/converter"
	"ingestfabric/internal/deadletter"
	"ingestfabric/internal/job"
	"ingestfabric/internal/logging"
	"ingestfabric/internal/obs"
	"ingestfabric/internal/objectstore"
)

// Broker is the subset of the Queue Broker Contract this worker needs.
type Broker interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Push(ctx context.Context, queue string, payload []byte) error
}

// Config configures one Worker instance.
type Config struct {
	WorkerID     string
	QueueChunk   string
	QueueEmbed   string
	PopTimeout   time.Duration
	ProcessedDir string
	MaxTokens    int
}

// Worker is one member of the Chunk Worker Pool.
type Worker struct {
	cfg     Config
	broker  Broker
	chunker chunk.Chunker
	conv    converter.Converter // used only for the markdown_fallback re-conversion path
	log     zerolog.Logger

	// Staging, when set, stores the chunks artifact in an object store
	// instead of the local processed directory; embed jobs then reference
	// it by an obj:// key.
	Staging objectstore.Store
	// Metrics, when set, records per-job counters and latency.
	Metrics obs.Metrics
	// DLQ, when set, receives the payload of every terminally-failed job.
	DLQ *deadletter.Publisher
}

// New constructs a Worker. conv is invoked only when a job's
// document_serialized is absent and markdown_fallback must be re-converted.
func New(cfg Config, b Broker, tok chunk.Tokenizer, conv converter.Converter, log zerolog.Logger) *Worker {
	return &Worker{cfg: cfg, broker: b, chunker: chunk.Chunker{Tokenizer: tok}, conv: conv, log: log}
}

// Run loops: blocking-pop one chunk job, process it to completion, repeat.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := w.broker.Pop(ctx, w.cfg.QueueChunk, w.cfg.PopTimeout)
		if errors.Is(err, broker.ErrTimeout) {
			continue
		}
		if err != nil {
			logging.Fields(w.log.Error(), "-", w.cfg.WorkerID, "chunk", "pop_error").Err(err).Msg("broker pop failed")
			time.Sleep(5 * time.Second)
			continue
		}

		var cj job.Chunk
		if err := json.Unmarshal(payload, &cj); err != nil {
			logging.Fields(w.log.Error(), "-", w.cfg.WorkerID, "chunk", "decode_error").Err(err).Msg("malformed chunk job")
			continue
		}
		if err := w.process(ctx, cj); err != nil {
			if derr := w.DLQ.Publish(ctx, w.cfg.QueueChunk, "chunk", w.cfg.WorkerID, cj.TraceID, payload, err); derr != nil {
				logging.Fields(w.log.Error(), cj.TraceID, w.cfg.WorkerID, "chunk", "dlq_error").Err(derr).Msg("failed to publish dead letter")
			}
			if w.Metrics != nil {
				w.Metrics.IncCounter("jobs_failed_total", map[string]string{"stage": "chunk"})
			}
			logging.Fields(w.log.Error(), cj.TraceID, w.cfg.WorkerID, "chunk", "job_failed").
				Str("filename", cj.Filename).Err(err).Msg("chunking failed")
		}
	}
}

type chunkRecord struct {
	Index       int      `json:"chunk_index"`
	Text        string   `json:"text"`
	SectionPath []string `json:"section_path,omitempty"`
}

type stagingFile struct {
	Chunks   []chunkRecord  `json:"chunks"`
	Metadata map[string]any `json:"metadata"`
}

func (w *Worker) process(ctx context.Context, cj job.Chunk) error {
	logging.Fields(w.log.Info(), cj.TraceID, w.cfg.WorkerID, "chunk", "job_received").
		Str("filename", cj.Filename).Msg("chunk job received")

	doc, err := w.resolveDocument(ctx, cj)
	if err != nil {
		return fmt.Errorf("resolve document: %w", err)
	}

	started := time.Now()
	chunks := w.chunker.Chunk(doc.Markdown, chunk.Options{MaxTokens: w.cfg.MaxTokens, MergePeers: true})
	elapsed := time.Since(started)

	records := make([]chunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = chunkRecord{Index: c.Index, Text: c.Text, SectionPath: c.SectionPath}
	}

	metadata := map[string]any{}
	for k, v := range cj.Metadata {
		metadata[k] = v
	}
	metadata["chunks_count"] = len(records)
	metadata["chunking_timestamp"] = time.Now().Format(time.RFC3339)
	metadata["chunking_time"] = elapsed.Seconds()

	staging := stagingFile{Chunks: records, Metadata: metadata}
	stagingPath, err := w.writeStaging(ctx, cj.Filename, staging)
	if err != nil {
		return fmt.Errorf("write staging file: %w", err)
	}

	ej := job.Embed{ChunksFileReference: stagingPath, Metadata: metadata}
	payload, err := json.Marshal(ej)
	if err != nil {
		return err
	}
	if err := w.broker.Push(ctx, w.cfg.QueueEmbed, payload); err != nil {
		return err
	}

	if w.Metrics != nil {
		w.Metrics.IncCounter("jobs_total", map[string]string{"stage": "chunk"})
		w.Metrics.ObserveHistogram("job_duration_ms", float64(time.Since(started).Milliseconds()), map[string]string{"stage": "chunk"})
	}

	logging.Fields(w.log.Info(), cj.TraceID, w.cfg.WorkerID, "chunk", "job_complete").
		Str("filename", cj.Filename).Int("chunks", len(records)).Msg("chunking complete, embed job dispatched")
	return nil
}

// resolveDocument deserializes document_serialized, falling back to
// re-converting markdown_fallback when absent.
func (w *Worker) resolveDocument(ctx context.Context, cj job.Chunk) (converter.Document, error) {
	if len(cj.DocumentSerialized) > 0 {
		return converter.FromMap(cj.DocumentSerialized), nil
	}
	if strings.TrimSpace(cj.MarkdownFallback) == "" {
		return converter.Document{}, fmt.Errorf("chunk job has neither document_serialized nor markdown_fallback")
	}
	if w.conv == nil {
		return converter.Document{SchemaVersion: 1, Markdown: cj.MarkdownFallback}, nil
	}
	return w.conv.ConvertMarkdown(ctx, cj.MarkdownFallback)
}

// writeStaging persists the chunks artifact and returns the reference the
// embed job will carry. With an object-store backend configured the artifact
// is Put under <basename>_chunks.json and referenced by an obj:// key;
// otherwise it is written atomically to the processed directory: temp file
// first, then rename, so a concurrent reader never observes a
// partially-written staging artifact.
func (w *Worker) writeStaging(ctx context.Context, filename string, sf stagingFile) (string, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return "", err
	}

	if w.Staging != nil {
		key := base + "_chunks.json"
		if _, err := w.Staging.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"}); err != nil {
			return "", err
		}
		return "obj://" + key, nil
	}

	if err := os.MkdirAll(w.cfg.ProcessedDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(w.cfg.ProcessedDir, base+"_chunks.json")

	tmp, err := os.CreateTemp(w.cfg.ProcessedDir, base+"_chunks-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return dest, nil
}
