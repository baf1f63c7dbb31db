package extract

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"ingestfabric/internal/converter"
	"ingestfabric/internal/deadletter"
	"ingestfabric/internal/job"
	"ingestfabric/internal/obs"
	"ingestfabric/internal/statusstore"
)

type fakeBroker struct {
	released []string
	pushed   map[string][][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{pushed: map[string][][]byte{}}
}

func (f *fakeBroker) Pop(_ context.Context, _ string, _ time.Duration) ([]byte, error) {
	return nil, nil
}

func (f *fakeBroker) Push(_ context.Context, queue string, payload []byte) error {
	f.pushed[queue] = append(f.pushed[queue], payload)
	return nil
}

func (f *fakeBroker) Release(_ context.Context, key string) error {
	f.released = append(f.released, key)
	return nil
}

type fakeStatusStore struct {
	updates []statusstore.Status
	lastErr *string
}

func (f *fakeStatusStore) Update(_ context.Context, _ string, status statusstore.Status, errMsg *string) error {
	f.updates = append(f.updates, status)
	f.lastErr = errMsg
	return nil
}

type fakeRegistry struct{ reg *converter.Registry }

func (f fakeRegistry) For(fileType string) (converter.Converter, bool) { return f.reg.For(fileType) }

func newWorker(b Broker, s StatusStore) *Worker {
	cfg := Config{
		WorkerID:     "extract-0",
		LockPrefix:   "lock:",
		QueueExtract: "extraction_jobs",
		QueueChunk:   "document_processing_queue",
		PopTimeout:   time.Second,
	}
	reg := fakeRegistry{reg: converter.NewRegistry(converter.PDFConverter{}, converter.HTMLConverter{})}
	return New(cfg, b, s, reg, zerolog.Nop())
}

func TestProcess_HappyPathPushesChunkJobAndReleasesLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("Quarterly Report\n\nBody text here."), 0o644))

	b := newFakeBroker()
	s := &fakeStatusStore{}
	w := newWorker(b, s)

	ej := job.Extract{TraceID: "t-1", FilePath: path, Filename: "report.pdf"}
	w.process(context.Background(), ej, mustJSON(t, ej))

	require.Contains(t, s.updates, statusstore.Processing)
	require.NotContains(t, s.updates, statusstore.Processed)
	require.Len(t, b.pushed["document_processing_queue"], 1)
	require.Contains(t, b.released, "lock:extraction:report.pdf")

	var cj job.Chunk
	require.NoError(t, json.Unmarshal(b.pushed["document_processing_queue"][0], &cj))
	require.Equal(t, "t-1", cj.TraceID)
	require.NotEmpty(t, cj.MarkdownFallback)
	require.Equal(t, "extract-0", cj.ProducerWorkerID)
}

func TestProcess_EmptyFileMarksErrorAndReleasesLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	b := newFakeBroker()
	s := &fakeStatusStore{}
	w := newWorker(b, s)

	ej := job.Extract{TraceID: "t-2", FilePath: path, Filename: "empty.pdf"}
	w.process(context.Background(), ej, mustJSON(t, ej))

	require.Contains(t, s.updates, statusstore.Error)
	require.NotNil(t, s.lastErr)
	require.Empty(t, b.pushed["document_processing_queue"])
	require.Contains(t, b.released, "lock:extraction:empty.pdf")
}

func TestProcess_UnsupportedExtensionMarksError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.docx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	b := newFakeBroker()
	s := &fakeStatusStore{}
	w := newWorker(b, s)

	ej := job.Extract{TraceID: "t-3", FilePath: path, Filename: "notes.docx"}
	w.process(context.Background(), ej, mustJSON(t, ej))

	require.Contains(t, s.updates, statusstore.Error)
	require.Contains(t, b.released, "lock:extraction:notes.docx")
}

func TestProcess_FailurePublishesDeadLetterAndCountsMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	b := newFakeBroker()
	s := &fakeStatusStore{}
	w := newWorker(b, s)

	sink := &dlqSink{}
	w.DLQ = deadletter.New(sink)
	metrics := obs.NewMockMetrics()
	w.Metrics = metrics

	ej := job.Extract{TraceID: "t-4", FilePath: path, Filename: "empty.pdf"}
	w.process(context.Background(), ej, mustJSON(t, ej))

	require.Len(t, sink.msgs, 1)
	require.Equal(t, "extraction_jobs.dlq", sink.msgs[0].Topic)
	require.Equal(t, "t-4", string(sink.msgs[0].Key))
	require.Equal(t, 1, metrics.Counters["jobs_failed_total"])
}

type dlqSink struct {
	msgs []kafka.Message
}

func (s *dlqSink) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
