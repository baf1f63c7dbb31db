package embedworker

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ingestfabric/internal/embed"
	"ingestfabric/internal/job"
	"ingestfabric/internal/objectstore"
	"ingestfabric/internal/persistence/databases"
	"ingestfabric/internal/statusstore"
)

type fakeBroker struct{}

func (fakeBroker) Pop(_ context.Context, _ string, _ time.Duration) ([]byte, error) {
	return nil, nil
}

type fakeVectorStore struct {
	upserts map[string][]float32
	meta    map[string]map[string]string
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{upserts: map[string][]float32{}, meta: map[string]map[string]string{}}
}

func (f *fakeVectorStore) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	f.upserts[id] = vector
	f.meta[id] = metadata
	return nil
}
func (f *fakeVectorStore) Delete(_ context.Context, id string) error {
	delete(f.upserts, id)
	return nil
}
func (f *fakeVectorStore) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]databases.VectorResult, error) {
	return nil, nil
}

type fakeStatusStore struct {
	updates map[string]statusstore.Status
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{updates: map[string]statusstore.Status{}}
}

func (f *fakeStatusStore) UpdateByTraceID(_ context.Context, traceID string, status statusstore.Status, _ *string) error {
	f.updates[traceID] = status
	return nil
}

func writeStaging(t *testing.T, dir string, sf stagingFile) string {
	path := filepath.Join(dir, "report_chunks.json")
	data, err := json.Marshal(sf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestProcess_UpsertsOneRecordPerChunkAndBackWritesProcessed(t *testing.T) {
	dir := t.TempDir()
	path := writeStaging(t, dir, stagingFile{
		Chunks: []chunkRecord{
			{Index: 0, Text: "alpha chunk"},
			{Index: 1, Text: "beta chunk"},
		},
		Metadata: map[string]any{"file_path": "/lib/report.pdf", "trace_id": "t-1"},
	})

	b := fakeBroker{}
	vs := newFakeVectorStore()
	ss := newFakeStatusStore()
	w := New(Config{WorkerID: "embed-0", QueueEmbed: "embedding_queue", PopTimeout: time.Second},
		b, embed.NewDeterministic(8, true, 1), vs, ss, zerolog.Nop())

	ej := job.Embed{ChunksFileReference: path, Metadata: map[string]any{"trace_id": "t-1", "file_path": "/lib/report.pdf"}}
	require.NoError(t, w.process(context.Background(), ej))

	require.Len(t, vs.upserts, 2)
	require.Equal(t, statusstore.Processed, ss.updates["t-1"])

	for id, meta := range vs.meta {
		require.Equal(t, "t-1", meta["trace_id"])
		require.NotEmpty(t, id)
	}
}

func TestProcess_DerivesDocumentIDWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeStaging(t, dir, stagingFile{
		Chunks:   []chunkRecord{{Index: 0, Text: "only chunk"}},
		Metadata: map[string]any{"file_path": "/lib/x.pdf"},
	})

	b := fakeBroker{}
	vs := newFakeVectorStore()
	ss := newFakeStatusStore()
	w := New(Config{WorkerID: "embed-0", QueueEmbed: "embedding_queue", PopTimeout: time.Second},
		b, embed.NewDeterministic(8, true, 1), vs, ss, zerolog.Nop())

	ej := job.Embed{ChunksFileReference: path, Metadata: map[string]any{"file_path": "/lib/x.pdf"}}
	require.NoError(t, w.process(context.Background(), ej))

	var key string
	for k := range vs.upserts {
		key = k
	}
	require.Contains(t, key, "doc_")
}

func TestProcess_MissingStagingFileMarksError(t *testing.T) {
	b := fakeBroker{}
	vs := newFakeVectorStore()
	ss := newFakeStatusStore()
	w := New(Config{WorkerID: "embed-0", QueueEmbed: "embedding_queue", PopTimeout: time.Second},
		b, embed.NewDeterministic(8, true, 1), vs, ss, zerolog.Nop())

	ej := job.Embed{ChunksFileReference: "/nope/missing.json", Metadata: map[string]any{"trace_id": "t-9"}}
	require.Error(t, w.process(context.Background(), ej))
	require.Equal(t, statusstore.Error, ss.updates["t-9"])
}

func TestProcess_ObjectStoreReference_ReadsThroughStagingBackend(t *testing.T) {
	store := objectstore.NewMemoryStore()
	sf := stagingFile{
		Chunks:   []chunkRecord{{Index: 0, Text: "alpha"}, {Index: 1, Text: "beta"}},
		Metadata: map[string]any{"trace_id": "t-obj", "file_path": "/lib/r.pdf"},
	}
	data, err := json.Marshal(sf)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "r_chunks.json", bytes.NewReader(data), objectstore.PutOptions{})
	require.NoError(t, err)

	vs := newFakeVectorStore()
	ss := newFakeStatusStore()
	w := New(Config{WorkerID: "embed-0", QueueEmbed: "embedding_queue", PopTimeout: time.Second},
		fakeBroker{}, embed.NewDeterministic(8, true, 1), vs, ss, zerolog.Nop())
	w.Staging = store

	ej := job.Embed{ChunksFileReference: "obj://r_chunks.json", Metadata: map[string]any{"trace_id": "t-obj"}}
	require.NoError(t, w.process(context.Background(), ej))
	require.Len(t, vs.upserts, 2)
	require.Equal(t, statusstore.Processed, ss.updates["t-obj"])
}
