package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ingestfabric/internal/broker"
	"ingestfabric/internal/statusstore"
)

type fakeBroker struct {
	locks   map[string]bool
	pushed  [][]byte
	pushedQ []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{locks: map[string]bool{}}
}

func (f *fakeBroker) Push(_ context.Context, queue string, payload []byte) error {
	f.pushed = append(f.pushed, payload)
	f.pushedQ = append(f.pushedQ, queue)
	return nil
}

func (f *fakeBroker) Claim(_ context.Context, key, _ string, _ time.Duration) error {
	if f.locks[key] {
		return broker.ErrLockHeld
	}
	f.locks[key] = true
	return nil
}

func (f *fakeBroker) Exists(_ context.Context, key string) (bool, error) {
	return f.locks[key], nil
}

func (f *fakeBroker) ProbeLocks(_ context.Context, keys []string) (map[string]bool, error) {
	held := make(map[string]bool, len(keys))
	for _, k := range keys {
		held[k] = f.locks[k]
	}
	return held, nil
}

type fakeStatusStore struct {
	statuses map[string]statusstore.Status
	added    []string
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{statuses: map[string]statusstore.Status{}}
}

func (f *fakeStatusStore) GetStatus(_ context.Context, filepath string) (statusstore.Status, error) {
	s, ok := f.statuses[filepath]
	if !ok {
		return "", statusstore.ErrNotFound
	}
	return s, nil
}

func (f *fakeStatusStore) Add(_ context.Context, _, filepath string, status statusstore.Status, _ string) error {
	f.added = append(f.added, filepath)
	f.statuses[filepath] = status
	return nil
}

type fakeRegistry struct{ exts []string }

func (f fakeRegistry) Extensions() []string { return f.exts }

func newTestManager(t *testing.T, b Broker, s StatusStore) (*Manager, string) {
	dir := t.TempDir()
	cfg := Config{
		ManagerID:    "mgr-1",
		LibraryDir:   dir,
		LockPrefix:   "lock:",
		LockTTL:      300 * time.Second,
		ScanInterval: time.Second,
		QueueExtract: "extraction_queue",
	}
	m := New(cfg, b, s, fakeRegistry{exts: []string{"pdf"}}, zerolog.Nop())
	return m, dir
}

func TestScan_DispatchesUnseenFile(t *testing.T) {
	b := newFakeBroker()
	s := newFakeStatusStore()
	m, dir := newTestManager(t, b, s)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("x"), 0o644))

	stats, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesFound)
	require.Equal(t, 1, stats.JobsCreated)
	require.Equal(t, 0, stats.FilesSkipped)
	require.Len(t, b.pushed, 1)
	require.Equal(t, "extraction_queue", b.pushedQ[0])
}

func TestScan_SkipsUnsupportedExtension(t *testing.T) {
	b := newFakeBroker()
	s := newFakeStatusStore()
	m, dir := newTestManager(t, b, s)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.docx"), []byte("x"), 0o644))

	stats, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.FilesFound)
}

func TestScan_SkipsAlreadyProcessed(t *testing.T) {
	b := newFakeBroker()
	s := newFakeStatusStore()
	m, dir := newTestManager(t, b, s)
	path := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	s.statuses[path] = statusstore.Processed

	stats, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesFound)
	require.Equal(t, 0, stats.JobsCreated)
	require.Equal(t, 1, stats.FilesSkipped)
	require.Empty(t, b.pushed)
}

func TestScan_SkipsLockedFile(t *testing.T) {
	b := newFakeBroker()
	s := newFakeStatusStore()
	m, dir := newTestManager(t, b, s)
	path := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	b.locks[broker.LockKey("lock:", "a.pdf")] = true

	stats, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.JobsCreated)
	require.Equal(t, 1, stats.FilesSkipped)
}

func TestScan_RepeatedScanIsNoDuplicateDispatch(t *testing.T) {
	b := newFakeBroker()
	s := newFakeStatusStore()
	m, dir := newTestManager(t, b, s)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("x"), 0o644))

	_, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, b.pushed, 1)

	// Second scan: the claim lock was never released in this test, so no
	// second job may be dispatched.
	stats, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.JobsCreated)
	require.Len(t, b.pushed, 1)
}
