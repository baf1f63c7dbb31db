package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func putArtifact(t *testing.T, s *MemoryStore, key, body string) string {
	t.Helper()
	etag, err := s.Put(context.Background(), key, bytes.NewReader([]byte(body)), PutOptions{ContentType: "application/json"})
	require.NoError(t, err)
	require.NotEmpty(t, etag)
	return etag
}

func TestMemoryStore_ArtifactRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	body := `{"chunks":[{"chunk_index":0,"text":"alpha"}],"metadata":{"trace_id":"t-1"}}`
	putArtifact(t, s, "report_chunks.json", body)

	rc, info, err := s.Get(context.Background(), "report_chunks.json")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
	require.Equal(t, "report_chunks.json", info.Key)
	require.Equal(t, int64(len(body)), info.Size)
	require.Equal(t, "application/json", info.ContentType)
}

func TestMemoryStore_RepeatedPutReplacesArtifact(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	first := putArtifact(t, s, "report_chunks.json", `{"chunks":[]}`)
	second := putArtifact(t, s, "report_chunks.json", `{"chunks":[{"chunk_index":0,"text":"new"}]}`)
	require.NotEqual(t, first, second)

	rc, _, err := s.Get(context.Background(), "report_chunks.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Contains(t, string(data), "new")

	items, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestMemoryStore_UnchangedArtifactKeepsETag(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	first := putArtifact(t, s, "report_chunks.json", `{"chunks":[]}`)
	second := putArtifact(t, s, "report_chunks.json", `{"chunks":[]}`)
	require.Equal(t, first, second)
}

func TestMemoryStore_GetMissingArtifact(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	_, _, err := s.Get(context.Background(), "missing_chunks.json")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Head(context.Background(), "missing_chunks.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	putArtifact(t, s, "report_chunks.json", `{}`)

	require.NoError(t, s.Delete(context.Background(), "report_chunks.json"))
	require.NoError(t, s.Delete(context.Background(), "report_chunks.json"))

	ok, err := s.Exists(context.Background(), "report_chunks.json")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore_ListFiltersByPrefixInKeyOrder(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	for _, key := range []string{"b_chunks.json", "a_chunks.json", "notes.txt"} {
		putArtifact(t, s, key, `{}`)
	}

	items, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "a_chunks.json", items[0].Key)

	items, err = s.List(context.Background(), "a_")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "a_chunks.json", items[0].Key)
}

func TestMemoryStore_Exists(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	ok, err := s.Exists(context.Background(), "report_chunks.json")
	require.NoError(t, err)
	require.False(t, ok)

	putArtifact(t, s, "report_chunks.json", `{}`)
	ok, err = s.Exists(context.Background(), "report_chunks.json")
	require.NoError(t, err)
	require.True(t, ok)
}
