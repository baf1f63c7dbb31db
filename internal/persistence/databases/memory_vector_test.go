package databases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryVector_UpsertReplacesExistingKey(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "doc_0000001_0", []float32{1, 0}, map[string]string{"text": "old"}))
	require.NoError(t, v.Upsert(ctx, "doc_0000001_0", []float32{0, 1}, map[string]string{"text": "new"}))

	res, err := v.SimilaritySearch(ctx, []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "new", res[0].Metadata["text"])
}

func TestMemoryVector_SimilarityOrdersByCosine(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "near", []float32{1, 0.1}, nil))
	require.NoError(t, v.Upsert(ctx, "far", []float32{0, 1}, nil))
	require.NoError(t, v.Upsert(ctx, "mid", []float32{1, 1}, nil))

	res, err := v.SimilaritySearch(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "near", res[0].ID)
	require.Equal(t, "mid", res[1].ID)
	require.Greater(t, res[0].Score, res[1].Score)
}

func TestMemoryVector_FilterRestrictsResults(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "a_0", []float32{1, 0}, map[string]string{"file_path": "/lib/a.pdf"}))
	require.NoError(t, v.Upsert(ctx, "b_0", []float32{1, 0}, map[string]string{"file_path": "/lib/b.pdf"}))

	res, err := v.SimilaritySearch(ctx, []float32{1, 0}, 10, map[string]string{"file_path": "/lib/a.pdf"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "a_0", res[0].ID)
}

func TestMemoryVector_DeleteRemovesKey(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "x", []float32{1}, nil))
	require.NoError(t, v.Delete(ctx, "x"))
	res, err := v.SimilaritySearch(ctx, []float32{1}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, res)
}
