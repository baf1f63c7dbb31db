package databases

import (
	"context"
	"math"
	"sort"
	"sync"
)

// memoryVector is the in-process VectorStore used by tests and by
// VECTOR_BACKEND=memory. Records live in a map keyed by the composite
// record key; each record's norm is computed once at upsert so the linear
// cosine scan on the read path only pays for dot products.
type memoryVector struct {
	mu      sync.RWMutex
	records map[string]memRecord
}

type memRecord struct {
	vector   []float32
	norm     float64
	metadata map[string]string
}

// NewMemoryVector returns an empty in-memory VectorStore.
func NewMemoryVector() VectorStore {
	return &memoryVector{records: map[string]memRecord{}}
}

func (m *memoryVector) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	rec := memRecord{
		vector:   append([]float32(nil), vector...),
		norm:     vectorNorm(vector),
		metadata: make(map[string]string, len(metadata)),
	}
	for k, v := range metadata {
		rec.metadata[k] = v
	}

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()
	return nil
}

func (m *memoryVector) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryVector) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	queryNorm := vectorNorm(vector)

	m.mu.RLock()
	hits := make([]VectorResult, 0, len(m.records))
	for id, rec := range m.records {
		if !metadataMatches(rec.metadata, filter) {
			continue
		}
		md := make(map[string]string, len(rec.metadata))
		for key, v := range rec.metadata {
			md[key] = v
		}
		hits = append(hits, VectorResult{
			ID:       id,
			Score:    cosineScore(vector, queryNorm, rec.vector, rec.norm),
			Metadata: md,
		})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// metadataMatches reports whether md carries every key/value pair in the
// filter. An empty filter matches everything.
func metadataMatches(md, filter map[string]string) bool {
	for k, want := range filter {
		if md[k] != want {
			return false
		}
	}
	return true
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosineScore(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
