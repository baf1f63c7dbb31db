// Package embed provides the Embedder abstraction the embed worker calls,
// plus a deterministic implementation for tests that never needs a live
// model endpoint.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder converts chunk text into embedding vectors.
type Embedder interface {
	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name is the embedding_model provenance field.
	Name() string
	// Dimension is the fixed vector length this embedder produces.
	Dimension() int
	// Ping checks reachability of the backing model.
	Ping(ctx context.Context) error
}

// clientEmbedder calls a real embedding endpoint. It sends one chunk per
// request rather than batching, matching the conservative batching posture
// some local inference servers require.
type clientEmbedder struct {
	cfg ClientConfig
	dim int
	mu  sync.Mutex
}

// NewClient constructs an Embedder backed by an HTTP embedding endpoint.
func NewClient(cfg ClientConfig, dim int) Embedder {
	return &clientEmbedder{cfg: cfg, dim: dim}
}

func (c *clientEmbedder) Name() string   { return c.cfg.Model }
func (c *clientEmbedder) Dimension() int { return c.dim }

func (c *clientEmbedder) Ping(ctx context.Context) error {
	return checkReachability(ctx, c.cfg)
}

func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]float32
	for _, t := range texts {
		vecs, err := embedText(ctx, c.cfg, []string{t})
		if err != nil {
			return out, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// deterministicEmbedder hashes text 3-grams into a fixed-size vector. It
// needs no network and no model, so tests can exercise the embed worker's
// upsert logic without a live embedding service.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a deterministic Embedder suitable for tests.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicEmbedder) Name() string   { return "deterministic" }
func (d *deterministicEmbedder) Dimension() int { return d.dim }
func (d *deterministicEmbedder) Ping(context.Context) error { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
