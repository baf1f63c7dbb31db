package databases

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgvectorStore persists one row per enriched chunk in a pgvector-typed
// table. The row id is the pipeline's composite record key,
// <document_id>_<chunk_index>, so ON CONFLICT gives the full-replace upsert
// a document reprocess depends on.
type pgvectorStore struct {
	pool   *pgxpool.Pool
	metric string // cosine|l2|ip
}

// NewPostgresVector ensures the pgvector extension and the chunk_embeddings
// table exist, then returns the store. A zero dimensions value leaves the
// column untyped, accepting whatever the embedding model produces.
func NewPostgresVector(ctx context.Context, pool *pgxpool.Pool, dimensions int, metric string) (VectorStore, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("ensure pgvector extension: %w", err)
	}
	column := "vector"
	if dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", dimensions)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunk_embeddings (
  record_key TEXT PRIMARY KEY,
  embedding  %s,
  metadata   JSONB NOT NULL DEFAULT '{}'::jsonb
)`, column)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure chunk_embeddings table: %w", err)
	}
	return &pgvectorStore{pool: pool, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *pgvectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO chunk_embeddings (record_key, embedding, metadata)
VALUES ($1, $2::vector, $3)
ON CONFLICT (record_key) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`,
		id, vectorLiteral(vector), metadata)
	if err != nil {
		return fmt.Errorf("upsert chunk embedding %s: %w", id, err)
	}
	return nil
}

func (p *pgvectorStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE record_key = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chunk embedding %s: %w", id, err)
	}
	return nil
}

func (p *pgvectorStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	orderOp, scoreExpr := p.distance()

	where := ""
	args := []any{vectorLiteral(vector), k}
	if len(filter) > 0 {
		where = "WHERE metadata @> $3"
		args = append(args, filter)
	}
	query := fmt.Sprintf(
		`SELECT record_key, %s, metadata FROM chunk_embeddings %s ORDER BY embedding %s $1::vector LIMIT $2`,
		scoreExpr, where, orderOp)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var out []VectorResult
	for rows.Next() {
		var r VectorResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}

// distance maps the configured metric to pgvector's operator and a score
// expression where higher is always closer, matching the in-memory and
// Qdrant backends.
func (p *pgvectorStore) distance() (orderOp, scoreExpr string) {
	switch p.metric {
	case "l2", "euclidean":
		return "<->", "-(embedding <-> $1::vector)"
	case "ip", "dot":
		return "<#>", "-(embedding <#> $1::vector)"
	default:
		return "<=>", "1 - (embedding <=> $1::vector)"
	}
}

// vectorLiteral renders a float slice in pgvector's input syntax.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
