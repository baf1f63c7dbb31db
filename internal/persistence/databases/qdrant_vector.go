package databases

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant point ids must be UUIDs or unsigned integers, but the pipeline
// keys every record <document_id>_<chunk_index>. Each record key is mapped
// to a deterministic UUID (so reprocessing a document overwrites the same
// points) and the composite key itself rides along in the payload under
// recordKeyField for the read path to surface.
const recordKeyField = "_record_key"

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantVector connects to Qdrant's gRPC API (port 6334 by default) and
// ensures the chunk collection exists with the requested distance metric.
// An API key may ride on the DSN as a query parameter:
// "http://localhost:6334?api_key=...".
func NewQdrantVector(dsn string, collection string, dimensions int, metric string) (VectorStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires dimensions > 0")
	}

	cfg, err := qdrantConfigFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &qdrantStore{client: client, collection: collection, dimension: dimensions}
	if err := q.ensureCollection(context.Background(), metric); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection %s: %w", collection, err)
	}
	return q, nil
}

func qdrantConfigFromDSN(dsn string) (*qdrant.Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
		}
	}
	cfg := &qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: u.Scheme == "https",
		APIKey: u.Query().Get("api_key"),
	}
	return cfg, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context, metric string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	distance := qdrant.Distance_Cosine
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// pointID maps a record key to the deterministic UUID Qdrant stores it
// under. A key that already parses as a UUID passes through unchanged.
func pointID(key string) (id string, mapped bool) {
	if _, err := uuid.Parse(key); err == nil {
		return key, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(), true
}

func (q *qdrantStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	uid, mapped := pointID(id)

	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	if mapped {
		payload[recordKeyField] = id
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uid),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert point %s: %w", id, err)
	}
	return nil
}

func (q *qdrantStore) Delete(ctx context.Context, id string) error {
	uid, _ := pointID(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uid)),
	})
	if err != nil {
		return fmt.Errorf("delete point %s: %w", id, err)
	}
	return nil
}

func (q *qdrantStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}

	var qf *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for field, value := range filter {
			must = append(must, qdrant.NewMatch(field, value))
		}
		qf = &qdrant.Filter{Must: must}
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", q.collection, err)
	}

	results := make([]VectorResult, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]string, len(hit.Payload))
		key := ""
		for field, value := range hit.Payload {
			if field == recordKeyField {
				key = value.GetStringValue()
				continue
			}
			metadata[field] = value.GetStringValue()
		}
		if key == "" {
			// Point was stored under its own UUID, no mapping involved.
			key = hit.Id.GetUuid()
			if key == "" {
				key = hit.Id.String()
			}
		}
		results = append(results, VectorResult{
			ID:       key,
			Score:    float64(hit.Score),
			Metadata: metadata,
		})
	}
	return results, nil
}

func (q *qdrantStore) Dimension() int { return q.dimension }

func (q *qdrantStore) Close() error { return q.client.Close() }
