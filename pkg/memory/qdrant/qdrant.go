// Package qdrant implements [memory.VectorIndex] on top of a Qdrant server.
//
// Each namespace maps to its own collection named "<prefix>_<namespace>",
// created with cosine distance on first use. Qdrant point IDs must be UUIDs or
// integers, so the vector ID is hashed into a name-based UUID and the original
// ID is kept in the payload.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/MrWong99/questweaver/pkg/memory"
)

// payloadIDKey stores the caller-visible vector ID in each point's payload.
const payloadIDKey = "_id"

var _ memory.VectorIndex = (*Index)(nil)

// Config holds connection settings for [New].
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// CollectionPrefix is prepended to namespace names. Defaults to
	// "questweaver".
	CollectionPrefix string

	// Dimensions is the embedding size used when creating collections.
	Dimensions int
}

// Index is a Qdrant-backed [memory.VectorIndex].
// All methods are safe for concurrent use.
type Index struct {
	client *qc.Client
	cfg    Config

	mu      sync.Mutex
	ensured map[string]bool
}

// New connects to Qdrant. Collections are created lazily.
func New(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "questweaver"
	}
	client, err := qc.NewClient(&qc.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &Index{client: client, cfg: cfg, ensured: make(map[string]bool)}, nil
}

// Close releases the underlying gRPC connection.
func (x *Index) Close() error {
	return x.client.Close()
}

// Ping verifies the server is reachable.
func (x *Index) Ping(ctx context.Context) error {
	if _, err := x.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Upsert implements [memory.VectorIndex].
func (x *Index) Upsert(ctx context.Context, v memory.Vector) error {
	collection, err := x.collection(ctx, v.Namespace)
	if err != nil {
		return err
	}

	payload := make(map[string]any, len(v.Metadata)+1)
	for k, val := range v.Metadata {
		payload[k] = val
	}
	payload[payloadIDKey] = v.ID

	wait := true
	_, err = x.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: []*qc.PointStruct{{
			Id:      qc.NewIDUUID(pointID(v.ID)),
			Vectors: qc.NewVectors(v.Embedding...),
			Payload: qc.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %q: %w", v.ID, err)
	}
	return nil
}

// Query implements [memory.VectorIndex].
func (x *Index) Query(ctx context.Context, embedding []float32, filter memory.Filter, topK int) ([]memory.Hit, error) {
	collection, err := x.collection(ctx, filter.Namespace)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	limit := uint64(topK)

	points, err := x.client.Query(ctx, &qc.QueryPoints{
		CollectionName: collection,
		Query:          qc.NewQuery(embedding...),
		Filter:         buildFilter(filter.Match),
		Limit:          &limit,
		WithPayload: &qc.WithPayloadSelector{
			SelectorOptions: &qc.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	hits := make([]memory.Hit, 0, len(points))
	for _, p := range points {
		md := make(map[string]string, len(p.Payload))
		for k, val := range p.Payload {
			if k != payloadIDKey {
				md[k] = val.GetStringValue()
			}
		}
		hits = append(hits, memory.Hit{
			ID:       p.Payload[payloadIDKey].GetStringValue(),
			Score:    float64(p.Score),
			Metadata: md,
		})
	}
	return hits, nil
}

// Delete implements [memory.VectorIndex].
func (x *Index) Delete(ctx context.Context, ns memory.Namespace, id string) error {
	collection, err := x.collection(ctx, ns)
	if err != nil {
		return err
	}
	wait := true
	_, err = x.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Points{
				Points: &qc.PointsIdsList{Ids: []*qc.PointId{qc.NewIDUUID(pointID(id))}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %q: %w", id, err)
	}
	return nil
}

// DeleteWhere implements [memory.VectorIndex].
func (x *Index) DeleteWhere(ctx context.Context, filter memory.Filter) error {
	if len(filter.Match) == 0 {
		return memory.ErrEmptyFilter
	}
	collection, err := x.collection(ctx, filter.Namespace)
	if err != nil {
		return err
	}
	wait := true
	_, err = x.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Filter{Filter: buildFilter(filter.Match)},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete where: %w", err)
	}
	return nil
}

// collection returns the collection for ns, creating it on first use.
func (x *Index) collection(ctx context.Context, ns memory.Namespace) (string, error) {
	name := x.cfg.CollectionPrefix + "_" + string(ns)

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ensured[name] {
		return name, nil
	}

	exists, err := x.client.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("qdrant: check collection %q: %w", name, err)
	}
	if !exists {
		err = x.client.CreateCollection(ctx, &qc.CreateCollection{
			CollectionName: name,
			VectorsConfig: &qc.VectorsConfig{
				Config: &qc.VectorsConfig_Params{
					Params: &qc.VectorParams{
						Size:     uint64(x.cfg.Dimensions),
						Distance: qc.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return "", fmt.Errorf("qdrant: create collection %q: %w", name, err)
		}
	}
	x.ensured[name] = true
	return name, nil
}

// buildFilter turns metadata equality conditions into a Qdrant must-filter.
// A nil result means no filtering.
func buildFilter(match map[string]string) *qc.Filter {
	if len(match) == 0 {
		return nil
	}
	must := make([]*qc.Condition, 0, len(match))
	for k, v := range match {
		must = append(must, &qc.Condition{
			ConditionOneOf: &qc.Condition_Field{
				Field: &qc.FieldCondition{
					Key: k,
					Match: &qc.Match{
						MatchValue: &qc.Match_Keyword{Keyword: v},
					},
				},
			},
		})
	}
	return &qc.Filter{Must: must}
}

// pointID derives a stable UUID for a vector ID.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}
