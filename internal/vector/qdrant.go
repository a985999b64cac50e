package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/models"
)

// QdrantStore stores points in a Qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	facetLimit uint64
	logger     *zap.Logger
}

// QdrantOptions configures NewQdrantStore.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	FacetLimit int
	Logger     *zap.Logger
}

// NewQdrantStore connects to Qdrant. The collection is not touched until first use.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.FacetLimit
	if limit <= 0 {
		limit = 1000
	}
	return &QdrantStore{client: client, collection: opts.Collection, facetLimit: uint64(limit), logger: logger}, nil
}

// Name returns the collection name.
func (s *QdrantStore) Name() string {
	return s.collection
}

// CreateCollection creates the collection with a keyword index on dataset_name.
// An existing collection is kept unless spec.Recreate is set.
func (s *QdrantStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Distance != DistanceCosine {
		return fmt.Errorf("unsupported distance %q", spec.Distance)
	}
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists && !spec.Recreate {
		return nil
	}
	if exists {
		s.logger.Info("dropping collection", zap.String("collection", s.collection))
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      FieldDatasetName,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", FieldDatasetName, err)
	}
	s.logger.Info("created collection", zap.String("collection", s.collection), zap.Int("dimension", spec.Dimension))
	return nil
}

// Upsert writes one point and waits for it to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, point models.Point) error {
	metadata := make(map[string]any, len(point.Payload.Metadata))
	for k, v := range point.Payload.Metadata {
		metadata[k] = v
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				FieldPath:        point.Payload.Path,
				FieldDatasetName: point.Payload.DatasetName,
				FieldMetadata:    metadata,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", point.ID, err)
	}
	return nil
}

// Search runs a nearest-neighbour query, matching dataset_name against any of filter's names.
func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]models.SearchResult, error) {
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter.DatasetNames) > 0 {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeywords(FieldDatasetName, filter.DatasetNames...)},
		}
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	results := make([]models.SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, models.SearchResult{
			ID:      pointIDString(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: payloadFromQdrant(p.GetPayload()),
		})
	}
	return results, nil
}

// ListDistinct returns the distinct values of a keyword-indexed payload field using a facet query.
func (s *QdrantStore) ListDistinct(ctx context.Context, field string) ([]string, error) {
	hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
		CollectionName: s.collection,
		Key:            field,
		Limit:          qdrant.PtrOf(s.facetLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", field, err)
	}
	values := make([]string, 0, len(hits))
	for _, h := range hits {
		if v := h.GetValue().GetStringValue(); v != "" {
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

// Exists retrieves the point by ID without its vector or payload.
func (s *QdrantStore) Exists(ctx context.Context, id string) (bool, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return false, fmt.Errorf("failed to retrieve point %s: %w", id, err)
	}
	return len(points) > 0, nil
}

// Count returns the exact number of points.
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int64(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointIDString(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadFromQdrant(values map[string]*qdrant.Value) models.Payload {
	p := models.Payload{
		Path:        values[FieldPath].GetStringValue(),
		DatasetName: values[FieldDatasetName].GetStringValue(),
		Metadata:    make(map[string]string),
	}
	for k, v := range values[FieldMetadata].GetStructValue().GetFields() {
		p.Metadata[k] = v.GetStringValue()
	}
	return p
}
