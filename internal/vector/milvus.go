package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/models"
)

const (
	milvusFieldID     = "id"
	milvusFieldVector = "vector"
	// milvusQueryWindow is the largest result window Milvus accepts for a query.
	milvusQueryWindow = 16384
)

// MilvusStore stores points in a Milvus collection.
type MilvusStore struct {
	milvus         client.Client
	collection     string
	hnswM          int
	efConstruction int
	dimensions     int
	logger         *zap.Logger
}

// MilvusOptions configures NewMilvusStore.
type MilvusOptions struct {
	Host           string
	Port           int
	Collection     string
	HNSWM          int
	EfConstruction int
	Logger         *zap.Logger
}

// NewMilvusStore connects to Milvus.
func NewMilvusStore(ctx context.Context, opts MilvusOptions) (*MilvusStore, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	c, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MilvusStore{
		milvus:         c,
		collection:     opts.Collection,
		hnswM:          opts.HNSWM,
		efConstruction: opts.EfConstruction,
		logger:         logger,
	}, nil
}

// Name returns the collection name.
func (s *MilvusStore) Name() string {
	return s.collection
}

func milvusSchema(name string, dimension int) *entity.Schema {
	varchar := func(field string, maxLen int, pk bool) *entity.Field {
		return &entity.Field{
			Name:       field,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: pk,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}
	return &entity.Schema{
		CollectionName: name,
		Description:    "Person appearance embeddings",
		Fields: []*entity.Field{
			varchar(milvusFieldID, 64, true),
			{
				Name:       milvusFieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dimension)},
			},
			varchar(FieldDatasetName, 256, false),
			varchar(FieldPath, 4096, false),
			{Name: FieldMetadata, DataType: entity.FieldTypeJSON},
		},
	}
}

// CreateCollection creates the collection with an HNSW cosine index and loads it.
// An existing collection is kept unless spec.Recreate is set.
func (s *MilvusStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Distance != DistanceCosine {
		return fmt.Errorf("unsupported distance %q", spec.Distance)
	}
	has, err := s.milvus.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has && spec.Recreate {
		s.logger.Info("dropping collection", zap.String("collection", s.collection))
		if err := s.milvus.DropCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
		has = false
	}
	if !has {
		err := s.milvus.CreateCollection(ctx, milvusSchema(s.collection, spec.Dimension), entity.DefaultShardNumber,
			client.WithConsistencyLevel(entity.ClStrong))
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, s.hnswM, s.efConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := s.milvus.CreateIndex(ctx, s.collection, milvusFieldVector, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		s.logger.Info("created collection", zap.String("collection", s.collection), zap.Int("dimension", spec.Dimension))
	}
	if err := s.milvus.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	s.dimensions = spec.Dimension
	return nil
}

// Upsert writes one point.
func (s *MilvusStore) Upsert(ctx context.Context, point models.Point) error {
	metadata, err := json.Marshal(point.Payload.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = s.milvus.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldID, []string{point.ID}),
		entity.NewColumnFloatVector(milvusFieldVector, len(point.Vector), [][]float32{point.Vector}),
		entity.NewColumnVarChar(FieldDatasetName, []string{point.Payload.DatasetName}),
		entity.NewColumnVarChar(FieldPath, []string{point.Payload.Path}),
		entity.NewColumnJSONBytes(FieldMetadata, [][]byte{metadata}),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", point.ID, err)
	}
	return nil
}

// datasetExpr builds a boolean expression admitting any of names.
func datasetExpr(names []string) string {
	if len(names) == 0 {
		return ""
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return fmt.Sprintf("%s in [%s]", FieldDatasetName, strings.Join(quoted, ", "))
}

// Search runs an HNSW search with an optional dataset_name expression filter.
func (s *MilvusStore) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]models.SearchResult, error) {
	sp, err := entity.NewIndexHNSWSearchParam(max(topK, 64))
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}
	results, err := s.milvus.Search(ctx,
		s.collection,
		nil,
		datasetExpr(filter.DatasetNames),
		[]string{milvusFieldID, FieldDatasetName, FieldPath, FieldMetadata},
		[]entity.Vector{entity.FloatVector(query)},
		milvusFieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	var out []models.SearchResult
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			r := models.SearchResult{Score: float64(result.Scores[i])}
			var perr error
			r.ID, r.Payload, perr = rowPayload(result.Fields, i)
			if perr != nil {
				s.logger.Warn("milvus: dropping undecodable metadata", zap.String("id", r.ID), zap.Error(perr))
			}
			out = append(out, r)
		}
	}
	if out == nil {
		out = []models.SearchResult{}
	}
	return out, nil
}

// rowPayload reads row i. A metadata decode error is returned alongside the rest of the payload.
func rowPayload(cols client.ResultSet, i int) (string, models.Payload, error) {
	var id string
	p := models.Payload{Metadata: make(map[string]string)}
	if c, ok := cols.GetColumn(milvusFieldID).(*entity.ColumnVarChar); ok {
		id = c.Data()[i]
	}
	if c, ok := cols.GetColumn(FieldDatasetName).(*entity.ColumnVarChar); ok {
		p.DatasetName = c.Data()[i]
	}
	if c, ok := cols.GetColumn(FieldPath).(*entity.ColumnVarChar); ok {
		p.Path = c.Data()[i]
	}
	if c, ok := cols.GetColumn(FieldMetadata).(*entity.ColumnJSONBytes); ok {
		if err := json.Unmarshal(c.Data()[i], &p.Metadata); err != nil {
			p.Metadata = make(map[string]string)
			return id, p, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return id, p, nil
}

// ListDistinct queries a scalar field and deduplicates it client side.
// Only the first milvusQueryWindow points are considered.
func (s *MilvusStore) ListDistinct(ctx context.Context, field string) ([]string, error) {
	if field != FieldDatasetName && field != FieldPath {
		return nil, fmt.Errorf("field %s is not a scalar column", field)
	}
	rs, err := s.milvus.Query(ctx, s.collection, nil, fmt.Sprintf(`%s != ""`, field), []string{field},
		client.WithLimit(milvusQueryWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", field, err)
	}
	col, ok := rs.GetColumn(field).(*entity.ColumnVarChar)
	if !ok {
		return []string{}, nil
	}
	seen := make(map[string]bool)
	values := make([]string, 0)
	for _, v := range col.Data() {
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

// Exists queries the primary key.
func (s *MilvusStore) Exists(ctx context.Context, id string) (bool, error) {
	rs, err := s.milvus.Query(ctx, s.collection, nil, fmt.Sprintf("%s in [%s]", milvusFieldID, strconv.Quote(id)), []string{milvusFieldID})
	if err != nil {
		return false, fmt.Errorf("failed to retrieve point %s: %w", id, err)
	}
	col := rs.GetColumn(milvusFieldID)
	return col != nil && col.Len() > 0, nil
}

// Count returns count(*) over the collection.
func (s *MilvusStore) Count(ctx context.Context) (int64, error) {
	rs, err := s.milvus.Query(ctx, s.collection, nil, "", []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, fmt.Errorf("failed to count points: unexpected result")
	}
	return col.Data()[0], nil
}

// Close flushes pending writes and closes the connection.
func (s *MilvusStore) Close() error {
	if s.dimensions > 0 {
		if err := s.milvus.Flush(context.Background(), s.collection, false); err != nil {
			s.logger.Warn("failed to flush collection", zap.String("collection", s.collection), zap.Error(err))
		}
	}
	return s.milvus.Close()
}
