// Package vector provides the vector store: collection management, idempotent upsert and filtered similarity search.
package vector

import (
	"context"
	"errors"
	"slices"

	"github.com/hyperjump/personsearch/internal/models"
)

// Payload field names.
const (
	FieldDatasetName = "dataset_name"
	FieldPath        = "path"
	FieldMetadata    = "metadata"
)

// Distance is a similarity metric.
type Distance string

// DistanceCosine is the only metric the stores are created with.
const DistanceCosine Distance = "cosine"

// ErrCollectionNotFound is returned when a collection is used before it was created.
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionSpec describes the collection a store should hold.
type CollectionSpec struct {
	Dimension int
	Distance  Distance
	// Recreate drops an existing collection first. Every stored point is lost.
	Recreate bool
}

// Filter restricts search results by payload.
type Filter struct {
	// DatasetNames admits points whose dataset name is any of these. Empty admits all points.
	DatasetNames []string
}

// Matches reports whether a point with the given dataset name passes the filter.
func (f Filter) Matches(datasetName string) bool {
	return len(f.DatasetNames) == 0 || slices.Contains(f.DatasetNames, datasetName)
}

// Store holds one named collection of points.
type Store interface {
	// Name returns the collection name.
	Name() string
	// CreateCollection makes sure the collection exists with spec's dimension and distance.
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	// Upsert stores point, replacing any point with the same ID.
	Upsert(ctx context.Context, point models.Point) error
	// Search returns at most topK points by non-increasing similarity to query.
	Search(ctx context.Context, query []float32, topK int, filter Filter) ([]models.SearchResult, error)
	// ListDistinct returns the distinct values of a payload field, sorted.
	ListDistinct(ctx context.Context, field string) ([]string, error)
	Exists(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
