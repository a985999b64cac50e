package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/config"
)

// StoreType represents the vector store backend.
type StoreType string

const (
	// StoreTypeQdrant uses a Qdrant server over gRPC.
	StoreTypeQdrant StoreType = "qdrant"
	// StoreTypeMilvus uses a Milvus server.
	StoreTypeMilvus StoreType = "milvus"
	// StoreTypeMemory uses in-memory brute-force search with an optional snapshot file.
	StoreTypeMemory StoreType = "memory"
)

// NewStore creates the store selected by cfg.Type.
func NewStore(ctx context.Context, cfg config.VectorConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	switch StoreType(cfg.Type) {
	case StoreTypeQdrant:
		return NewQdrantStore(QdrantOptions{
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			Collection: cfg.Collection,
			FacetLimit: cfg.FacetLimit,
			Logger:     logger,
		})
	case StoreTypeMilvus:
		return NewMilvusStore(ctx, MilvusOptions{
			Host:           cfg.Host,
			Port:           cfg.Port,
			Collection:     cfg.Collection,
			HNSWM:          cfg.HNSWM,
			EfConstruction: cfg.HNSWEf,
			Logger:         logger,
		})
	case StoreTypeMemory, "":
		return NewMemoryStore(cfg.Collection, cfg.SnapshotPath)
	default:
		return nil, fmt.Errorf("unknown vector store: %s (supported: qdrant, milvus, memory)", cfg.Type)
	}
}
