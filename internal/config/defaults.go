package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg. Required settings
// (model, collection, dataset root, batch size) are never defaulted.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	cfg.Server.RequestTimeout = durationOr(cfg.Server.RequestTimeout, 60*time.Second)
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}

	if cfg.Dataset.Name == "" {
		cfg.Dataset.Name = "VC-Clothes"
	}
	if cfg.Dataset.ImagesSubdir == "" {
		cfg.Dataset.ImagesSubdir = "train"
	}
	if cfg.Dataset.Extensions == nil {
		cfg.Dataset.Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
	}

	if cfg.Embedding.Oracle == "" {
		cfg.Embedding.Oracle = "onnx"
	}
	if cfg.Embedding.ModelDir == "" {
		cfg.Embedding.ModelDir = "./models"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1152
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 384
	}
	if cfg.Embedding.ContextLength == 0 {
		cfg.Embedding.ContextLength = 64
	}
	if cfg.Embedding.Normalization == "" {
		cfg.Embedding.Normalization = "siglip"
	}
	if cfg.Embedding.MaxBatch == 0 {
		cfg.Embedding.MaxBatch = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	cfg.Embedding.Timeout = durationOr(cfg.Embedding.Timeout, 2*time.Minute)
	if cfg.Embedding.TextInput == "" {
		cfg.Embedding.TextInput = "text"
	}
	if cfg.Embedding.TextOutput == "" {
		cfg.Embedding.TextOutput = "text_features"
	}
	if cfg.Embedding.ImageInput == "" {
		cfg.Embedding.ImageInput = "image"
	}
	if cfg.Embedding.ImageOutput == "" {
		cfg.Embedding.ImageOutput = "image_features"
	}

	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "qdrant"
	}
	if cfg.Vector.Port == 0 {
		switch cfg.Vector.Type {
		case "qdrant":
			cfg.Vector.Port = 6334
		case "milvus":
			cfg.Vector.Port = 19530
		}
	}
	cfg.Vector.Timeout = durationOr(cfg.Vector.Timeout, 30*time.Second)
	if cfg.Vector.HNSWM == 0 {
		cfg.Vector.HNSWM = 16
	}
	if cfg.Vector.HNSWEf == 0 {
		cfg.Vector.HNSWEf = 200
	}
	if cfg.Vector.FacetLimit == 0 {
		cfg.Vector.FacetLimit = 1000
	}

	if cfg.Indexing.Prefetch < 0 {
		cfg.Indexing.Prefetch = 0
	}
	if cfg.Indexing.UpsertConcurrency == 0 {
		cfg.Indexing.UpsertConcurrency = 8
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 1000
	}

	if cfg.Ledger.DatabasePath == "" {
		cfg.Ledger.DatabasePath = "./data/ledger.db"
	}
}
