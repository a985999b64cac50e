// Package config provides configuration loading and structs for the person search server and indexer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicBaseURL is the API base URL handed to browser clients. The server never reads it.
	PublicBaseURL  string        `yaml:"public_base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatasetConfig describes the dataset root crawled by the indexer and served under /images.
type DatasetConfig struct {
	Root         string   `yaml:"root"`
	Name         string   `yaml:"name"`
	ImagesSubdir string   `yaml:"images_subdir"`
	Extensions   []string `yaml:"extensions"`
}

// ImagesDir returns the directory that holds the sample images.
func (d *DatasetConfig) ImagesDir() string {
	return filepath.Join(d.Root, d.ImagesSubdir)
}

// EmbeddingConfig holds embedding oracle settings.
type EmbeddingConfig struct {
	// Oracle selects the implementation: "onnx" or "mock".
	Oracle       string `yaml:"oracle"`
	ModelName    string `yaml:"model_name"`
	ModelDataset string `yaml:"model_dataset"`
	ModelDir     string `yaml:"model_dir"`
	// RuntimeLibrary is the onnxruntime shared library path; empty uses the loader default.
	RuntimeLibrary string `yaml:"runtime_library"`
	// Dimensions sizes the ONNX output buffers and the mock vectors. The served dimension is still probed.
	Dimensions    int           `yaml:"dimensions"`
	ImageSize     int           `yaml:"image_size"`
	ContextLength int           `yaml:"context_length"`
	Normalization string        `yaml:"normalization"`
	MaxBatch      int           `yaml:"max_batch"`
	CacheSize     int           `yaml:"cache_size"`
	Timeout       time.Duration `yaml:"timeout"`
	TextInput     string        `yaml:"text_input"`
	TextOutput    string        `yaml:"text_output"`
	ImageInput    string        `yaml:"image_input"`
	ImageOutput   string        `yaml:"image_output"`
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	// Type selects the backend: "qdrant", "milvus" or "memory".
	Type         string        `yaml:"type"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	APIKey       string        `yaml:"api_key"`
	UseTLS       bool          `yaml:"use_tls"`
	Collection   string        `yaml:"collection"`
	SnapshotPath string        `yaml:"snapshot_path"`
	Timeout      time.Duration `yaml:"timeout"`
	HNSWM        int           `yaml:"hnsw_m"`
	HNSWEf       int           `yaml:"hnsw_ef_construction"`
	FacetLimit   int           `yaml:"facet_limit"`
}

// IndexingConfig holds batch indexer settings.
type IndexingConfig struct {
	BatchSize         int  `yaml:"batch_size"`
	Prefetch          int  `yaml:"prefetch"`
	UpsertConcurrency int  `yaml:"upsert_concurrency"`
	Recreate          bool `yaml:"recreate"`
}

// SearchConfig holds query service settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	// MaxTopK caps top_k. Zero means the default (1000); a negative value removes the cap.
	MaxTopK int `yaml:"max_top_k"`
}

// LedgerConfig holds the indexing run ledger location.
type LedgerConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Load reads the optional YAML file at path, loads a .env file from the working directory when present,
// overlays the process environment, expands paths and applies defaults. Validation is left to Validate
// so callers decide when a missing setting becomes fatal.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := ""
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if configDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			configDir = cwd
		}
	}
	cfg.Dataset.Root = expandPath(cfg.Dataset.Root, configDir)
	cfg.Embedding.ModelDir = expandPath(cfg.Embedding.ModelDir, configDir)
	cfg.Vector.SnapshotPath = expandPath(cfg.Vector.SnapshotPath, configDir)
	cfg.Ledger.DatabasePath = expandPath(cfg.Ledger.DatabasePath, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" paths are relative to the home directory; other relative paths resolve against the working directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
