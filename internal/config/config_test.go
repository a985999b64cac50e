package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		Dataset:   DatasetConfig{Root: "/data/VC-Clothes"},
		Embedding: EmbeddingConfig{ModelName: "ViT-SO400M-16-SigLIP2-384", ModelDataset: "webli"},
		Vector:    VectorConfig{Collection: "person_search", Host: "localhost"},
		Indexing:  IndexingConfig{BatchSize: 256},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
dataset:
  root: "./datasets/VC-Clothes"
embedding:
  model_name: "ViT-B-32"
  model_dataset: "openai"
vector:
  type: memory
  collection: "people"
indexing:
  batch_size: 16
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	want := filepath.Join(dir, "datasets", "VC-Clothes")
	if cfg.Dataset.Root != want {
		t.Errorf("dataset root = %s, want %s", cfg.Dataset.Root, want)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_envOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embedding:
  model_name: "from-file"
vector:
  collection: "from-file"
indexing:
  batch_size: 4
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvModelName, "ViT-SO400M-16-SigLIP2-384")
	t.Setenv(EnvModelDataset, "webli")
	t.Setenv(EnvCollection, "person_search")
	t.Setenv(EnvBatchSize, "256")
	t.Setenv(EnvDatasetRoot, dir)
	t.Setenv(EnvVectorHost, "qdrant.internal")
	t.Setenv(EnvVectorPort, "6334")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.ModelName != "ViT-SO400M-16-SigLIP2-384" {
		t.Errorf("model name = %q", cfg.Embedding.ModelName)
	}
	if cfg.Vector.Collection != "person_search" || cfg.Indexing.BatchSize != 256 {
		t.Errorf("collection=%q batch=%d", cfg.Vector.Collection, cfg.Indexing.BatchSize)
	}
	if cfg.Vector.Host != "qdrant.internal" || cfg.Vector.Port != 6334 {
		t.Errorf("vector = %+v", cfg.Vector)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv_nonIntegerBatchSize(t *testing.T) {
	cfg := &Config{}
	env := map[string]string{EnvBatchSize: "many"}
	err := ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cerr.Key != EnvBatchSize {
		t.Errorf("key = %s", cerr.Key)
	}
}

func TestValidate_missingRequired(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, key := range []string{EnvModelName, EnvModelDataset, EnvCollection, EnvDatasetRoot, EnvBatchSize, EnvVectorHost} {
		found := false
		for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
			var cerr *ConfigurationError
			if errors.As(e, &cerr) && cerr.Key == key {
				found = true
			}
		}
		if !found {
			t.Errorf("missing ConfigurationError for %s in %v", key, err)
		}
	}
}

func TestValidate_memoryStoreNeedsNoHost(t *testing.T) {
	cfg := validConfig()
	cfg.Vector.Type = "memory"
	cfg.Vector.Host = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory store should not require host: %v", err)
	}
}

func TestValidate_unknownBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Vector.Type = "faiss"
	cfg.Embedding.Oracle = "torch"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown vector store and oracle")
	}
}

func TestValidate_nonPositiveBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Indexing.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero batch size")
	}
}

func TestValidate_maxTopK(t *testing.T) {
	cfg := &Config{
		Dataset:   DatasetConfig{Root: "/data/VC-Clothes"},
		Embedding: EmbeddingConfig{ModelName: "ViT-B-32", ModelDataset: "openai"},
		Vector:    VectorConfig{Collection: "person_search", Host: "localhost"},
		Indexing:  IndexingConfig{BatchSize: 8},
		Search:    SearchConfig{MaxTopK: -1},
	}
	ApplyDefaults(cfg)
	if cfg.Search.MaxTopK != -1 {
		t.Fatalf("negative max_top_k should survive defaults, got %d", cfg.Search.MaxTopK)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("uncapped top_k should validate: %v", err)
	}

	cfg.Search.MaxTopK = 3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when max_top_k is below default_top_k")
	}

	cfg.Search.MaxTopK = 0
	ApplyDefaults(cfg)
	if cfg.Search.MaxTopK != 1000 {
		t.Errorf("max_top_k default = %d, want 1000", cfg.Search.MaxTopK)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Port != 8000 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Vector.Type != "qdrant" || cfg.Vector.Port != 6334 {
		t.Errorf("vector defaults: %+v", cfg.Vector)
	}
	if cfg.Dataset.ImagesSubdir != "train" {
		t.Errorf("images subdir: got %s", cfg.Dataset.ImagesSubdir)
	}
	if cfg.Indexing.BatchSize != 0 {
		t.Error("batch size must not be defaulted")
	}
	if cfg.Indexing.Prefetch != 0 {
		t.Error("indexing should be sequential by default")
	}
	if cfg.Embedding.Timeout != 2*time.Minute || cfg.Vector.Timeout != 30*time.Second {
		t.Errorf("timeouts: embedding=%s vector=%s", cfg.Embedding.Timeout, cfg.Vector.Timeout)
	}
}

func TestApplyDefaults_milvusPort(t *testing.T) {
	cfg := &Config{Vector: VectorConfig{Type: "milvus"}}
	ApplyDefaults(cfg)
	if cfg.Vector.Port != 19530 {
		t.Errorf("milvus port: got %d", cfg.Vector.Port)
	}
}

func TestDatasetConfig_ImagesDir(t *testing.T) {
	d := DatasetConfig{Root: "/data/VC-Clothes", ImagesSubdir: "train"}
	if got := d.ImagesDir(); got != filepath.Join("/data/VC-Clothes", "train") {
		t.Errorf("ImagesDir() = %s", got)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := validConfig()
	cfg.Server.Port = 9090
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
