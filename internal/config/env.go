package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names. They match the deployment's existing .env files.
const (
	EnvModelName     = "MODEL_NAME"
	EnvModelDataset  = "MODEL_DATASET"
	EnvCollection    = "QDRANT_COLLECTION"
	EnvBatchSize     = "EMBED_BATCH_SIZE"
	EnvDatasetRoot   = "DATASET_ROOT"
	EnvDatasetName   = "DATASET_NAME"
	EnvVectorHost    = "QDRANT_HOST"
	EnvVectorPort    = "QDRANT_PORT"
	EnvVectorAPIKey  = "QDRANT_API_KEY"
	EnvVectorType    = "VECTOR_STORE"
	EnvPublicBaseURL = "API_BASE_URL"
	EnvOracle        = "EMBED_ORACLE"
	EnvModelDir      = "MODEL_DIR"
	EnvServerPort    = "PORT"
	EnvDebug         = "DEBUG"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads path into the process environment without overriding variables that are already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg. Set variables always win over the YAML file.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &ConfigurationError{Key: key, Reason: "must be an integer"}
		}
		*dst = n
		return nil
	}

	str(EnvModelName, &cfg.Embedding.ModelName)
	str(EnvModelDataset, &cfg.Embedding.ModelDataset)
	str(EnvModelDir, &cfg.Embedding.ModelDir)
	str(EnvOracle, &cfg.Embedding.Oracle)
	str(EnvCollection, &cfg.Vector.Collection)
	str(EnvVectorHost, &cfg.Vector.Host)
	str(EnvVectorAPIKey, &cfg.Vector.APIKey)
	str(EnvVectorType, &cfg.Vector.Type)
	str(EnvDatasetRoot, &cfg.Dataset.Root)
	str(EnvDatasetName, &cfg.Dataset.Name)
	str(EnvPublicBaseURL, &cfg.Server.PublicBaseURL)

	if err := num(EnvBatchSize, &cfg.Indexing.BatchSize); err != nil {
		return err
	}
	if err := num(EnvVectorPort, &cfg.Vector.Port); err != nil {
		return err
	}
	if err := num(EnvServerPort, &cfg.Server.Port); err != nil {
		return err
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigurationError{Key: EnvDebug, Reason: "must be a boolean"}
		}
		cfg.Debug = b
	}
	return nil
}

// ConfigurationError reports a required setting that is missing or invalid.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %s", e.Key, e.Reason)
}

// Validate checks the settings every process needs before it may serve traffic or index.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	required := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, &ConfigurationError{Key: key, Reason: "is required"})
		}
	}
	required(EnvModelName, c.Embedding.ModelName)
	required(EnvModelDataset, c.Embedding.ModelDataset)
	required(EnvCollection, c.Vector.Collection)
	required(EnvDatasetRoot, c.Dataset.Root)
	if c.Indexing.BatchSize <= 0 {
		errs = append(errs, &ConfigurationError{Key: EnvBatchSize, Reason: "must be a positive integer"})
	}

	switch c.Vector.Type {
	case "qdrant", "milvus":
		required(EnvVectorHost, c.Vector.Host)
		if c.Vector.Port <= 0 || c.Vector.Port > 65535 {
			errs = append(errs, &ConfigurationError{Key: EnvVectorPort, Reason: "must be a valid port"})
		}
	case "memory":
	default:
		errs = append(errs, &ConfigurationError{Key: EnvVectorType, Reason: fmt.Sprintf("unknown vector store %q (supported: qdrant, milvus, memory)", c.Vector.Type)})
	}

	switch c.Embedding.Oracle {
	case "onnx", "mock":
	default:
		errs = append(errs, &ConfigurationError{Key: EnvOracle, Reason: fmt.Sprintf("unknown oracle %q (supported: onnx, mock)", c.Embedding.Oracle)})
	}

	if c.Search.DefaultTopK <= 0 || (c.Search.MaxTopK > 0 && c.Search.MaxTopK < c.Search.DefaultTopK) {
		errs = append(errs, &ConfigurationError{Key: "search.default_top_k", Reason: "must be positive and not exceed search.max_top_k"})
	}
	return errors.Join(errs...)
}

// durationOr returns d when positive, otherwise def.
func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
