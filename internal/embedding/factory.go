package embedding

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/config"
)

// Oracle types.
const (
	OracleONNX = "onnx"
	OracleMock = "mock"
)

// ModelPaths returns the text and image graph paths for cfg:
// <model_dir>/<model_name>-<model_dataset>/{textual,visual}.onnx.
func ModelPaths(cfg config.EmbeddingConfig) (textPath, imagePath string) {
	dir := filepath.Join(cfg.ModelDir, cfg.ModelName+"-"+cfg.ModelDataset)
	return filepath.Join(dir, "textual.onnx"), filepath.Join(dir, "visual.onnx")
}

// New creates the oracle selected by cfg.Oracle. The result is not serialized or cached;
// see Exclusive and CachedText.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Oracle, error) {
	switch cfg.Oracle {
	case OracleMock:
		logger.Warn("using mock embedding oracle; results are not semantically meaningful",
			zap.Int("dimensions", cfg.Dimensions))
		return NewMockOracle(cfg.Dimensions), nil
	case OracleONNX, "":
		textPath, imagePath := ModelPaths(cfg)
		for _, p := range []string{textPath, imagePath} {
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("model %s (%s) not available: %w", cfg.ModelName, cfg.ModelDataset, err)
			}
		}
		logger.Info("loading ONNX model",
			zap.String("model", cfg.ModelName),
			zap.String("weights", cfg.ModelDataset),
			zap.String("text", textPath),
			zap.String("image", imagePath))
		o, err := NewONNXOracle(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle: %s (supported: onnx, mock)", cfg.Oracle)
	}
}
