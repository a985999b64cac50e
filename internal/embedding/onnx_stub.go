//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
	"image"

	"github.com/hyperjump/personsearch/internal/config"
)

var errNoCGO = errors.New("ONNX oracle requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXOracle stub type when built without CGO (see onnx.go for real implementation).
type ONNXOracle struct{}

// NewONNXOracle returns an error when built without CGO (ONNX not available).
func NewONNXOracle(_ config.EmbeddingConfig) (*ONNXOracle, error) {
	return nil, errNoCGO
}

func (o *ONNXOracle) EmbedText(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (o *ONNXOracle) EmbedImage(context.Context, image.Image) ([]float32, error) {
	return nil, errNoCGO
}

func (o *ONNXOracle) EmbedImages(context.Context, []image.Image) ([][]float32, error) {
	return nil, errNoCGO
}

func (o *ONNXOracle) Close() error { return nil }
