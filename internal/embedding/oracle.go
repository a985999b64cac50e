// Package embedding provides the embedding oracle: text and image encoders producing unit-norm vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ProbeText is embedded once at startup to discover the model's vector dimension.
const ProbeText = "test"

// ErrClosed is returned by oracles used after Close.
var ErrClosed = errors.New("embedding oracle closed")

// Oracle turns text and images into L2-normalized vectors of one fixed dimension.
type Oracle interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
	// EmbedImages returns one vector per image, in input order.
	EmbedImages(ctx context.Context, imgs []image.Image) ([][]float32, error)
	Close() error
}

// ProbeDimension embeds ProbeText and returns the vector length.
func ProbeDimension(ctx context.Context, o Oracle) (int, error) {
	v, err := o.EmbedText(ctx, ProbeText)
	if err != nil {
		return 0, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("failed to probe embedding dimension: oracle returned an empty vector")
	}
	return len(v), nil
}
