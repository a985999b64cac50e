package embedding

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/config"
	"github.com/hyperjump/personsearch/pkg/utils"
)

func solid(w, h int, gray uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = gray
	}
	return img
}

func TestMockOracle_deterministicUnitVectors(t *testing.T) {
	m := NewMockOracle(16)
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "woman with backpack")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "woman with backpack")
	require.NoError(t, err)
	c, err := m.EmbedText(ctx, "man in suit")
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, 1.0, utils.Norm(a), 1e-5)

	img1, err := m.EmbedImage(ctx, solid(4, 4, 10))
	require.NoError(t, err)
	img2, err := m.EmbedImage(ctx, solid(4, 4, 200))
	require.NoError(t, err)
	assert.NotEqual(t, img1, img2)
	assert.InDelta(t, 1.0, utils.Norm(img1), 1e-5)
}

func TestMockOracle_EmbedImagesPreservesOrder(t *testing.T) {
	m := NewMockOracle(8)
	ctx := context.Background()
	imgs := []image.Image{solid(2, 2, 1), solid(2, 2, 2), solid(2, 2, 3)}

	batch, err := m.EmbedImages(ctx, imgs)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, img := range imgs {
		single, err := m.EmbedImage(ctx, img)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
	assert.Equal(t, []int{3}, m.BatchSizes())
	assert.Equal(t, 3, m.ImageCalls())
	assert.Equal(t, 4, m.Calls())
}

func TestMockOracle_failures(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockOracle(4, WithBatchFailure(2, boom))
	ctx := context.Background()
	imgs := []image.Image{solid(1, 1, 1)}

	_, err := m.EmbedImages(ctx, imgs)
	require.NoError(t, err)
	_, err = m.EmbedImages(ctx, imgs)
	assert.ErrorIs(t, err, boom)
	_, err = m.EmbedImages(ctx, imgs)
	assert.NoError(t, err)

	m = NewMockOracle(4, WithTextFailure(boom))
	_, err = m.EmbedText(ctx, "x")
	assert.ErrorIs(t, err, boom)

	require.NoError(t, m.Close())
	_, err = m.EmbedText(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProbeDimension(t *testing.T) {
	m := NewMockOracle(1152)
	dim, err := ProbeDimension(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1152, dim)
	assert.Equal(t, 1, m.TextCalls())

	_, err = ProbeDimension(context.Background(), NewMockOracle(4, WithTextFailure(errors.New("down"))))
	assert.Error(t, err)
}

func TestExclusive_serializesCalls(t *testing.T) {
	m := NewMockOracle(4, WithDelay(5*time.Millisecond))
	o := Exclusive(m, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = o.EmbedText(ctx, "q")
			} else {
				_, _ = o.EmbedImages(ctx, []image.Image{solid(1, 1, uint8(i))})
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, m.Calls())
	assert.Equal(t, 1, m.MaxConcurrent())
}

func TestExclusive_timeout(t *testing.T) {
	m := NewMockOracle(4, WithDelay(200*time.Millisecond))
	o := Exclusive(m, 20*time.Millisecond)

	start := time.Now()
	_, err := o.EmbedText(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	// The abandoned call still holds the oracle; Close waits for it.
	require.NoError(t, o.Close())
	assert.Equal(t, 1, m.TextCalls())
}

func TestExclusive_cancelledWhileWaiting(t *testing.T) {
	m := NewMockOracle(4, WithDelay(100*time.Millisecond))
	o := Exclusive(m, 0)

	go func() { _, _ = o.EmbedText(context.Background(), "first") }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.EmbedText(ctx, "second")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()
	o, err := New(config.EmbeddingConfig{Oracle: OracleMock, Dimensions: 32}, logger)
	require.NoError(t, err)
	dim, err := ProbeDimension(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, 32, dim)

	_, err = New(config.EmbeddingConfig{Oracle: OracleONNX, ModelDir: t.TempDir(), ModelName: "ViT-B-32", ModelDataset: "openai"}, logger)
	assert.Error(t, err, "missing model files")

	_, err = New(config.EmbeddingConfig{Oracle: "torch"}, logger)
	assert.Error(t, err)
}

func TestModelPaths(t *testing.T) {
	text, img := ModelPaths(config.EmbeddingConfig{ModelDir: "/models", ModelName: "ViT-B-32", ModelDataset: "openai"})
	assert.Equal(t, "/models/ViT-B-32-openai/textual.onnx", text)
	assert.Equal(t, "/models/ViT-B-32-openai/visual.onnx", img)
}
