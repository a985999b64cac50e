package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/personsearch/pkg/utils"
)

// MockOracle is a deterministic oracle for tests and development. Vectors are derived from a hash of
// the text or the image pixels, so equal inputs always get equal embeddings. It records every call.
type MockOracle struct {
	dimensions int
	delay      time.Duration
	failText   error
	failBatch  map[int]error

	mu         sync.Mutex
	textCalls  int
	imageCalls int
	batchSizes []int
	closed     bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// MockOption configures a MockOracle.
type MockOption func(*MockOracle)

// WithDelay makes every call sleep for d.
func WithDelay(d time.Duration) MockOption {
	return func(m *MockOracle) {
		m.delay = d
	}
}

// WithTextFailure makes EmbedText and EmbedImage fail with err.
func WithTextFailure(err error) MockOption {
	return func(m *MockOracle) {
		m.failText = err
	}
}

// WithBatchFailure makes the n-th EmbedImages call (1-based) fail with err.
func WithBatchFailure(n int, err error) MockOption {
	return func(m *MockOracle) {
		if m.failBatch == nil {
			m.failBatch = make(map[int]error)
		}
		m.failBatch[n] = err
	}
}

// NewMockOracle returns an oracle that produces deterministic embeddings of the given dimensions.
func NewMockOracle(dimensions int, opts ...MockOption) *MockOracle {
	if dimensions <= 0 {
		dimensions = 512
	}
	m := &MockOracle{dimensions: dimensions}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockOracle) enter() func() {
	n := m.inFlight.Add(1)
	for {
		max := m.maxInFlight.Load()
		if n <= max || m.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return func() { m.inFlight.Add(-1) }
}

// EmbedText returns a deterministic embedding based on the text hash.
func (m *MockOracle) EmbedText(ctx context.Context, text string) ([]float32, error) {
	defer m.enter()()
	m.mu.Lock()
	m.textCalls++
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if m.failText != nil {
		return nil, m.failText
	}
	return m.vector(HashString(text)), nil
}

// EmbedImage returns a deterministic embedding based on the image pixels.
func (m *MockOracle) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	defer m.enter()()
	m.mu.Lock()
	m.imageCalls++
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if m.failText != nil {
		return nil, m.failText
	}
	return m.vector(hashImage(img)), nil
}

// EmbedImages embeds each image in one call.
func (m *MockOracle) EmbedImages(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	defer m.enter()()
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(imgs))
	call := len(m.batchSizes)
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := m.failBatch[call]; err != nil {
		return nil, err
	}
	out := make([][]float32, len(imgs))
	for i, img := range imgs {
		out[i] = m.vector(hashImage(img))
	}
	return out, nil
}

// Close marks the oracle closed; later calls fail with ErrClosed.
func (m *MockOracle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Dimensions returns the embedding dimension.
func (m *MockOracle) Dimensions() int {
	return m.dimensions
}

// TextCalls returns the number of EmbedText calls.
func (m *MockOracle) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls
}

// ImageCalls returns the number of EmbedImage calls.
func (m *MockOracle) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imageCalls
}

// BatchSizes returns the image count of every EmbedImages call, in call order.
func (m *MockOracle) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

// Calls returns the total number of calls of any kind.
func (m *MockOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls + m.imageCalls + len(m.batchSizes)
}

// MaxConcurrent returns the highest number of calls that were in flight at once.
func (m *MockOracle) MaxConcurrent() int {
	return int(m.maxInFlight.Load())
}

func (m *MockOracle) vector(h int) []float32 {
	emb := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

func hashImage(img image.Image) int {
	h := fnv.New64a()
	b := img.Bounds()
	fmt.Fprintf(h, "%d:%d:%d:%d", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	var buf [8]byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			buf[0], buf[1] = byte(r>>8), byte(r)
			buf[2], buf[3] = byte(g>>8), byte(g)
			buf[4], buf[5] = byte(bl>>8), byte(bl)
			buf[6], buf[7] = byte(a>>8), byte(a)
			_, _ = h.Write(buf[:])
		}
	}
	return int(h.Sum64() & math.MaxInt32)
}
