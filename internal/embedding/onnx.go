//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/personsearch/internal/config"
	"github.com/hyperjump/personsearch/internal/imaging"
	"github.com/hyperjump/personsearch/pkg/utils"
)

var (
	ortOnce sync.Once
	ortErr  error
)

func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXOracle runs an exported CLIP-style model (separate text and image graphs) with ONNX Runtime.
// It requires CGO and the onnxruntime shared library. Sessions are not safe for concurrent Run
// calls, so every call takes the oracle's mutex.
type ONNXOracle struct {
	textSession  *ort.AdvancedSession
	imageSession *ort.AdvancedSession
	textInput    *ort.Tensor[int64]
	textOutput   *ort.Tensor[float32]
	imageInput   *ort.Tensor[float32]
	imageOutput  *ort.Tensor[float32]
	tokenizer    Tokenizer
	norm         imaging.Normalization

	dimensions    int
	contextLength int
	imageSize     int
	maxBatch      int

	mu     sync.Mutex
	closed bool
}

// NewONNXOracle loads the text and image graphs named by cfg.
func NewONNXOracle(cfg config.EmbeddingConfig) (*ONNXOracle, error) {
	norm, err := imaging.NormalizationByName(cfg.Normalization)
	if err != nil {
		return nil, err
	}
	if err := initRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	textPath, imagePath := ModelPaths(cfg)

	o := &ONNXOracle{
		tokenizer:     &SimpleTokenizer{},
		norm:          norm,
		dimensions:    cfg.Dimensions,
		contextLength: cfg.ContextLength,
		imageSize:     cfg.ImageSize,
		maxBatch:      cfg.MaxBatch,
	}

	o.textInput, err = ort.NewTensor(ort.NewShape(1, int64(o.contextLength)), make([]int64, o.contextLength))
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create text input tensor: %w", err)
	}
	o.textOutput, err = ort.NewTensor(ort.NewShape(1, int64(o.dimensions)), make([]float32, o.dimensions))
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create text output tensor: %w", err)
	}
	o.textSession, err = ort.NewAdvancedSession(
		textPath,
		[]string{cfg.TextInput},
		[]string{cfg.TextOutput},
		[]ort.ArbitraryTensor{o.textInput},
		[]ort.ArbitraryTensor{o.textOutput},
		nil,
	)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create text session: %w", err)
	}

	pixels := 3 * o.imageSize * o.imageSize
	o.imageInput, err = ort.NewTensor(
		ort.NewShape(int64(o.maxBatch), 3, int64(o.imageSize), int64(o.imageSize)),
		make([]float32, o.maxBatch*pixels),
	)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create image input tensor: %w", err)
	}
	o.imageOutput, err = ort.NewTensor(ort.NewShape(int64(o.maxBatch), int64(o.dimensions)), make([]float32, o.maxBatch*o.dimensions))
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create image output tensor: %w", err)
	}
	o.imageSession, err = ort.NewAdvancedSession(
		imagePath,
		[]string{cfg.ImageInput},
		[]string{cfg.ImageOutput},
		[]ort.ArbitraryTensor{o.imageInput},
		[]ort.ArbitraryTensor{o.imageOutput},
		nil,
	)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create image session: %w", err)
	}
	return o, nil
}

// EmbedText returns the normalized text embedding.
func (o *ONNXOracle) EmbedText(ctx context.Context, text string) ([]float32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	copy(o.textInput.GetData(), o.tokenizer.Tokenize(text, o.contextLength))
	if err := o.textSession.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	emb := make([]float32, o.dimensions)
	copy(emb, o.textOutput.GetData()[:o.dimensions])
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedImage returns the normalized embedding of one image.
func (o *ONNXOracle) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	out, err := o.EmbedImages(ctx, []image.Image{img})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedImages runs the image graph over imgs in chunks of the session's batch size.
// Unused rows of the last chunk are zero filled and their outputs discarded.
func (o *ONNXOracle) EmbedImages(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	pixels := 3 * o.imageSize * o.imageSize
	input := o.imageInput.GetData()
	out := make([][]float32, 0, len(imgs))
	for start := 0; start < len(imgs); start += o.maxBatch {
		end := min(start+o.maxBatch, len(imgs))
		for i, img := range imgs[start:end] {
			if err := imaging.ToTensor(img, o.imageSize, o.norm, input[i*pixels:(i+1)*pixels]); err != nil {
				return nil, err
			}
		}
		clear(input[(end-start)*pixels:])

		if err := o.imageSession.Run(); err != nil {
			return nil, fmt.Errorf("image inference failed: %w", err)
		}
		output := o.imageOutput.GetData()
		for i := 0; i < end-start; i++ {
			emb := make([]float32, o.dimensions)
			copy(emb, output[i*o.dimensions:(i+1)*o.dimensions])
			utils.NormalizeL2(emb)
			out = append(out, emb)
		}
	}
	return out, nil
}

// Close destroys the sessions and tensors.
func (o *ONNXOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true

	var err error
	if o.textSession != nil {
		err = o.textSession.Destroy()
		o.textSession = nil
	}
	if o.imageSession != nil {
		if e := o.imageSession.Destroy(); err == nil {
			err = e
		}
		o.imageSession = nil
	}
	if o.textInput != nil {
		_ = o.textInput.Destroy()
		o.textInput = nil
	}
	if o.textOutput != nil {
		_ = o.textOutput.Destroy()
		o.textOutput = nil
	}
	if o.imageInput != nil {
		_ = o.imageInput.Destroy()
		o.imageInput = nil
	}
	if o.imageOutput != nil {
		_ = o.imageOutput.Destroy()
		o.imageOutput = nil
	}
	return err
}
