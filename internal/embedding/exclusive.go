package embedding

import (
	"context"
	"fmt"
	"image"
	"time"
)

type exclusive struct {
	inner   Oracle
	sem     chan struct{}
	timeout time.Duration
}

// Exclusive serializes all calls to o, which is assumed to own a single compute context.
// Callers wait for their turn until ctx is done. A positive timeout bounds each call including the wait.
// The underlying call is never interrupted: when the deadline passes, the caller gets an error and the
// call finishes in the background, holding the oracle until it returns.
func Exclusive(o Oracle, timeout time.Duration) Oracle {
	return &exclusive{inner: o, sem: make(chan struct{}, 1), timeout: timeout}
}

func (e *exclusive) do(ctx context.Context, fn func(context.Context) error) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for embedding oracle: %w", ctx.Err())
	}

	done := make(chan error, 1)
	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-e.sem }()
		done <- fn(callCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("embedding call abandoned: %w", ctx.Err())
	}
}

func (e *exclusive) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var v []float32
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		v, err = e.inner.EmbedText(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e *exclusive) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	var v []float32
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		v, err = e.inner.EmbedImage(ctx, img)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e *exclusive) EmbedImages(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	var vs [][]float32
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		vs, err = e.inner.EmbedImages(ctx, imgs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vs, nil
}

// Close waits for any in-flight call, then closes the wrapped oracle.
func (e *exclusive) Close() error {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()
	return e.inner.Close()
}
