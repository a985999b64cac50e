package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/config"
	"github.com/hyperjump/personsearch/internal/embedding"
	"github.com/hyperjump/personsearch/internal/storage"
	"github.com/hyperjump/personsearch/internal/vector"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Dataset:   config.DatasetConfig{Root: dir, Name: "VC-Clothes"},
		Embedding: config.EmbeddingConfig{Oracle: "mock", ModelName: "ViT-B-32", ModelDataset: "openai", Dimensions: 16},
		Vector:    config.VectorConfig{Type: "memory", Collection: "person_search"},
		Indexing:  config.IndexingConfig{BatchSize: 2},
		Ledger:    config.LedgerConfig{DatabasePath: filepath.Join(dir, "ledger.db")},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestGate_lifecycle(t *testing.T) {
	g := NewGate()
	_, err := g.Acquire()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, StateUninitialized, g.State())

	assert.Error(t, g.Set(Collaborators{}), "both collaborators are required")

	store, err := vector.NewMemoryStore("c", "")
	require.NoError(t, err)
	oracle := embedding.NewMockOracle(4)
	require.NoError(t, g.Set(Collaborators{Oracle: oracle, Store: store, Dimension: 4}))
	assert.True(t, g.Ready())
	c, err := g.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 4, c.Dimension)

	prev, held := g.Clear()
	assert.True(t, held)
	assert.Same(t, oracle, prev.Oracle)
	_, err = g.Acquire()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, "shutdown", g.State().String())
	assert.Error(t, g.Set(Collaborators{Oracle: oracle, Store: store}), "a shut down gate stays shut down")

	_, held = g.Clear()
	assert.False(t, held)
}

func TestInit_readyWithProbedDimension(t *testing.T) {
	a := New(testConfig(t), zap.NewNop())
	require.NoError(t, a.Init(context.Background()))
	defer a.Shutdown()

	c, err := a.Gate().Acquire()
	require.NoError(t, err)
	assert.Equal(t, 16, c.Dimension)
	assert.Equal(t, "person_search", c.Store.Name())
	assert.NotNil(t, a.Ledger())
}

func TestInit_configurationErrorCreatesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.ModelName = ""
	called := false
	a := New(cfg, nil, WithOracleFactory(func(config.EmbeddingConfig, *zap.Logger) (embedding.Oracle, error) {
		called = true
		return embedding.NewMockOracle(4), nil
	}))

	err := a.Init(context.Background())
	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, config.EnvModelName, cerr.Key)
	assert.False(t, called)
	assert.Equal(t, StateUninitialized, a.Gate().State())
}

func TestInit_storeFailureClosesOracle(t *testing.T) {
	oracle := embedding.NewMockOracle(4)
	a := New(testConfig(t), nil,
		WithOracleFactory(func(config.EmbeddingConfig, *zap.Logger) (embedding.Oracle, error) { return oracle, nil }),
		WithStoreFactory(func(context.Context, config.VectorConfig, *zap.Logger) (vector.Store, error) {
			return nil, errors.New("connection refused")
		}))

	err := a.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, a.Gate().Ready())
	_, err = oracle.EmbedText(context.Background(), "x")
	assert.ErrorIs(t, err, embedding.ErrClosed)
}

func TestInit_probeFailure(t *testing.T) {
	a := New(testConfig(t), nil,
		WithOracleFactory(func(config.EmbeddingConfig, *zap.Logger) (embedding.Oracle, error) {
			return embedding.NewMockOracle(4, embedding.WithTextFailure(errors.New("no device"))), nil
		}))
	err := a.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.False(t, a.Gate().Ready())
}

func TestInit_ledgerFailureIsNotFatal(t *testing.T) {
	a := New(testConfig(t), nil, WithLedgerFactory(func(string) (storage.Ledger, error) {
		return nil, errors.New("read-only file system")
	}))
	require.NoError(t, a.Init(context.Background()))
	defer a.Shutdown()
	assert.True(t, a.Gate().Ready())
	assert.Nil(t, a.Ledger())
}

func TestShutdown_closesCollaborators(t *testing.T) {
	oracle := embedding.NewMockOracle(4)
	a := New(testConfig(t), nil,
		WithOracleFactory(func(config.EmbeddingConfig, *zap.Logger) (embedding.Oracle, error) { return oracle, nil }))
	require.NoError(t, a.Init(context.Background()))

	require.NoError(t, a.Shutdown())
	assert.Equal(t, StateShutdown, a.Gate().State())
	_, err := oracle.EmbedText(context.Background(), "x")
	assert.ErrorIs(t, err, embedding.ErrClosed)
	assert.Nil(t, a.Ledger())
	assert.NoError(t, a.Shutdown())

	_, err = a.Indexer()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestReindex(t *testing.T) {
	cfg := testConfig(t)
	train := filepath.Join(cfg.Dataset.Root, "train")
	require.NoError(t, os.MkdirAll(train, 0755))
	for i := 0; i < 5; i++ {
		img := image.NewGray(image.Rect(0, 0, 3, 3))
		img.SetGray(1, 1, color.Gray{Y: uint8(i * 40)})
		f, err := os.Create(filepath.Join(train, fmt.Sprintf("%d-2-3-%d.jpg", i, i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}

	a := New(cfg, nil)
	require.NoError(t, a.Init(context.Background()))
	defer a.Shutdown()

	report, err := a.Reindex(context.Background(), true, false)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, "VC-Clothes", report.DatasetName)

	last, err := a.Ledger().LastRun(context.Background(), "person_search")
	require.NoError(t, err)
	assert.Equal(t, report.RunID, last.RunID)

	c, err := a.Gate().Acquire()
	require.NoError(t, err)
	n, err := c.Store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
