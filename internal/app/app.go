// Package app owns the process lifecycle: it validates configuration, builds the embedding oracle,
// vector store and run ledger once, publishes them through a Gate and tears them down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/config"
	"github.com/hyperjump/personsearch/internal/dataset"
	"github.com/hyperjump/personsearch/internal/embedding"
	"github.com/hyperjump/personsearch/internal/indexer"
	"github.com/hyperjump/personsearch/internal/metrics"
	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/internal/storage"
	"github.com/hyperjump/personsearch/internal/vector"
	"github.com/hyperjump/personsearch/pkg/utils"
)

// OracleFactory builds the raw embedding oracle.
type OracleFactory func(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Oracle, error)

// StoreFactory builds the vector store.
type StoreFactory func(ctx context.Context, cfg config.VectorConfig, logger *zap.Logger) (vector.Store, error)

// LedgerFactory opens the run ledger.
type LedgerFactory func(path string) (storage.Ledger, error)

// App is the application context shared by the HTTP handlers and the indexing job.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	gate   *Gate

	newOracle OracleFactory
	newStore  StoreFactory
	newLedger LedgerFactory

	mu     sync.Mutex
	ledger storage.Ledger
}

// Option configures an App.
type Option func(*App)

// WithOracleFactory replaces embedding.New.
func WithOracleFactory(f OracleFactory) Option {
	return func(a *App) { a.newOracle = f }
}

// WithStoreFactory replaces vector.NewStore.
func WithStoreFactory(f StoreFactory) Option {
	return func(a *App) { a.newStore = f }
}

// WithLedgerFactory replaces storage.NewSQLiteLedger. A nil factory disables the ledger.
func WithLedgerFactory(f LedgerFactory) Option {
	return func(a *App) { a.newLedger = f }
}

// New creates an uninitialized App. Call Init before serving.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *App {
	a := &App{
		cfg:       cfg,
		logger:    utils.OrNop(logger),
		gate:      NewGate(),
		newOracle: embedding.New,
		newStore:  vector.NewStore,
		newLedger: func(path string) (storage.Ledger, error) {
			return storage.NewSQLiteLedger(path)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Gate returns the readiness gate.
func (a *App) Gate() *Gate {
	return a.gate
}

// Ledger returns the run ledger, or nil when it is disabled or failed to open.
func (a *App) Ledger() storage.Ledger {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger
}

// Init validates the configuration and initializes the collaborators. On error nothing is left open
// and the gate stays uninitialized.
func (a *App) Init(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	raw, err := a.newOracle(a.cfg.Embedding, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding oracle: %w", err)
	}
	oracle := embedding.CachedText(embedding.Exclusive(raw, a.cfg.Embedding.Timeout), a.cfg.Embedding.CacheSize)

	dim, err := embedding.ProbeDimension(ctx, oracle)
	if err != nil {
		_ = oracle.Close()
		return err
	}
	a.logger.Info("embedding oracle ready",
		zap.String("model", a.cfg.Embedding.ModelName),
		zap.String("weights", a.cfg.Embedding.ModelDataset),
		zap.Int("dimension", dim))

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.Vector.Timeout)
	store, err := a.newStore(storeCtx, a.cfg.Vector, a.logger)
	cancel()
	if err != nil {
		_ = oracle.Close()
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	a.logger.Info("vector store ready",
		zap.String("type", a.cfg.Vector.Type),
		zap.String("collection", store.Name()))

	if a.newLedger != nil && a.cfg.Ledger.DatabasePath != "" {
		ledger, err := a.newLedger(a.cfg.Ledger.DatabasePath)
		if err != nil {
			a.logger.Warn("run ledger unavailable, indexing runs will not be recorded",
				zap.String("path", a.cfg.Ledger.DatabasePath), zap.Error(err))
		} else {
			a.mu.Lock()
			a.ledger = ledger
			a.mu.Unlock()
		}
	}

	if err := a.gate.Set(Collaborators{Oracle: oracle, Store: store, Dimension: dim}); err != nil {
		_ = store.Close()
		_ = oracle.Close()
		_ = a.closeLedger()
		return err
	}
	metrics.Ready.Set(1)
	return nil
}

// Shutdown clears the gate and closes every collaborator. It is safe to call more than once.
func (a *App) Shutdown() error {
	metrics.Ready.Set(0)
	collab, held := a.gate.Clear()
	var errs []error
	if held {
		if err := collab.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector store: %w", err))
		}
		if err := collab.Oracle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedding oracle: %w", err))
		}
	}
	if err := a.closeLedger(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) closeLedger() error {
	a.mu.Lock()
	ledger := a.ledger
	a.ledger = nil
	a.mu.Unlock()
	if ledger == nil {
		return nil
	}
	return ledger.Close()
}

// Crawler returns a crawler configured from the dataset settings.
func (a *App) Crawler() *dataset.Crawler {
	return dataset.New(
		dataset.WithLogger(a.logger),
		dataset.WithImagesSubdir(a.cfg.Dataset.ImagesSubdir),
		dataset.WithExtensions(a.cfg.Dataset.Extensions),
	)
}

// Indexer returns an indexer over the gated collaborators, or ErrNotReady.
func (a *App) Indexer() (*indexer.Indexer, error) {
	collab, err := a.gate.Acquire()
	if err != nil {
		return nil, err
	}
	opts := []indexer.IndexerOption{
		indexer.WithLogger(a.logger),
		indexer.WithPrefetch(a.cfg.Indexing.Prefetch),
		indexer.WithUpsertConcurrency(a.cfg.Indexing.UpsertConcurrency),
		indexer.WithStoreTimeout(a.cfg.Vector.Timeout),
	}
	if ledger := a.Ledger(); ledger != nil {
		opts = append(opts, indexer.WithRecorder(ledger))
	}
	return indexer.NewIndexer(collab.Oracle, collab.Store, a.cfg.Indexing.BatchSize, opts...)
}

// Reindex crawls the configured dataset and indexes it into the collection.
func (a *App) Reindex(ctx context.Context, recreate, skipExisting bool) (*models.IndexingReport, error) {
	collab, err := a.gate.Acquire()
	if err != nil {
		return nil, err
	}
	idx, err := a.Indexer()
	if err != nil {
		return nil, err
	}
	samples := a.Crawler().Crawl(a.cfg.Dataset.Root, a.cfg.Dataset.Name)
	return idx.Index(ctx, samples, indexer.RunOptions{
		DatasetName:  a.cfg.Dataset.Name,
		Dimension:    collab.Dimension,
		Recreate:     recreate,
		SkipExisting: skipExisting,
	})
}
