// Package indexer turns crawled sample descriptors into stored points: images are loaded, embedded
// one batch per oracle call and upserted under their deterministic point IDs.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/personsearch/internal/dataset"
	"github.com/hyperjump/personsearch/internal/embedding"
	"github.com/hyperjump/personsearch/internal/imaging"
	"github.com/hyperjump/personsearch/internal/metrics"
	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/internal/pointid"
	"github.com/hyperjump/personsearch/internal/vector"
	"github.com/hyperjump/personsearch/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recorder persists finished runs. storage.Ledger satisfies it.
type Recorder interface {
	RecordRun(ctx context.Context, report *models.IndexingReport) error
}

// LoadFunc loads one sample image.
type LoadFunc func(path string) (image.Image, error)

// Indexer indexes samples into a vector store.
type Indexer struct {
	oracle            embedding.Oracle
	store             vector.Store
	batchSize         int
	prefetch          int
	upsertConcurrency int
	storeTimeout      time.Duration
	recorder          Recorder
	load              LoadFunc
	logger            *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for progress and per-sample failures.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithPrefetch lets the indexer load up to n batches ahead of the one being embedded.
// Zero keeps loading, embedding and upserting strictly sequential.
func WithPrefetch(n int) IndexerOption {
	return func(idx *Indexer) {
		if n >= 0 {
			idx.prefetch = n
		}
	}
}

// WithUpsertConcurrency bounds the number of upserts in flight for one batch.
func WithUpsertConcurrency(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.upsertConcurrency = n
		}
	}
}

// WithStoreTimeout bounds every vector store call.
func WithStoreTimeout(d time.Duration) IndexerOption {
	return func(idx *Indexer) { idx.storeTimeout = d }
}

// WithRecorder stores every finished run.
func WithRecorder(r Recorder) IndexerOption {
	return func(idx *Indexer) { idx.recorder = r }
}

// WithLoader replaces imaging.LoadFile.
func WithLoader(fn LoadFunc) IndexerOption {
	return func(idx *Indexer) {
		if fn != nil {
			idx.load = fn
		}
	}
}

// NewIndexer creates an indexer that embeds batchSize samples per oracle call.
func NewIndexer(oracle embedding.Oracle, store vector.Store, batchSize int, opts ...IndexerOption) (*Indexer, error) {
	if oracle == nil || store == nil {
		return nil, fmt.Errorf("indexer requires an embedding oracle and a vector store")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be a positive integer, got %d", batchSize)
	}
	idx := &Indexer{
		oracle:            oracle,
		store:             store,
		batchSize:         batchSize,
		upsertConcurrency: 1,
		storeTimeout:      30 * time.Second,
		load:              imaging.LoadFile,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx, nil
}

// RunOptions controls one indexing run.
type RunOptions struct {
	// DatasetName is stamped on the report. Descriptors carry their own dataset name.
	DatasetName string
	// Dimension of the collection. Zero probes the oracle.
	Dimension int
	// Recreate drops the collection before indexing.
	Recreate bool
	// SkipExisting leaves samples whose point already exists untouched.
	SkipExisting bool
}

// batch is a group of loaded samples plus whatever was rejected while assembling it.
type batch struct {
	// size counts descriptors that reached the load step, loaded or not.
	size     int
	samples  []models.SampleDescriptor
	images   []image.Image
	failures []models.SampleFailure
	skipped  int
	// err is a crawl error that ends the run.
	err error
}

// Index consumes samples and indexes them. Per-sample problems are recorded in the report and never
// stop the run. Cancelling ctx stops the run at the next batch boundary; calls already issued to the
// oracle or the store complete first. The returned error is non-nil only when the run could not
// continue: the collection could not be created or the sample source failed.
func (idx *Indexer) Index(ctx context.Context, samples iter.Seq2[models.SampleDescriptor, error], opts RunOptions) (*models.IndexingReport, error) {
	report := &models.IndexingReport{
		RunID:       uuid.NewString(),
		Collection:  idx.store.Name(),
		DatasetName: opts.DatasetName,
		Errors:      []models.SampleFailure{},
		StartedAt:   time.Now().UTC(),
	}
	logger := idx.logger.With(zap.String("run_id", report.RunID), zap.String("collection", report.Collection))

	if err := idx.ensureCollection(ctx, opts); err != nil {
		return idx.finish(ctx, report, err)
	}
	logger.Info("indexing started",
		zap.String("dataset", opts.DatasetName),
		zap.Int("batch_size", idx.batchSize),
		zap.Int("prefetch", idx.prefetch),
		zap.Bool("skip_existing", opts.SkipExisting))

	next, stop := idx.batches(ctx, samples, opts.SkipExisting)
	defer stop()

	for {
		if ctx.Err() != nil {
			report.Cancelled = true
			logger.Warn("indexing cancelled", zap.Int("batches", report.Batches))
			break
		}
		b, ok := next()
		if !ok {
			break
		}
		for _, f := range b.failures {
			report.RecordFailure(f.SourcePath, f.Reason, f.Kind)
			metrics.IndexedSamplesTotal.WithLabelValues(string(f.Kind)).Inc()
		}
		for range b.skipped {
			report.RecordSkipped()
			metrics.IndexedSamplesTotal.WithLabelValues("skipped").Inc()
		}
		if b.err != nil {
			return idx.finish(ctx, report, fmt.Errorf("failed to read samples: %w", b.err))
		}
		if len(b.samples) > 0 {
			idx.indexBatch(ctx, report, b)
			logger.Debug("batch indexed",
				zap.Int("batch", report.Batches),
				zap.Int("succeeded", report.Succeeded),
				zap.Int("failed", report.Failed))
		}
	}
	return idx.finish(ctx, report, nil)
}

func (idx *Indexer) ensureCollection(ctx context.Context, opts RunOptions) error {
	dim := opts.Dimension
	if dim <= 0 {
		var err error
		if dim, err = embedding.ProbeDimension(context.WithoutCancel(ctx), idx.oracle); err != nil {
			return err
		}
	}
	storeCtx, cancel := idx.storeContext(ctx)
	defer cancel()
	spec := vector.CollectionSpec{Dimension: dim, Distance: vector.DistanceCosine, Recreate: opts.Recreate}
	if err := idx.store.CreateCollection(storeCtx, spec); err != nil {
		return fmt.Errorf("failed to prepare collection %s: %w", idx.store.Name(), err)
	}
	return nil
}

// batches returns a pull iterator over assembled batches. With prefetch enabled, batches are assembled
// on a separate goroutine while the caller embeds the previous one.
func (idx *Indexer) batches(ctx context.Context, samples iter.Seq2[models.SampleDescriptor, error], skipExisting bool) (func() (*batch, bool), func()) {
	pull, stopPull := iter.Pull2(samples)
	assemble := func() (*batch, bool) {
		return idx.assemble(ctx, pull, skipExisting)
	}
	if idx.prefetch == 0 {
		return assemble, stopPull
	}

	ch := make(chan *batch, idx.prefetch-1)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer close(ch)
		defer stopPull()
		for {
			b, ok := assemble()
			if !ok {
				return
			}
			select {
			case ch <- b:
			case <-done:
				return
			}
			if b.err != nil {
				return
			}
		}
	}()
	next := func() (*batch, bool) {
		b, ok := <-ch
		return b, ok
	}
	stop := func() {
		close(done)
		<-finished
	}
	return next, stop
}

// assemble reads descriptors until batchSize of them reached the load step or the source is exhausted.
// Samples that fail to load keep their slot, so batch boundaries follow the descriptor order.
func (idx *Indexer) assemble(ctx context.Context, pull func() (models.SampleDescriptor, error, bool), skipExisting bool) (*batch, bool) {
	b := &batch{}
	read := false
	for b.size < idx.batchSize {
		desc, err, ok := pull()
		if !ok {
			break
		}
		read = true
		if err != nil {
			var malformed *dataset.MalformedSampleError
			if errors.As(err, &malformed) {
				b.failures = append(b.failures, models.SampleFailure{
					SourcePath: malformed.Path, Reason: err.Error(), Kind: models.FailureMalformed,
				})
				continue
			}
			b.err = err
			return b, true
		}
		if skipExisting {
			exists, err := idx.exists(ctx, desc.SourcePath)
			if err != nil {
				idx.logger.Warn("existence check failed, reindexing sample", zap.String("path", desc.SourcePath), zap.Error(err))
			} else if exists {
				b.skipped++
				continue
			}
		}
		b.size++
		img, err := idx.load(desc.SourcePath)
		if err != nil {
			b.failures = append(b.failures, models.SampleFailure{
				SourcePath: desc.SourcePath, Reason: err.Error(), Kind: models.FailureLoad,
			})
			continue
		}
		b.samples = append(b.samples, desc)
		b.images = append(b.images, img)
	}
	return b, read
}

func (idx *Indexer) exists(ctx context.Context, path string) (bool, error) {
	storeCtx, cancel := idx.storeContext(ctx)
	defer cancel()
	return idx.store.Exists(storeCtx, pointid.For(path))
}

// indexBatch embeds b with one oracle call and upserts the vectors.
func (idx *Indexer) indexBatch(ctx context.Context, report *models.IndexingReport, b *batch) {
	report.Batches++
	start := time.Now()
	vectors, err := idx.oracle.EmbedImages(context.WithoutCancel(ctx), b.images)
	metrics.RecordEmbeddingBatch(len(b.images), time.Since(start).Seconds())
	b.images = nil
	if err == nil && len(vectors) != len(b.samples) {
		err = fmt.Errorf("oracle returned %d vectors for %d images", len(vectors), len(b.samples))
	}
	if err != nil {
		idx.logger.Error("embedding batch failed", zap.Int("batch", report.Batches), zap.Int("size", len(b.samples)), zap.Error(err))
		for _, s := range b.samples {
			report.RecordFailure(s.SourcePath, err.Error(), models.FailureEmbedding)
			metrics.IndexedSamplesTotal.WithLabelValues(string(models.FailureEmbedding)).Inc()
		}
		return
	}

	errs := make([]error, len(b.samples))
	var g errgroup.Group
	g.SetLimit(idx.upsertConcurrency)
	for i, s := range b.samples {
		point := models.Point{
			ID:      pointid.For(s.SourcePath),
			Vector:  vectors[i],
			Payload: models.PayloadFor(s),
		}
		g.Go(func() error {
			storeCtx, cancel := idx.storeContext(ctx)
			defer cancel()
			errs[i] = idx.store.Upsert(storeCtx, point)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range b.samples {
		if errs[i] != nil {
			idx.logger.Warn("upsert failed", zap.String("path", s.SourcePath), zap.Error(errs[i]))
			report.RecordFailure(s.SourcePath, errs[i].Error(), models.FailureUpsert)
			metrics.IndexedSamplesTotal.WithLabelValues(string(models.FailureUpsert)).Inc()
			continue
		}
		report.RecordSuccess()
		metrics.IndexedSamplesTotal.WithLabelValues("succeeded").Inc()
	}
}

func (idx *Indexer) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if idx.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, idx.storeTimeout)
}

// finish stamps the report, records it and logs the summary.
func (idx *Indexer) finish(ctx context.Context, report *models.IndexingReport, runErr error) (*models.IndexingReport, error) {
	report.FinishedAt = time.Now().UTC()
	outcome := "completed"
	switch {
	case runErr != nil:
		outcome = "failed"
	case report.Cancelled:
		outcome = "cancelled"
	}
	metrics.IndexingRunsTotal.WithLabelValues(outcome).Inc()

	if idx.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := idx.recorder.RecordRun(recCtx, report); err != nil {
			idx.logger.Warn("failed to record indexing run", zap.String("run_id", report.RunID), zap.Error(err))
		}
		cancel()
	}

	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("outcome", outcome),
		zap.Int("considered", report.TotalConsidered),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("batches", report.Batches),
		zap.Duration("duration", report.Duration()),
	}
	if runErr != nil {
		idx.logger.Error("indexing failed", append(fields, zap.Error(runErr))...)
		return report, runErr
	}
	idx.logger.Info("indexing finished", fields...)
	return report, nil
}
