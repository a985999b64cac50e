// Package search provides the query service: text and image similarity search over the indexed samples.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/app"
	"github.com/hyperjump/personsearch/internal/imaging"
	"github.com/hyperjump/personsearch/internal/metrics"
	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/internal/vector"
	"github.com/hyperjump/personsearch/pkg/utils"
)

// Gate hands out the initialized collaborators. *app.Gate implements it.
type Gate interface {
	Acquire() (app.Collaborators, error)
}

// Service runs queries. It is safe for concurrent use.
type Service struct {
	gate         Gate
	maxTopK      int
	storeTimeout time.Duration
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxTopK caps top_k. Zero or a negative value disables the cap.
func WithMaxTopK(n int) Option {
	return func(s *Service) { s.maxTopK = n }
}

// WithStoreTimeout bounds each vector store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.storeTimeout = d }
}

// NewService creates a query service over gate.
func NewService(gate Gate, opts ...Option) *Service {
	s := &Service{gate: gate, storeTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// SearchByText returns at most topK samples most similar to text.
func (s *Service) SearchByText(ctx context.Context, text string, topK int, datasets []string) (*models.SearchResponse, error) {
	return s.Search(ctx, &models.SearchQuery{
		Modality: models.ModalityText, Text: text, TopK: topK, DatasetFilter: datasets,
	})
}

// SearchByImage returns at most topK samples most similar to the encoded image in data.
func (s *Service) SearchByImage(ctx context.Context, data []byte, contentType string, topK int, datasets []string) (*models.SearchResponse, error) {
	return s.Search(ctx, &models.SearchQuery{
		Modality: models.ModalityImage, Image: data, ContentType: contentType, TopK: topK, DatasetFilter: datasets,
	})
}

// Search checks readiness, validates q, embeds it with one oracle call and runs one store search.
// Readiness and validation failures happen before either collaborator is called.
func (s *Service) Search(ctx context.Context, q *models.SearchQuery) (resp *models.SearchResponse, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		metrics.RecordQuery(string(q.Modality), outcome, time.Since(start).Seconds())
	}()

	collab, err := s.gate.Acquire()
	if err != nil {
		return nil, &Error{Kind: KindNotReady, Err: err}
	}
	if err := ProcessQuery(q, s.maxTopK); err != nil {
		return nil, err
	}

	var vec []float32
	switch q.Modality {
	case models.ModalityText:
		vec, err = collab.Oracle.EmbedText(ctx, q.Text)
	case models.ModalityImage:
		img, format, decodeErr := imaging.Decode(q.Image)
		if decodeErr != nil {
			return nil, validationError("file is not a valid image: %v", decodeErr)
		}
		s.logger.Debug("query image decoded", zap.String("format", format), zap.Stringer("bounds", img.Bounds()))
		vec, err = collab.Oracle.EmbedImage(ctx, img)
	}
	if err != nil {
		s.logger.Error("query embedding failed", zap.String("modality", string(q.Modality)), zap.Error(err))
		return nil, &Error{Kind: KindCollaborator, Err: fmt.Errorf("embedding: %w", err)}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	results, err := collab.Store.Search(storeCtx, vec, q.TopK, vector.Filter{DatasetNames: q.DatasetFilter})
	if err != nil {
		s.logger.Error("vector search failed", zap.String("collection", collab.Store.Name()), zap.Error(err))
		return nil, &Error{Kind: KindCollaborator, Err: fmt.Errorf("vector search: %w", err)}
	}
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.logger.Debug("search completed",
		zap.String("modality", string(q.Modality)),
		zap.Int("top_k", q.TopK),
		zap.Strings("datasets", q.DatasetFilter),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)))
	return &models.SearchResponse{Results: results}, nil
}

// Datasets returns the distinct dataset names in the collection.
func (s *Service) Datasets(ctx context.Context) ([]string, error) {
	collab, err := s.gate.Acquire()
	if err != nil {
		return nil, &Error{Kind: KindNotReady, Err: err}
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	names, err := collab.Store.ListDistinct(storeCtx, vector.FieldDatasetName)
	if err != nil {
		return nil, &Error{Kind: KindCollaborator, Err: fmt.Errorf("list datasets: %w", err)}
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
