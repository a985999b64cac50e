// Package storage persists indexing runs and their per-sample failures.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/personsearch/internal/models"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Ledger records indexing runs.
type Ledger interface {
	// RecordRun stores the report and its failures. Recording the same RunID twice replaces the run.
	RecordRun(ctx context.Context, report *models.IndexingReport) error
	// LastRun returns the most recently started run for collection, including its failures.
	LastRun(ctx context.Context, collection string) (*models.IndexingReport, error)
	// ListRuns returns runs newest first, without failures.
	ListRuns(ctx context.Context, offset, limit int) ([]*models.IndexingReport, error)
	Failures(ctx context.Context, runID string) ([]models.SampleFailure, error)
	CountRuns(ctx context.Context) (int64, error)
	Close() error
}
