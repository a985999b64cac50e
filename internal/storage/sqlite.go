package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/personsearch/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexing_runs (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		dataset_name TEXT NOT NULL,
		total_considered INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		batches INTEGER NOT NULL,
		cancelled INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_collection_started ON indexing_runs(collection, started_at);

	CREATE TABLE IF NOT EXISTS indexing_failures (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		source_path TEXT NOT NULL,
		reason TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES indexing_runs(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordRun inserts the run and its failures in one transaction.
func (s *SQLiteLedger) RecordRun(ctx context.Context, r *models.IndexingReport) error {
	if r.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM indexing_runs WHERE id = ?`, r.RunID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO indexing_runs (id, collection, dataset_name, total_considered, succeeded, failed, skipped,
		 batches, cancelled, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Collection, r.DatasetName, r.TotalConsidered, r.Succeeded, r.Failed, r.Skipped,
		r.Batches, r.Cancelled, r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO indexing_failures (run_id, seq, source_path, reason, kind) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()
	for i, f := range r.Errors {
		if _, err := stmt.ExecContext(ctx, r.RunID, i, f.SourcePath, f.Reason, string(f.Kind)); err != nil {
			return fmt.Errorf("failed to insert failure: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, collection, dataset_name, total_considered, succeeded, failed, skipped, batches,
	cancelled, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.IndexingReport, error) {
	var r models.IndexingReport
	err := row.Scan(&r.RunID, &r.Collection, &r.DatasetName, &r.TotalConsidered, &r.Succeeded, &r.Failed,
		&r.Skipped, &r.Batches, &r.Cancelled, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LastRun returns the latest run for collection with its failures.
func (s *SQLiteLedger) LastRun(ctx context.Context, collection string) (*models.IndexingReport, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM indexing_runs WHERE collection = ? ORDER BY started_at DESC LIMIT 1`, collection))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no run for collection %s: %w", collection, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.Errors, err = s.Failures(ctx, r.RunID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteLedger) ListRuns(ctx context.Context, offset, limit int) ([]*models.IndexingReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM indexing_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.IndexingReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Failures returns the failures of a run in the order they were recorded, or ErrNotFound for an unknown run.
func (s *SQLiteLedger) Failures(ctx context.Context, runID string) ([]models.SampleFailure, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM indexing_runs WHERE id = ?", runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_path, reason, kind FROM indexing_failures WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failures := []models.SampleFailure{}
	for rows.Next() {
		var f models.SampleFailure
		var kind string
		if err := rows.Scan(&f.SourcePath, &f.Reason, &kind); err != nil {
			return nil, err
		}
		f.Kind = models.FailureKind(kind)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// CountRuns returns the number of recorded runs.
func (s *SQLiteLedger) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indexing_runs").Scan(&count)
	return count, err
}

// Close closes the database.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
