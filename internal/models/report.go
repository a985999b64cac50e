package models

import "time"

// FailureKind classifies why a sample was not indexed.
type FailureKind string

const (
	FailureMalformed FailureKind = "malformed"
	FailureLoad      FailureKind = "load"
	FailureEmbedding FailureKind = "embedding"
	FailureUpsert    FailureKind = "upsert"
)

// SampleFailure records one sample that was not indexed.
type SampleFailure struct {
	SourcePath string      `json:"source_path"`
	Reason     string      `json:"reason"`
	Kind       FailureKind `json:"kind"`
}

// IndexingReport summarizes one indexing run.
// TotalConsidered = Succeeded + Failed + Skipped.
type IndexingReport struct {
	RunID           string          `json:"run_id"`
	Collection      string          `json:"collection"`
	DatasetName     string          `json:"dataset_name"`
	TotalConsidered int             `json:"total_considered"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Skipped         int             `json:"skipped"`
	Errors          []SampleFailure `json:"errors"`
	Batches         int             `json:"batches"`
	Cancelled       bool            `json:"cancelled"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
}

// RecordFailure appends a failure and counts the sample as considered.
func (r *IndexingReport) RecordFailure(path, reason string, kind FailureKind) {
	r.TotalConsidered++
	r.Failed++
	r.Errors = append(r.Errors, SampleFailure{SourcePath: path, Reason: reason, Kind: kind})
}

// RecordSuccess counts one indexed sample.
func (r *IndexingReport) RecordSuccess() {
	r.TotalConsidered++
	r.Succeeded++
}

// RecordSkipped counts one sample left untouched because it was already stored.
func (r *IndexingReport) RecordSkipped() {
	r.TotalConsidered++
	r.Skipped++
}

// Duration returns how long the run took.
func (r *IndexingReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
