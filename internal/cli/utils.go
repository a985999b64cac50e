// Package cli provides output formatting and an HTTP client for the personsearch command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/pkg/utils"
)

// SearchOutputFormat is the format for command output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact is one line per result.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for i, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\n", i+1, r.Score, r.Payload.DatasetName, describeMetadata(r.Payload.Metadata), r.Payload.Path)
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results\n\n", len(response.Results))
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Dataset: %s\n", i+1, r.Score, r.Payload.DatasetName)
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		if meta := describeMetadata(r.Payload.Metadata); meta != "" {
			fmt.Fprintf(w, "Labels: %s\n", meta)
		}
		fmt.Fprintf(w, "Image: %s\n\n", utils.Truncate(r.Payload.Path, 200))
	}
}

// describeMetadata renders the recognized keys in filename order, e.g. "person=001 location=2".
func describeMetadata(m map[string]string) string {
	parts := make([]string, 0, len(models.MetadataKeys))
	for _, k := range models.MetadataKeys {
		if v, ok := m[k]; ok {
			parts = append(parts, strings.TrimSuffix(k, "_id")+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteReport writes an indexing report. Text output lists at most maxErrors failures; zero lists all.
func WriteReport(w io.Writer, report *models.IndexingReport, format SearchOutputFormat, maxErrors int) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	status := "completed"
	if report.Cancelled {
		status = "cancelled"
	}
	fmt.Fprintf(w, "Indexing %s: run %s into %s\n", status, report.RunID, report.Collection)
	fmt.Fprintf(w, "considered: %d  succeeded: %d  failed: %d  skipped: %d  batches: %d  took: %s\n",
		report.TotalConsidered, report.Succeeded, report.Failed, report.Skipped, report.Batches,
		report.Duration().Round(time.Millisecond))
	if len(report.Errors) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nFailures:")
	for i, f := range report.Errors {
		if maxErrors > 0 && i == maxErrors {
			fmt.Fprintf(w, "  ... and %d more\n", len(report.Errors)-maxErrors)
			break
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", f.Kind, filepath.Base(f.SourcePath), f.Reason)
	}
	return nil
}

// WriteDatasets writes dataset names, one per line, or as a JSON object.
func WriteDatasets(w io.Writer, names []string, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string][]string{"datasets": names})
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

// WriteRuns writes one line per run, or the page as JSON.
func WriteRuns(w io.Writer, page *RunsPage, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, page)
	}
	for _, r := range page.Runs {
		status := "completed"
		if r.Cancelled {
			status = "cancelled"
		}
		fmt.Fprintf(w, "%s  %s  %-9s  %s/%s  ok=%d failed=%d skipped=%d\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), status, r.Collection, r.DatasetName,
			r.Succeeded, r.Failed, r.Skipped)
	}
	fmt.Fprintf(w, "(%d of %d runs)\n", len(page.Runs), page.Total)
	return nil
}

// WriteFailures writes a run's failures, one per line, or as JSON.
func WriteFailures(w io.Writer, failures []models.SampleFailure, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, failures)
	}
	for _, f := range failures {
		fmt.Fprintf(w, "[%s] %s: %s\n", f.Kind, f.SourcePath, f.Reason)
	}
	return nil
}
