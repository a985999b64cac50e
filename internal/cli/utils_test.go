package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"github.com/hyperjump/personsearch/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Results: []models.SearchResult{
			{
				ID:    "5f0c7b1e-0000-5000-8000-000000000001",
				Score: 0.9123,
				Payload: models.Payload{
					Path:        "/data/VC-Clothes/train/001-2-3-4.jpg",
					DatasetName: "VC-Clothes",
					Metadata: map[string]string{
						models.KeyPersonID: "001", models.KeyLocationID: "2",
						models.KeyClothesID: "3", models.KeyFrameID: "4",
					},
				},
			},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"text", "compact", "json", "JSON"} {
		if _, err := ParseOutputFormat(s); err != nil {
			t.Errorf("ParseOutputFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Payload.Metadata[models.KeyPersonID] != "001" {
		t.Errorf("decoded results = %+v", decoded.Results)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "Rank: 1", "0.9123", "Dataset: VC-Clothes",
		"person=001 location=2 clothes=3 frame=4", "001-2-3-4.jpg"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteSearchResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "1\t0.9123\tVC-Clothes\t") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestWriteSearchResults_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, &models.SearchResponse{}, SearchOutputFormat("xml")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestPrintSearchResults(t *testing.T) {
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	PrintSearchResults(sampleResponse())
	_ = w.Close()
	os.Stdout = old
	out, _ := io.ReadAll(r)
	if !strings.Contains(string(out), "Found 1 results") {
		t.Errorf("stdout = %s", out)
	}
}

func TestWriteReport(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	report := &models.IndexingReport{
		RunID: "run-1", Collection: "person_search", TotalConsidered: 4, Succeeded: 1, Failed: 3, Batches: 1,
		StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
		Errors: []models.SampleFailure{
			{SourcePath: "/d/train/abc.jpg", Reason: "expected 4 fields", Kind: models.FailureMalformed},
			{SourcePath: "/d/train/1-1-1-1.jpg", Reason: "decode failed", Kind: models.FailureLoad},
			{SourcePath: "/d/train/1-1-1-2.jpg", Reason: "decode failed", Kind: models.FailureLoad},
		},
	}
	var buf bytes.Buffer
	if err := WriteReport(&buf, report, OutputText, 2); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Indexing completed", "run-1", "succeeded: 1", "failed: 3", "took: 1.5s",
		"[malformed] abc.jpg", "... and 1 more"} {
		if !strings.Contains(out, sub) {
			t.Errorf("report missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteReport(&buf, report, OutputJSON, 0); err != nil {
		t.Fatal(err)
	}
	var decoded models.IndexingReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded.Errors) != 3 {
		t.Errorf("json report: err=%v errors=%d", err, len(decoded.Errors))
	}
}

func TestWriteDatasets(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteDatasets(&buf, []string{"PRCC", "VC-Clothes"}, OutputText)
	if buf.String() != "PRCC\nVC-Clothes\n" {
		t.Errorf("text = %q", buf.String())
	}
}

func TestWriteRuns(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	page := &RunsPage{
		Runs: []*models.IndexingReport{
			{RunID: "run-2", Collection: "person_search", DatasetName: "PRCC", Succeeded: 9, Failed: 1, StartedAt: start, Cancelled: true},
			{RunID: "run-1", Collection: "person_search", DatasetName: "PRCC", Succeeded: 10, StartedAt: start.Add(-time.Hour)},
		},
		Total: 7,
	}
	var buf bytes.Buffer
	if err := WriteRuns(&buf, page, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "run-2") || !strings.Contains(lines[0], "cancelled") || !strings.Contains(lines[0], "ok=9 failed=1") {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[2] != "(2 of 7 runs)" {
		t.Errorf("footer = %q", lines[2])
	}

	buf.Reset()
	failures := []models.SampleFailure{{SourcePath: "/d/train/x.jpg", Reason: "decode failed", Kind: models.FailureLoad}}
	_ = WriteFailures(&buf, failures, OutputText)
	if buf.String() != "[load] /d/train/x.jpg: decode failed\n" {
		t.Errorf("failures = %q", buf.String())
	}
}

func TestClient_runs(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/runs":
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`{"runs":[{"run_id":"run-1","succeeded":3}],"total":4}`))
		case "/runs/run-1/failures":
			_, _ = w.Write([]byte(`{"run_id":"run-1","failures":[{"source_path":"/a.jpg","reason":"bad","kind":"load"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"run not found"}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	page, err := c.Runs(ctx, 2, 10)
	if err != nil || page.Total != 4 || len(page.Runs) != 1 || page.Runs[0].Succeeded != 3 {
		t.Fatalf("Runs: %v %+v", err, page)
	}
	if gotQuery != "limit=10&offset=2" {
		t.Errorf("query = %q", gotQuery)
	}
	failures, err := c.Failures(ctx, "run-1")
	if err != nil || len(failures) != 1 || failures[0].Kind != models.FailureLoad {
		t.Errorf("Failures: %v %+v", err, failures)
	}
	_, err = c.Failures(ctx, "nope")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Errorf("Failures(unknown) = %v", err)
	}
}

func TestClient(t *testing.T) {
	var gotQuery map[string]any
	var gotImage struct {
		topK, datasets, contentType string
		size                        int
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search_text":
			_ = json.NewDecoder(r.Body).Decode(&gotQuery)
			_ = json.NewEncoder(w).Encode(sampleResponse())
		case "/search_image":
			f, h, err := r.FormFile("file")
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			gotImage.size = len(data)
			gotImage.contentType = h.Header.Get("Content-Type")
			gotImage.topK = r.URL.Query().Get("top_k")
			gotImage.datasets = r.URL.Query().Get("dataset_names")
			_ = json.NewEncoder(w).Encode(sampleResponse())
		case "/datasets":
			_, _ = w.Write([]byte(`{"datasets":["VC-Clothes"]}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"Service not ready"}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	resp, err := c.SearchText(ctx, "red jacket", 3, []string{"VC-Clothes"})
	if err != nil || len(resp.Results) != 1 {
		t.Fatalf("SearchText: %v %+v", err, resp)
	}
	if gotQuery["text"] != "red jacket" || gotQuery["top_k"] != float64(3) {
		t.Errorf("text request = %v", gotQuery)
	}

	png := []byte("\x89PNG\r\n\x1a\n0000")
	if _, err := c.SearchImage(ctx, "/tmp/q.png", png, 7, []string{"a", "b"}); err != nil {
		t.Fatalf("SearchImage: %v", err)
	}
	if gotImage.topK != "7" || gotImage.datasets != "a,b" || gotImage.contentType != "image/png" || gotImage.size != len(png) {
		t.Errorf("image request = %+v", gotImage)
	}

	var tiffBuf bytes.Buffer
	if err := tiff.Encode(&tiffBuf, image.NewGray(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SearchImage(ctx, "query", tiffBuf.Bytes(), 1, nil); err != nil {
		t.Fatalf("SearchImage(tiff): %v", err)
	}
	if gotImage.contentType != "image/tiff" {
		t.Errorf("tiff upload content type = %q", gotImage.contentType)
	}

	names, err := c.Datasets(ctx)
	if err != nil || len(names) != 1 {
		t.Errorf("Datasets: %v %v", err, names)
	}

	_, err = c.Status(ctx)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusServiceUnavailable || serr.Detail != "Service not ready" {
		t.Errorf("Status error = %v", err)
	}
}
