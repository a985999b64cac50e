package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/internal/search"
	"github.com/hyperjump/personsearch/internal/storage"
	"github.com/hyperjump/personsearch/pkg/utils"
)

// notReadyMessage is the fixed detail for 503 responses.
const notReadyMessage = "Service not ready"

type searchTextRequest struct {
	Text         string   `json:"text"`
	TopK         *int     `json:"top_k"`
	DatasetNames []string `json:"dataset_names"`
}

type datasetsResponse struct {
	Datasets []string `json:"datasets"`
}

type statusResponse struct {
	Ready          bool                   `json:"ready"`
	State          string                 `json:"state"`
	Model          string                 `json:"model"`
	Collection     string                 `json:"collection"`
	VectorStore    string                 `json:"vector_store"`
	Dimension      int                    `json:"dimension,omitempty"`
	Points         *int64                 `json:"points,omitempty"`
	LastRun        *models.IndexingReport `json:"last_run,omitempty"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
	Disk           *storage.Footprint     `json:"disk,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	var req searchTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	topK := s.app.Config().Search.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	s.logger.Debug("search text request",
		zap.String("text", utils.Truncate(req.Text, 80)),
		zap.Int("top_k", topK),
		zap.Strings("datasets", req.DatasetNames))
	resp, err := s.search.SearchByText(r.Context(), req.Text, topK, req.DatasetNames)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	cfg := s.app.Config()
	topK := cfg.Search.DefaultTopK
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}
	datasets := utils.SplitList(r.URL.Query().Get("dataset_names"))

	r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	s.logger.Debug("search image request",
		zap.String("filename", header.Filename),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)),
		zap.Int("top_k", topK),
		zap.Strings("datasets", datasets))
	resp, err := s.search.SearchByImage(r.Context(), data, contentType, topK, datasets)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleImage serves a sample image by the last segment of its payload path.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	path := filepath.Join(s.app.Config().Dataset.ImagesDir(), name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := s.search.Datasets(r.Context())
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, datasetsResponse{Datasets: names})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := s.app.Config()
	gate := s.app.Gate()
	resp := statusResponse{
		Ready:       gate.Ready(),
		State:       gate.State().String(),
		Model:       cfg.Embedding.ModelName + "/" + cfg.Embedding.ModelDataset,
		Collection:  cfg.Vector.Collection,
		VectorStore: cfg.Vector.Type,
	}
	if collab, err := gate.Acquire(); err == nil {
		resp.Dimension = collab.Dimension
		countCtx, cancel := context.WithTimeout(ctx, cfg.Vector.Timeout)
		n, err := collab.Store.Count(countCtx)
		cancel()
		if err != nil {
			s.logger.Warn("status: count points failed", zap.Error(err))
		} else {
			resp.Points = &n
		}
	}
	if ledger := s.app.Ledger(); ledger != nil {
		last, err := ledger.LastRun(ctx, cfg.Vector.Collection)
		switch {
		case err == nil:
			resp.LastRun = last
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("status: last run lookup failed", zap.Error(err))
		}
	}
	if fp, err := storage.MeasureFootprint(cfg.Ledger.DatabasePath, cfg.Vector.SnapshotPath); err == nil {
		resp.DiskUsageBytes = fp.Total()
		resp.Disk = &fp
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type runsResponse struct {
	Runs  []*models.IndexingReport `json:"runs"`
	Total int64                    `json:"total"`
}

type failuresResponse struct {
	RunID    string                 `json:"run_id"`
	Failures []models.SampleFailure `json:"failures"`
}

// handleRuns lists recorded indexing runs newest first. Paging uses offset and limit (default 20, max 100).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	ledger := s.app.Ledger()
	if ledger == nil {
		s.respondError(w, http.StatusNotFound, "run ledger is disabled")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil || limit < 1 || limit > 100 {
		s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	runs, err := ledger.ListRuns(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	total, err := ledger.CountRuns(r.Context())
	if err != nil {
		s.logger.Error("count runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.IndexingReport{}
	}
	s.respondJSON(w, http.StatusOK, runsResponse{Runs: runs, Total: total})
}

func (s *Server) handleRunFailures(w http.ResponseWriter, r *http.Request) {
	ledger := s.app.Ledger()
	if ledger == nil {
		s.respondError(w, http.StatusNotFound, "run ledger is disabled")
		return
	}
	runID := chi.URLParam(r, "id")
	failures, err := ledger.Failures(r.Context(), runID)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("list failures failed", zap.String("run_id", runID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	if failures == nil {
		failures = []models.SampleFailure{}
	}
	s.respondJSON(w, http.StatusOK, failuresResponse{RunID: runID, Failures: failures})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// ready answers 503 and returns false unless the gate is ready, so request parsing errors never
// mask an unready service.
func (s *Server) ready(w http.ResponseWriter) bool {
	if s.app.Gate().Ready() {
		return true
	}
	s.respondError(w, http.StatusServiceUnavailable, notReadyMessage)
	return false
}

// respondSearchError maps a query failure to its status code.
func (s *Server) respondSearchError(w http.ResponseWriter, err error) {
	switch search.KindOf(err) {
	case search.KindValidation:
		s.respondError(w, http.StatusBadRequest, err.Error())
	case search.KindNotReady:
		s.respondError(w, http.StatusServiceUnavailable, notReadyMessage)
	default:
		s.logger.Error("search failed", zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.respondError(w, status, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"detail": message})
}
