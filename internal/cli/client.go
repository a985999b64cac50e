package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/personsearch/internal/imaging"
	"github.com/hyperjump/personsearch/internal/models"
)

// Client talks to a running personsearch server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// StatusError is a non-2xx server response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Detail)
}

// SearchText runs a text query.
func (c *Client) SearchText(ctx context.Context, text string, topK int, datasets []string) (*models.SearchResponse, error) {
	body, err := json.Marshal(map[string]any{"text": text, "top_k": topK, "dataset_names": datasets})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search_text", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out models.SearchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchImage uploads an encoded image as a query.
func (c *Client) SearchImage(ctx context.Context, filename string, data []byte, topK int, datasets []string) (*models.SearchResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	hdr.Set("Content-Type", imaging.ContentType(data, filename))
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("top_k", strconv.Itoa(topK))
	if len(datasets) > 0 {
		q.Set("dataset_names", strings.Join(datasets, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search_image?"+q.Encode(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out models.SearchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Datasets lists the indexed dataset names.
func (c *Client) Datasets(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/datasets", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Datasets []string `json:"datasets"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// Status returns the raw /status document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunsPage is one page of recorded indexing runs.
type RunsPage struct {
	Runs  []*models.IndexingReport `json:"runs"`
	Total int64                    `json:"total"`
}

// Runs lists recorded indexing runs newest first.
func (c *Client) Runs(ctx context.Context, offset, limit int) (*RunsPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out RunsPage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Failures returns the per-sample failures recorded for a run.
func (c *Client) Failures(ctx context.Context, runID string) ([]models.SampleFailure, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(runID)+"/failures", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Failures []models.SampleFailure `json:"failures"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Failures, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(b, &e) == nil && e.Detail != "" {
			return &StatusError{Code: resp.StatusCode, Detail: e.Detail}
		}
		return &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
