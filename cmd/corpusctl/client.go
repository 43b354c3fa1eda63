package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// client is a thin wrapper over the corpusd HTTP API; every command in
// this binary goes through it rather than touching net/http directly.
type client struct {
	baseURL    string
	drainToken string
	httpClient *http.Client
}

func newClient(baseURL, drainToken string) *client {
	return &client{
		baseURL:    baseURL,
		drainToken: drainToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is returned for any non-2xx response; its message is the
// server's JSON error body when present.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("corpusd: %s (status %d)", e.Message, e.StatusCode)
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.drainToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.drainToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &apiError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type createSearchResponse struct {
	SearchID string             `json:"search_id"`
	Status   types.ReportStatus `json:"status"`
}

func (c *client) CreateSearch(ctx context.Context, req types.SearchRequest) (*createSearchResponse, error) {
	var out createSearchResponse
	if err := c.do(ctx, http.MethodPost, "/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GetSearch(ctx context.Context, id string) (*types.Report, error) {
	var out types.Report
	if err := c.do(ctx, http.MethodGet, "/search/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type runSummary struct {
	ID          string    `json:"id"`
	RunIndex    int       `json:"run_index"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	Trigger     string    `json:"trigger"`
	Status      string    `json:"status"`
	Engine      string    `json:"engine"`
	CreatedAt   time.Time `json:"created_at"`
	IsActive    bool      `json:"is_active"`
}

func (c *client) ListRuns(ctx context.Context, reportID string) ([]runSummary, error) {
	var out []runSummary
	if err := c.do(ctx, http.MethodGet, "/search/"+reportID+"/runs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type runDetail struct {
	Run     runSummary       `json:"run"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (c *client) GetRun(ctx context.Context, reportID, runID string) (*runDetail, error) {
	var out runDetail
	if err := c.do(ctx, http.MethodGet, "/search/"+reportID+"/runs/"+runID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GetPaper(ctx context.Context, paperID string) (*types.CanonicalPaper, error) {
	var out types.CanonicalPaper
	if err := c.do(ctx, http.MethodGet, "/paper/"+paperID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type drainRequest struct {
	WorkerID     string `json:"worker_id,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	LeaseSeconds int    `json:"lease_seconds,omitempty"`
}

type drainResponse struct {
	Claimed   int      `json:"claimed"`
	Completed int      `json:"completed"`
	Retried   int      `json:"retried"`
	Dead      int      `json:"dead"`
	Failures  []string `json:"failures,omitempty"`
}

func (c *client) Drain(ctx context.Context, req drainRequest) (*drainResponse, error) {
	var out drainResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/drain", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
