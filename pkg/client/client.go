// Package client is a Go client for the descmatch HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okanes/descmatch/pkg/core/types"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Client talks to one descmatch server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option mutates the client during New.
type Option func(*Client)

// WithAPIKey sends key as a Bearer token on every request.
func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// New creates a client for the server at baseURL, e.g. "http://127.0.0.1:9800".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jsonRequest sends a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil. Non-2xx responses come back as
// *APIError.
func (c *Client) jsonRequest(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if raw, err := io.ReadAll(resp.Body); err == nil {
			if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateMatcherOptions tunes a new matcher. Zero fields keep server defaults.
type CreateMatcherOptions struct {
	M              int
	EfConstruction int
	Seed           int64
}

// CreateMatcher registers a new matcher for the given metric and precision.
func (c *Client) CreateMatcher(ctx context.Context, name, metric, precision string, opts *CreateMatcherOptions) (types.MatcherInfo, error) {
	req := struct {
		Name           string `json:"name"`
		Metric         string `json:"metric"`
		Precision      string `json:"precision"`
		M              int    `json:"m,omitempty"`
		EfConstruction int    `json:"ef_construction,omitempty"`
		Seed           int64  `json:"seed,omitempty"`
	}{Name: name, Metric: metric, Precision: precision}
	if opts != nil {
		req.M = opts.M
		req.EfConstruction = opts.EfConstruction
		req.Seed = opts.Seed
	}
	var info types.MatcherInfo
	err := c.jsonRequest(ctx, http.MethodPost, "/matchers", req, &info)
	return info, err
}

// ListMatchers returns every registered matcher, in lexical name order.
func (c *Client) ListMatchers(ctx context.Context) ([]types.MatcherInfo, error) {
	var resp struct {
		Matchers []types.MatcherInfo `json:"matchers"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/matchers", nil, &resp)
	return resp.Matchers, err
}

// GetMatcher returns one matcher's info.
func (c *Client) GetMatcher(ctx context.Context, name string) (types.MatcherInfo, error) {
	var info types.MatcherInfo
	err := c.jsonRequest(ctx, http.MethodGet, "/matchers/"+name, nil, &info)
	return info, err
}

// DeleteMatcher removes a matcher.
func (c *Client) DeleteMatcher(ctx context.Context, name string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/matchers/"+name, nil, nil)
}

// Task mirrors the server's task resource.
type Task struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GetTask returns the state of an asynchronous job.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var task Task
	err := c.jsonRequest(ctx, http.MethodGet, "/tasks/"+id, nil, &task)
	return task, err
}

// WaitTask polls a task until it completes, fails, or ctx expires. A failed
// task comes back as an error.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return task, err
		}
		switch task.Status {
		case "completed":
			return task, nil
		case "failed":
			return task, fmt.Errorf("task %s failed: %s", id, task.Error)
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

type buildRequest struct {
	Rows       int       `json:"rows"`
	Dimension  int       `json:"dimension"`
	Vectors    []float64 `json:"vectors,omitempty"`
	DataBase64 string    `json:"data_base64,omitempty"`
}

type buildResponse struct {
	TaskID string `json:"task_id"`
}

// Build starts an asynchronous index build over a flat row-major numeric
// descriptor set and returns the task id.
func (c *Client) Build(ctx context.Context, name string, vectors []float64, rows, dim int) (string, error) {
	var resp buildResponse
	err := c.jsonRequest(ctx, http.MethodPost, "/matchers/"+name+"/build",
		buildRequest{Rows: rows, Dimension: dim, Vectors: vectors}, &resp)
	return resp.TaskID, err
}

// BuildBinary starts an asynchronous build over bit-packed descriptors of dim
// bytes each.
func (c *Client) BuildBinary(ctx context.Context, name string, data []byte, rows, dim int) (string, error) {
	var resp buildResponse
	err := c.jsonRequest(ctx, http.MethodPost, "/matchers/"+name+"/build",
		buildRequest{Rows: rows, Dimension: dim, DataBase64: base64.StdEncoding.EncodeToString(data)}, &resp)
	return resp.TaskID, err
}

// SearchResult holds a batch of k-NN answers in flat form: the answer for
// query q at rank r is at q*K+r. A nil distance marks a filler slot past the
// indexed descriptor count; its id is types.NoNeighbour.
type SearchResult struct {
	NbQuery   int        `json:"nb_query"`
	K         int        `json:"k"`
	Indices   []uint32   `json:"indices"`
	Distances []*float64 `json:"distances"`
}

type searchRequest struct {
	NbQuery       int       `json:"nb_query"`
	K             int       `json:"k"`
	Queries       []float64 `json:"queries,omitempty"`
	QueriesBase64 string    `json:"queries_base64,omitempty"`
}

// Search runs batched k-NN over numeric query descriptors.
func (c *Client) Search(ctx context.Context, name string, queries []float64, nbQuery, k int) (SearchResult, error) {
	var resp SearchResult
	err := c.jsonRequest(ctx, http.MethodPost, "/matchers/"+name+"/search",
		searchRequest{NbQuery: nbQuery, K: k, Queries: queries}, &resp)
	return resp, err
}

// SearchBinary runs batched k-NN over bit-packed query descriptors.
func (c *Client) SearchBinary(ctx context.Context, name string, queries []byte, nbQuery, k int) (SearchResult, error) {
	var resp SearchResult
	err := c.jsonRequest(ctx, http.MethodPost, "/matchers/"+name+"/search",
		searchRequest{NbQuery: nbQuery, K: k, QueriesBase64: base64.StdEncoding.EncodeToString(queries)}, &resp)
	return resp, err
}

// SaveSnapshot persists a matcher's index on the server.
func (c *Client) SaveSnapshot(ctx context.Context, name string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/matchers/"+name+"/snapshot", nil, nil)
}

// LoadSnapshot restores a matcher from a server-side snapshot.
func (c *Client) LoadSnapshot(ctx context.Context, name string) error {
	req := struct {
		Name string `json:"name"`
	}{Name: name}
	return c.jsonRequest(ctx, http.MethodPost, "/snapshots/load", req, nil)
}
