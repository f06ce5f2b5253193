// Package graphql is a minimal client for the indexer's GraphQL service.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	requestTimeout = 10 * time.Second
	retryInterval  = time.Second
)

// Error is one entry of a GraphQL errors array.
type Error struct {
	Message string `json:"message"`
}

// Errors is returned when the server answered with a non-empty errors
// array.
type Errors []Error

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Response is a decoded GraphQL response.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors Errors          `json:"errors,omitempty"`
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Client posts queries to one endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger.With("component", "graphql"),
	}
}

func (c *Client) URL() string { return c.url }

// Query sends one request. Transport errors, non-2xx statuses and GraphQL
// errors are all returned as errors.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any) (*Response, error) {
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graphql response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("graphql endpoint returned HTTP %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode graphql response: %w", err)
	}
	if len(out.Errors) > 0 {
		return &out, out.Errors
	}
	return &out, nil
}

// QueryWithRetry repeats Query until it succeeds or timeout passes.
func (c *Client) QueryWithRetry(ctx context.Context, query string, vars map[string]any, timeout time.Duration) (*Response, error) {
	var resp *Response
	outcome := readiness.PollUntil(ctx,
		func(ctx context.Context) (*Response, error) { return c.Query(ctx, query, vars) },
		func(r *Response) bool { resp = r; return true },
		readiness.Options{Interval: retryInterval, Timeout: timeout})
	if err := outcome.Err("graphql query"); err != nil {
		if outcome.LastErr != nil {
			return nil, fmt.Errorf("%w (last error: %v)", err, outcome.LastErr)
		}
		return nil, err
	}
	c.logger.Debug("graphql query succeeded", "elapsed", outcome.Elapsed)
	return resp, nil
}

// Ping checks the endpoint answers a __typename query.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "{ __typename }", nil)
	return err
}

// CountNodes decodes data.<field>.nodes and returns its length.
func CountNodes(data json.RawMessage, field string) (int, error) {
	var root map[string]struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		return 0, fmt.Errorf("failed to decode graphql data: %w", err)
	}
	conn, ok := root[field]
	if !ok {
		return 0, fmt.Errorf("graphql data has no field %q", field)
	}
	return len(conn.Nodes), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
