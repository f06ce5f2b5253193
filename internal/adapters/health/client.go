// Package health queries the indexer's HTTP health endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	requestTimeout       = 5 * time.Second
	healthyPollInterval  = 500 * time.Millisecond
	indexingPollInterval = time.Second
)

// Client polls GET <base>/health.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewClient targets the health server on localhost:port.
func NewClient(port int, logger *slog.Logger) *Client {
	return NewClientForURL(fmt.Sprintf("http://localhost:%d", port), logger)
}

// NewClientForURL targets an explicit base URL.
func NewClientForURL(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    baseURL + "/health",
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger.With("component", "health"),
	}
}

// URL is the full health endpoint URL.
func (c *Client) URL() string { return c.url }

// GetHealth fetches and decodes one health document.
func (c *Client) GetHealth(ctx context.Context) (*domain.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("health endpoint returned HTTP %d", resp.StatusCode)
	}

	var status domain.HealthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &status, nil
}

// IsHealthy reports whether a single probe shows the service ready.
func (c *Client) IsHealthy(ctx context.Context) bool {
	status, err := c.GetHealth(ctx)
	return err == nil && status.ServiceReady()
}

// WaitForHealthy polls until the service reports ready. Connection
// failures count as "not yet" until the deadline.
func (c *Client) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	out := readiness.PollUntil(ctx, c.GetHealth, (*domain.HealthStatus).ServiceReady,
		readiness.Options{Interval: healthyPollInterval, Timeout: timeout})
	if err := out.Err("health check"); err != nil {
		return withLast(err, out.LastErr)
	}
	c.logger.Debug("indexer healthy", "elapsed", out.Elapsed)
	return nil
}

// WaitForIndexingComplete polls until no indexing task is in flight.
func (c *Client) WaitForIndexingComplete(ctx context.Context, timeout time.Duration) error {
	out := readiness.PollUntil(ctx, c.GetHealth, (*domain.HealthStatus).IndexingComplete,
		readiness.Options{Interval: indexingPollInterval, Timeout: timeout})
	if err := out.Err("indexing completion"); err != nil {
		return withLast(err, out.LastErr)
	}
	c.logger.Debug("indexing complete", "elapsed", out.Elapsed)
	return nil
}

func withLast(err, last error) error {
	if last == nil {
		return err
	}
	return fmt.Errorf("%w (last error: %v)", err, last)
}
