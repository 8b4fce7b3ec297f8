package pollapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rmax-ai/pollwatch/pkg/poll"
)

// Client is the pollwatch HTTP client, used by the TUI and MCP layers to
// talk to a running pollwatchd.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a new pollwatch client. endpoint defaults to
// "http://127.0.0.1:8099" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8099"
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the current state of a named poll. It is fail-closed: a
// network error or non-2xx status is reported as a zero-value tick with the
// disposed phase left unset, rather than a partially-populated result.
func (c *Client) Status(ctx context.Context, name string) (poll.Tick[string], error) {
	var tick poll.Tick[string]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/polls/"+name, nil)
	if err != nil {
		return tick, fmt.Errorf("pollapi: build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return tick, fmt.Errorf("pollapi: daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return tick, fmt.Errorf("pollapi: poll %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return tick, fmt.Errorf("pollapi: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&tick); err != nil {
		return tick, fmt.Errorf("pollapi: decode status response: %w", err)
	}
	return tick, nil
}

// History fetches recent ticks for a named poll, newest first.
func (c *Client) History(ctx context.Context, name string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	url := fmt.Sprintf("%s/v1/polls/%s/history?limit=%d", c.endpoint, name, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pollapi: build history request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pollapi: daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pollapi: unexpected status %d", resp.StatusCode)
	}

	var records []HistoryRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("pollapi: decode history response: %w", err)
	}
	return records, nil
}

// Refresh asks the daemon to preempt a named poll's schedule and blocks
// until the next tick settles.
func (c *Client) Refresh(ctx context.Context, name string) (poll.Tick[string], error) {
	var tick poll.Tick[string]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/polls/"+name+"/refresh", nil)
	if err != nil {
		return tick, fmt.Errorf("pollapi: build refresh request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return tick, fmt.Errorf("pollapi: daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tick, fmt.Errorf("pollapi: refresh failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&tick); err != nil {
		return tick, fmt.Errorf("pollapi: decode refresh response: %w", err)
	}
	return tick, nil
}
