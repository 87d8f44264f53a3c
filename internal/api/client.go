package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/sonar.tracker/internal/httputil"
)

// Client reads the tracking API of a running sonar service.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a client for the service at baseURL. A nil c uses a
// StandardClient with httputil.DefaultTimeout.
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: c}
}

// Position fetches the latest estimate in the given units ("" for the
// service default).
func (c *Client) Position(ctx context.Context, unit string) (*PositionResponse, error) {
	var out PositionResponse
	if err := c.get(ctx, "/api/position", unitQuery(unit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches the current trail.
func (c *Client) History(ctx context.Context, unit string) (*HistoryResponse, error) {
	var out HistoryResponse
	if err := c.get(ctx, "/api/history", unitQuery(unit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches the trail statistics and tracker counters.
func (c *Client) Stats(ctx context.Context, unit string) (*HistoryStatsResponse, error) {
	var out HistoryStatsResponse
	if err := c.get(ctx, "/api/history/stats", unitQuery(unit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func unitQuery(unit string) url.Values {
	q := url.Values{}
	if unit != "" {
		q.Set("units", unit)
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := httputil.DecodeJSON(resp, out); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}
