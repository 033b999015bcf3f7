/**
 * @description
 * Client for the marketplace catalog service's staff resource counts.
 */
package catalogclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrStaffNotFound = errors.New("staff not found in catalog")

// Client reads managed-restaurant and confirmed-reservation counts over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new catalog service client.
func NewClient(baseURL string, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type countResponse struct {
	Count *int `json:"count"`
}

// ResourceCountFor returns the number of restaurants staffID manages.
func (c *Client) ResourceCountFor(ctx context.Context, staffID string) (int, error) {
	if staffID == "" {
		return 0, fmt.Errorf("staff ID is required")
	}
	return c.getCount(ctx, c.buildURL("/internal/staff/"+url.PathEscape(staffID)+"/restaurants/count", nil))
}

// ActivityCountFor returns the number of confirmed reservations at the
// staff member's restaurants dated within [start, end).
func (c *Client) ActivityCountFor(ctx context.Context, staffID string, start, end time.Time) (int, error) {
	if staffID == "" {
		return 0, fmt.Errorf("staff ID is required")
	}
	if !end.After(start) {
		return 0, fmt.Errorf("invalid period [%s, %s)", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	query := url.Values{}
	query.Set("status", "confirmed")
	query.Set("from", start.Format(time.RFC3339))
	query.Set("to", end.Format(time.RFC3339))
	return c.getCount(ctx, c.buildURL("/internal/staff/"+url.PathEscape(staffID)+"/reservations/count", query))
}

func (c *Client) getCount(ctx context.Context, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrStaffNotFound
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	var response countResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to parse count response: %w", err)
	}
	if response.Count == nil || *response.Count < 0 {
		return 0, fmt.Errorf("catalog service returned an invalid count")
	}
	return *response.Count, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}
