// Package newsapi is a thin client for the NewsAPI v2 REST interface.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the production NewsAPI endpoint.
const DefaultBaseURL = "https://newsapi.org/v2"

const defaultTimeout = 30 * time.Second

// Client issues requests against the NewsAPI. The underlying http.Client
// and its connection pool are safe to share across concurrent calls.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a NewsAPI client. baseURL may be empty to use the
// production endpoint; apiKey may be empty for unauthenticated calls.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Everything performs one GET against /everything with the given query
// parameters and returns the response body decoded as-is. Non-2xx statuses
// and transport failures are returned as errors; the caller decides how to
// surface them.
func (c *Client) Everything(ctx context.Context, params map[string]any) (map[string]any, error) {
	return c.get(ctx, "/everything", params)
}

func (c *Client) get(ctx context.Context, path string, params map[string]any) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi: failed to create request: %w", err)
	}

	query := url.Values{}
	for name, value := range params {
		if value == nil {
			continue
		}
		query.Set(name, formatParam(value))
	}
	req.URL.RawQuery = query.Encode()

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("newsapi: %s returned %s", path, resp.Status)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("newsapi: failed to decode %s response: %w", path, err)
	}

	return payload, nil
}

// formatParam renders a parameter value for the query string. JSON numbers
// arrive as float64; integral ones are rendered without a fraction so
// pageSize=20 does not become pageSize=20.000000.
func formatParam(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
