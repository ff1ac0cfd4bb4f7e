// Package graphql is a thin client for the hosted GraphQL datastore that owns
// guesses, price snapshots and user scores.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client posts GraphQL operations to a single endpoint.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a GraphQL client. apiKey is sent as the x-api-key header
// when non-empty. A zero timeout falls back to 30 seconds.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    url,
		apiKey: strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is the standard GraphQL request envelope.
type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// response is the standard GraphQL response envelope.
type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ErrorEntry    `json:"errors"`
}

// Do executes query with variables and decodes the "data" member into out.
// A non-empty errors array is returned as *Error, even when data is present.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	data, err := c.do(ctx, query, variables)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("graphql: decode data: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("graphql: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("graphql: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("graphql: read response: %w", err)
	}

	var gqlResp response
	if jsonErr := json.Unmarshal(raw, &gqlResp); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("graphql: HTTP %d: %s", resp.StatusCode, truncate(raw, 512))
		}
		return nil, fmt.Errorf("graphql: decode response: %w", jsonErr)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, &Error{StatusCode: resp.StatusCode, Entries: gqlResp.Errors}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graphql: HTTP %d: %s", resp.StatusCode, truncate(raw, 512))
	}

	return gqlResp.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
