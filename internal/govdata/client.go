// Package govdata holds thin read-only clients for the Congress.gov and
// GovInfo REST APIs. The clients build request URLs, attach the API key,
// and decode JSON; interpretation of the payloads lives in the MCP tool
// handlers.
package govdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from an upstream government API.
type APIError struct {
	Service string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Body)
}

// client is the shared request machinery behind both services.
type client struct {
	service    string
	baseURL    string
	apiKey     string
	keyParam   string
	httpClient *http.Client
}

func newClient(service, baseURL, apiKey, keyParam string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		service:    service,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		keyParam:   keyParam,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// get performs a GET against path with the given query parameters and
// decodes the JSON response into out.
func (c *client) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set(c.keyParam, c.apiKey)
	}
	params.Set("format", "json")

	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Service: c.service, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}
