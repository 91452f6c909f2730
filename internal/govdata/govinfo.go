package govdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GovInfo is a client for the GovInfo API (official published documents:
// public laws, congressional record, federal register).
type GovInfo struct {
	c *client
}

// NewGovInfo builds a GovInfo client. baseURL defaults to the public
// endpoint when empty.
func NewGovInfo(baseURL, apiKey string, timeout time.Duration) *GovInfo {
	if baseURL == "" {
		baseURL = "https://api.govinfo.gov"
	}
	return &GovInfo{c: newClient("govinfo.gov", baseURL, apiKey, "api_key", timeout)}
}

// Search runs a full-text search, optionally restricted to one collection
// (e.g. PLAW, CREC, FR). GovInfo's search endpoint takes a POST body.
func (g *GovInfo) Search(ctx context.Context, query, collection string, pageSize int) (Payload, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	q := query
	if collection != "" {
		q = fmt.Sprintf("collection:(%s) AND %s", collection, query)
	}
	body, err := json.Marshal(map[string]any{
		"query":      q,
		"pageSize":   pageSize,
		"offsetMark": "*",
		"sorts": []map[string]string{
			{"field": "score", "sortOrder": "DESC"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build govinfo.gov search: %w", err)
	}

	u := g.c.baseURL + "/search"
	if g.c.apiKey != "" {
		u += "?api_key=" + url.QueryEscape(g.c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build govinfo.gov request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("govinfo.gov request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Service: "govinfo.gov", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out Payload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode govinfo.gov response: %w", err)
	}
	return out, nil
}

// GetPackageSummary fetches the summary record for one package.
func (g *GovInfo) GetPackageSummary(ctx context.Context, packageID string) (Payload, error) {
	var out Payload
	path := "/packages/" + url.PathEscape(packageID) + "/summary"
	if err := g.c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPublicLaw fetches a public law summary by congress and law number
// (package IDs follow the PLAW-{congress}publ{number} convention).
func (g *GovInfo) GetPublicLaw(ctx context.Context, congress, lawNumber int) (Payload, error) {
	id := fmt.Sprintf("PLAW-%dpubl%d", congress, lawNumber)
	return g.GetPackageSummary(ctx, id)
}

// ListPublished lists packages from a collection published in a date range
// (dates are YYYY-MM-DD). Used for the congressional record and federal
// register tools.
func (g *GovInfo) ListPublished(ctx context.Context, collection, startDate, endDate string, pageSize int) (Payload, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("collection", collection)
	params.Set("offsetMark", "*")

	path := "/published/" + url.PathEscape(startDate)
	if endDate != "" {
		path += "/" + url.PathEscape(endDate)
	}
	var out Payload
	if err := g.c.get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
