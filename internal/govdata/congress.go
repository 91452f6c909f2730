package govdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Congress is a client for the Congress.gov v3 API.
type Congress struct {
	c *client
}

// NewCongress builds a Congress.gov client. baseURL defaults to the public
// endpoint when empty.
func NewCongress(baseURL, apiKey string, timeout time.Duration) *Congress {
	if baseURL == "" {
		baseURL = "https://api.congress.gov/v3"
	}
	return &Congress{c: newClient("congress.gov", baseURL, apiKey, "api_key", timeout)}
}

// Payload is a decoded upstream JSON document. The tool handlers render
// these; the client does not interpret them.
type Payload = map[string]any

// SearchBills queries bills, optionally scoped to one congress.
func (c *Congress) SearchBills(ctx context.Context, query string, congress, limit int) (Payload, error) {
	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/bill"
	if congress > 0 {
		path = fmt.Sprintf("/bill/%d", congress)
	}
	var out Payload
	if err := c.c.get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBill fetches one bill's detail record.
func (c *Congress) GetBill(ctx context.Context, congress int, billType string, number int) (Payload, error) {
	var out Payload
	path := fmt.Sprintf("/bill/%d/%s/%d", congress, billType, number)
	if err := c.c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMember fetches a member of Congress by bioguide ID.
func (c *Congress) GetMember(ctx context.Context, bioguideID string) (Payload, error) {
	var out Payload
	if err := c.c.get(ctx, "/member/"+url.PathEscape(bioguideID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCommittee fetches a committee by chamber and system code.
func (c *Congress) GetCommittee(ctx context.Context, chamber, code string) (Payload, error) {
	var out Payload
	path := fmt.Sprintf("/committee/%s/%s", url.PathEscape(chamber), url.PathEscape(code))
	if err := c.c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetVotes lists recorded house votes, newest first.
func (c *Congress) GetVotes(ctx context.Context, congress, limit int) (Payload, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/house-vote"
	if congress > 0 {
		path = fmt.Sprintf("/house-vote/%d", congress)
	}
	var out Payload
	if err := c.c.get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchAmendments queries amendments, optionally scoped to one congress.
func (c *Congress) SearchAmendments(ctx context.Context, query string, congress, limit int) (Payload, error) {
	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/amendment"
	if congress > 0 {
		path = fmt.Sprintf("/amendment/%d", congress)
	}
	var out Payload
	if err := c.c.get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCongress fetches the overview record for one congress (session dates,
// chamber composition).
func (c *Congress) GetCongress(ctx context.Context, congress int) (Payload, error) {
	var out Payload
	if err := c.c.get(ctx, fmt.Sprintf("/congress/%d", congress), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListBills returns a recent-bills listing used for legislative statistics.
func (c *Congress) ListBills(ctx context.Context, congress, offset, limit int) (Payload, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out Payload
	if err := c.c.get(ctx, fmt.Sprintf("/bill/%d", congress), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
