package govdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCongressGetBill(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		json.NewEncoder(w).Encode(map[string]any{
			"bill": map[string]any{"title": "An Act", "number": "1234"},
		})
	}))
	defer srv.Close()

	c := NewCongress(srv.URL, "test-key", time.Second)
	out, err := c.GetBill(context.Background(), 118, "hr", 1234)
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if gotPath != "/bill/118/hr/1234" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api_key = %q, want test-key", gotKey)
	}
	bill, ok := out["bill"].(map[string]any)
	if !ok || bill["title"] != "An Act" {
		t.Errorf("payload = %v", out)
	}
}

func TestCongressSearchBillsParams(t *testing.T) {
	var gotQuery, gotLimit, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"bills":[]}`))
	}))
	defer srv.Close()

	c := NewCongress(srv.URL, "", time.Second)
	if _, err := c.SearchBills(context.Background(), "climate", 118, 5); err != nil {
		t.Fatalf("SearchBills: %v", err)
	}
	if gotPath != "/bill/118" || gotQuery != "climate" || gotLimit != "5" {
		t.Errorf("path=%q query=%q limit=%q", gotPath, gotQuery, gotLimit)
	}
}

func TestCongressUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCongress(srv.URL, "", time.Second)
	_, err := c.GetMember(context.Background(), "A000360")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Service != "congress.gov" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestGovInfoSearchPostsQuery(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"count":1,"results":[{"title":"Public Law 118-5"}]}`))
	}))
	defer srv.Close()

	g := NewGovInfo(srv.URL, "k", time.Second)
	out, err := g.Search(context.Background(), "debt ceiling", "PLAW", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	q, _ := gotBody["query"].(string)
	if q != "collection:(PLAW) AND debt ceiling" {
		t.Errorf("query = %q", q)
	}
	if out["count"] != float64(1) {
		t.Errorf("payload = %v", out)
	}
}

func TestGovInfoGetPublicLawBuildsPackageID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"title":"A law"}`))
	}))
	defer srv.Close()

	g := NewGovInfo(srv.URL, "", time.Second)
	if _, err := g.GetPublicLaw(context.Background(), 118, 5); err != nil {
		t.Fatalf("GetPublicLaw: %v", err)
	}
	if gotPath != "/packages/PLAW-118publ5/summary" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestGovInfoListPublished(t *testing.T) {
	var gotPath, gotCollection string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCollection = r.URL.Query().Get("collection")
		w.Write([]byte(`{"packages":[]}`))
	}))
	defer srv.Close()

	g := NewGovInfo(srv.URL, "", time.Second)
	if _, err := g.ListPublished(context.Background(), "CREC", "2025-06-01", "2025-06-02", 5); err != nil {
		t.Fatalf("ListPublished: %v", err)
	}
	if gotPath != "/published/2025-06-01/2025-06-02" || gotCollection != "CREC" {
		t.Errorf("path=%q collection=%q", gotPath, gotCollection)
	}
}
