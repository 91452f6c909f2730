package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enactai/enactmcp/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeToken(id, hash, name string) *model.Token {
	return &model.Token{
		ID:           id,
		HashedSecret: hash,
		Name:         name,
		Tier:         model.TierStandard,
		RateLimit:    model.DefaultRateLimit,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	}
}

func TestInsertAndGetToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := makeToken("tok1", "hash1", "ci")
	tok.AllowedTools = model.StringList{"get_bill", "search_bills"}
	tok.IPWhitelist = model.StringList{"10.0.0.0/24"}
	if err := s.InsertToken(ctx, tok); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	got, err := s.GetTokenByHash(ctx, "hash1")
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if got.ID != "tok1" || got.Name != "ci" {
		t.Errorf("got %q/%q, want tok1/ci", got.ID, got.Name)
	}
	if len(got.AllowedTools) != 2 || got.AllowedTools[0] != "get_bill" {
		t.Errorf("allowed_tools did not round-trip: %v", got.AllowedTools)
	}
	if len(got.IPWhitelist) != 1 {
		t.Errorf("ip_whitelist did not round-trip: %v", got.IPWhitelist)
	}

	byID, err := s.GetTokenByID(ctx, "tok1")
	if err != nil {
		t.Fatalf("GetTokenByID: %v", err)
	}
	if byID.HashedSecret != "hash1" {
		t.Errorf("hashed_secret = %q", byID.HashedSecret)
	}

	byName, err := s.GetTokenByName(ctx, "ci")
	if err != nil {
		t.Fatalf("GetTokenByName: %v", err)
	}
	if byName.ID != "tok1" {
		t.Errorf("lookup by name returned %q", byName.ID)
	}
}

func TestGetTokenNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetTokenByHash(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTokenByHash: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetTokenByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTokenByID: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetTokenByName(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTokenByName: got %v, want ErrNotFound", err)
	}
}

func TestInsertDuplicateHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "samehash", "a")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertToken(ctx, makeToken("tok2", "samehash", "b")); !errors.Is(err, ErrDuplicateSecret) {
		t.Errorf("got %v, want ErrDuplicateSecret", err)
	}
}

func TestNullableListsRoundTripAsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// nil lists mean "unrestricted" and must come back nil, not empty.
	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "open")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	got, err := s.GetTokenByID(ctx, "tok1")
	if err != nil {
		t.Fatalf("GetTokenByID: %v", err)
	}
	if got.AllowedTools != nil {
		t.Errorf("allowed_tools = %v, want nil", got.AllowedTools)
	}
	if got.IPWhitelist != nil {
		t.Errorf("ip_whitelist = %v, want nil", got.IPWhitelist)
	}
}

func TestGetTokenByHashIgnoresInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	if err := s.RevokeToken(ctx, "tok1", "tester", "done"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	if _, err := s.GetTokenByHash(ctx, "hash1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked token visible on hash lookup: %v", err)
	}
	// The unfiltered hash lookup still finds the dead row.
	dead, err := s.GetTokenByHashAny(ctx, "hash1")
	if err != nil {
		t.Fatalf("GetTokenByHashAny: %v", err)
	}
	if dead.IsActive {
		t.Error("dead row should be inactive")
	}
	if _, err := s.GetTokenByHashAny(ctx, "never-issued"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTokenByHashAny unknown: got %v, want ErrNotFound", err)
	}
	// Administrative lookup still sees it.
	got, err := s.GetTokenByID(ctx, "tok1")
	if err != nil {
		t.Fatalf("GetTokenByID: %v", err)
	}
	if got.IsActive {
		t.Error("token should be inactive")
	}
	if got.RevokedBy != "tester" || got.RevokedReason != "done" {
		t.Errorf("revocation metadata = %q/%q", got.RevokedBy, got.RevokedReason)
	}
	if got.RevokedAt == nil {
		t.Error("revoked_at should be set")
	}
}

func TestRevokeIdempotentAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	if err := s.RevokeToken(ctx, "tok1", "a", "first"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := s.RevokeToken(ctx, "tok1", "b", "second"); err != nil {
		t.Errorf("second revoke should be a no-op success, got %v", err)
	}

	// The first revocation's metadata wins.
	got, _ := s.GetTokenByID(ctx, "tok1")
	if got.RevokedReason != "first" {
		t.Errorf("revoked_reason = %q, want first", got.RevokedReason)
	}

	if err := s.RevokeToken(ctx, "ghost", "a", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoking unknown id: got %v, want ErrNotFound", err)
	}
}

func TestListTokensOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		tok := makeToken(id, "hash-"+id, id)
		tok.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.InsertToken(ctx, tok); err != nil {
			t.Fatalf("InsertToken %s: %v", id, err)
		}
	}
	if err := s.RevokeToken(ctx, "mid", "tester", ""); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	active, err := s.ListTokens(ctx, false)
	if err != nil {
		t.Fatalf("ListTokens(active): %v", err)
	}
	if len(active) != 2 || active[0].ID != "new" || active[1].ID != "old" {
		t.Errorf("active list = %v, want [new old]", ids(active))
	}

	all, err := s.ListTokens(ctx, true)
	if err != nil {
		t.Fatalf("ListTokens(all): %v", err)
	}
	if len(all) != 3 || all[0].ID != "new" {
		t.Errorf("full list = %v, want newest-first with 3 entries", ids(all))
	}
}

func ids(tokens []model.Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.ID
	}
	return out
}

func TestTouchToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	when := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		if err := s.TouchToken(ctx, "tok1", when); err != nil {
			t.Fatalf("TouchToken: %v", err)
		}
	}

	got, _ := s.GetTokenByID(ctx, "tok1")
	if got.UsageCount != 3 {
		t.Errorf("usage_count = %d, want 3", got.UsageCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(when) {
		t.Errorf("last_used_at = %v, want %v", got.LastUsedAt, when)
	}

	if err := s.TouchToken(ctx, "ghost", when); !errors.Is(err, ErrNotFound) {
		t.Errorf("touching unknown id: got %v, want ErrNotFound", err)
	}
}

func TestRotate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("old", "oldhash", "svc")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	if err := s.Rotate(ctx, "old", makeToken("new", "newhash", "svc"), "tester"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if _, err := s.GetTokenByHash(ctx, "newhash"); err != nil {
		t.Errorf("replacement should be active: %v", err)
	}
	if _, err := s.GetTokenByHash(ctx, "oldhash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("original should be inactive, got %v", err)
	}
	oldTok, _ := s.GetTokenByID(ctx, "old")
	if oldTok.RevokedReason != "rotated to new" {
		t.Errorf("revoked_reason = %q", oldTok.RevokedReason)
	}
}

func TestRotateInactiveRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := makeToken("old", "oldhash", "svc")
	tok.IsActive = false
	if err := s.InsertToken(ctx, tok); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	err := s.Rotate(ctx, "old", makeToken("new", "newhash", "svc"), "tester")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rotate of inactive token: got %v, want ErrNotFound", err)
	}
	// The transaction must have rolled the replacement insert back too.
	if _, err := s.GetTokenByID(ctx, "new"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replacement leaked outside the transaction: %v", err)
	}
}

func TestUsageStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	now := time.Now().UTC()
	record := func(tool string, success bool, ms int64, at time.Time) {
		t.Helper()
		err := s.RecordUsage(ctx, &model.UsageEvent{
			ID: "ev-" + tool + at.Format("150405.000000000"), TokenID: "tok1",
			Timestamp: at, ToolName: tool, Success: success, ResponseTimeMs: ms,
		})
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	record("search_bills", true, 10, now.Add(-time.Minute))
	record("search_bills", true, 20, now.Add(-2*time.Minute))
	record("get_bill", false, 30, now.Add(-3*time.Minute))
	// Outside the window; must not count.
	record("get_bill", true, 40, now.Add(-48*time.Hour))

	stats, err := s.UsageStats(ctx, "tok1", 24*time.Hour)
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if stats.TotalRequests != 3 || stats.SuccessRequests != 2 {
		t.Errorf("totals = %d/%d, want 3/2", stats.TotalRequests, stats.SuccessRequests)
	}
	wantRate := 1.0 / 3.0
	if diff := stats.ErrorRate - wantRate; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("error_rate = %v, want %v", stats.ErrorRate, wantRate)
	}
	if stats.AvgResponseMs != 20 {
		t.Errorf("avg_response_ms = %v, want 20", stats.AvgResponseMs)
	}
	if len(stats.ToolBreakdown) != 2 || stats.ToolBreakdown[0].ToolName != "search_bills" {
		t.Errorf("breakdown = %+v", stats.ToolBreakdown)
	}
}

func TestUsageStatsEmptyWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	stats, err := s.UsageStats(ctx, "tok1", time.Hour)
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if stats.TotalRequests != 0 || stats.ErrorRate != 0 || stats.AvgResponseMs != 0 {
		t.Errorf("empty window stats = %+v, want all zeros", stats)
	}
}

func TestListUsageEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	now := time.Now().UTC()
	for i, tool := range []string{"a", "b", "c"} {
		err := s.RecordUsage(ctx, &model.UsageEvent{
			ID: tool, TokenID: "tok1", ToolName: tool, Success: true,
			Timestamp: now.Add(time.Duration(i-3) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	events, err := s.ListUsageEvents(ctx, "tok1", now.Add(-150*time.Second))
	if err != nil {
		t.Fatalf("ListUsageEvents: %v", err)
	}
	if len(events) != 2 || events[0].ToolName != "b" || events[1].ToolName != "c" {
		t.Errorf("events = %+v, want [b c] oldest-first", events)
	}
}

func TestExpireTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	stale := makeToken("stale", "h1", "stale")
	stale.ExpiresAt = &past
	fresh := makeToken("fresh", "h2", "fresh")
	fresh.ExpiresAt = &future
	forever := makeToken("forever", "h3", "forever")
	for _, tok := range []*model.Token{stale, fresh, forever} {
		if err := s.InsertToken(ctx, tok); err != nil {
			t.Fatalf("InsertToken: %v", err)
		}
	}

	n, err := s.ExpireTokens(ctx, now)
	if err != nil {
		t.Fatalf("ExpireTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d tokens, want 1", n)
	}
	got, _ := s.GetTokenByID(ctx, "stale")
	if got.IsActive || got.RevokedBy != "system" || got.RevokedReason != "expired" {
		t.Errorf("stale token = active=%v by=%q reason=%q", got.IsActive, got.RevokedBy, got.RevokedReason)
	}
	for _, id := range []string{"fresh", "forever"} {
		got, _ := s.GetTokenByID(ctx, id)
		if !got.IsActive {
			t.Errorf("token %s should survive the sweep", id)
		}
	}
}

func TestPurgeUsageBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("tok1", "hash1", "ci")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	now := time.Now().UTC()
	for i, id := range []string{"ancient", "recent"} {
		err := s.RecordUsage(ctx, &model.UsageEvent{
			ID: id, TokenID: "tok1", ToolName: "get_bill", Success: true,
			Timestamp: now.Add(time.Duration(i*40-40) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	n, err := s.PurgeUsageBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeUsageBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d events, want 1", n)
	}
	events, err := s.ListUsageEvents(ctx, "tok1", now.Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("ListUsageEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "recent" {
		t.Errorf("surviving events = %+v, want only the recent one", events)
	}
}

func TestAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertToken(ctx, makeToken("busy", "h1", "busy")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	if err := s.InsertToken(ctx, makeToken("idle", "h2", "idle")); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	if err := s.RevokeToken(ctx, "idle", "tester", ""); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		err := s.RecordUsage(ctx, &model.UsageEvent{
			ID: eventID(i), TokenID: "busy", ToolName: "get_bill",
			Success: i != 0, Timestamp: now.Add(-time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	a, err := s.Analytics(ctx, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.TotalTokens != 2 || a.ActiveTokens != 1 {
		t.Errorf("token counts = %d/%d, want 2/1", a.TotalTokens, a.ActiveTokens)
	}
	if a.TotalRequests != 4 {
		t.Errorf("total_requests = %d, want 4", a.TotalRequests)
	}
	if a.ErrorRate != 0.25 {
		t.Errorf("error_rate = %v, want 0.25", a.ErrorRate)
	}
	if len(a.MostActive) != 1 || a.MostActive[0].TokenID != "busy" || a.MostActive[0].Requests != 4 {
		t.Errorf("most_active = %+v", a.MostActive)
	}
}

func eventID(i int) string {
	return "ev-" + string(rune('a'+i))
}
