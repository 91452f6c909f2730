package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/service"
	"github.com/enactai/enactmcp/internal/store"
	"github.com/enactai/enactmcp/internal/token"
)

func newTestAuth(t *testing.T) (*token.Gate, *service.SessionService, *token.Manager) {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sec, err := token.NewSecurity("test-secret-key")
	if err != nil {
		t.Fatalf("NewSecurity: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := token.NewManager(st, sec, token.DefaultManagerConfig(), logger)
	gate := token.NewGate(mgr)
	return gate, service.NewSessionService(gate, "jwt-signing-key", time.Hour), mgr
}

func okHandler(t *testing.T, gotPrincipal **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotPrincipal = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateWithAccessToken(t *testing.T) {
	gate, sessions, mgr := newTestAuth(t)
	tok, secret, err := mgr.CreateToken(context.Background(), token.CreateParams{Name: "ops", Tier: model.TierAdmin})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	var principal *Principal
	h := Authenticate(gate, sessions)(okHandler(t, &principal))

	req := httptest.NewRequest("GET", "/api/v1/system/token", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if principal == nil || principal.TokenID != tok.ID || principal.Session {
		t.Errorf("principal = %+v", principal)
	}
}

func TestAuthenticateWithSessionJWT(t *testing.T) {
	gate, sessions, mgr := newTestAuth(t)
	ctx := context.Background()
	_, secret, err := mgr.CreateToken(ctx, token.CreateParams{Name: "ops", Tier: model.TierAdmin})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	jwtStr, _, err := sessions.Login(ctx, secret)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var principal *Principal
	h := Authenticate(gate, sessions)(okHandler(t, &principal))

	req := httptest.NewRequest("GET", "/api/v1/system/overview", nil)
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if principal == nil || !principal.Session || principal.Tier != model.TierAdmin {
		t.Errorf("principal = %+v", principal)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	gate, sessions, mgr := newTestAuth(t)
	ctx := context.Background()

	tok, secret, err := mgr.CreateToken(ctx, token.CreateParams{Name: "revoked", Tier: model.TierStandard})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := mgr.RevokeToken(ctx, tok.ID, "tester", ""); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	var principal *Principal
	h := Authenticate(gate, sessions)(okHandler(t, &principal))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic dXNlcg==", http.StatusUnauthorized},
		{"revoked token", "Bearer " + secret, http.StatusUnauthorized},
		{"garbage jwt", "Bearer eyJhbGciOi.garbage.sig", http.StatusUnauthorized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != c.want {
				t.Errorf("status = %d, want %d", rec.Code, c.want)
			}
		})
	}
}

func TestAuthenticateEnforcesIPWhitelist(t *testing.T) {
	gate, sessions, mgr := newTestAuth(t)
	_, secret, err := mgr.CreateToken(context.Background(), token.CreateParams{
		Name: "internal", Tier: model.TierAdmin, IPWhitelist: []string{"10.0.0.0/24"},
	})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	var principal *Principal
	h := Authenticate(gate, sessions)(okHandler(t, &principal))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.9:4444"
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("off-list IP: status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:4444"
	req.Header.Set("Authorization", "Bearer "+secret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("in-list IP: status = %d, want 200", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	var principal *Principal
	h := RequireAdmin()(okHandler(t, &principal))

	// No principal at all.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("unauthenticated: status = %d, want 403", rec.Code)
	}

	// Standard tier.
	req := httptest.NewRequest("GET", "/", nil)
	ctx := context.WithValue(req.Context(), AuthPrincipalKey, &Principal{Tier: model.TierStandard})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusForbidden {
		t.Errorf("standard tier: status = %d, want 403", rec.Code)
	}

	// Admin tier.
	req = httptest.NewRequest("GET", "/", nil)
	ctx = context.WithValue(req.Context(), AuthPrincipalKey, &Principal{Tier: model.TierAdmin})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("admin tier: status = %d, want 200", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if got == "" || rec.Header().Get("X-Request-ID") != got {
		t.Errorf("request id not propagated: ctx=%q header=%q", got, rec.Header().Get("X-Request-ID"))
	}

	// Well-formed client-provided IDs are preserved.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "client-id" {
		t.Errorf("client id not honored: %q", got)
	}

	// Junk IDs are replaced rather than echoed into headers and logs.
	for _, bad := range []string{"has space", "new\nline", strings.Repeat("x", 65)} {
		req = httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got == bad || got == "" {
			t.Errorf("malformed client id %q must be replaced, got %q", bad, got)
		}
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"10.0.0.5:1234":     "10.0.0.5",
		"10.0.0.5":          "10.0.0.5",
		"[2001:db8::1]:443": "2001:db8::1",
		"2001:db8::1":       "2001:db8::1",
	}
	for in, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = in
		if got := clientIP(r); got != want {
			t.Errorf("clientIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", last)
	}
}
