package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/store"
	"github.com/enactai/enactmcp/internal/token"
)

func newTestSessionService(t *testing.T) (*SessionService, *token.Manager) {
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
	return NewSessionService(token.NewGate(mgr), "jwt-signing-key", time.Hour), mgr
}

func TestSessionLoginRoundTrip(t *testing.T) {
	svc, mgr := newTestSessionService(t)
	ctx := context.Background()

	tok, secret, err := mgr.CreateToken(ctx, token.CreateParams{Name: "ops", Tier: model.TierAdmin})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	jwtStr, ident, err := svc.Login(ctx, secret)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ident.TokenID != tok.ID {
		t.Errorf("identity = %q, want %q", ident.TokenID, tok.ID)
	}

	p, err := svc.ValidateJWT(jwtStr)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if p.TokenID != tok.ID || p.Tier != model.TierAdmin || p.Name != "ops" {
		t.Errorf("principal = %+v", p)
	}
}

func TestSessionLoginRequiresAdmin(t *testing.T) {
	svc, mgr := newTestSessionService(t)
	ctx := context.Background()

	_, secret, err := mgr.CreateToken(ctx, token.CreateParams{Name: "app", Tier: model.TierStandard})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, _, err := svc.Login(ctx, secret); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
}

func TestSessionLoginBadToken(t *testing.T) {
	svc, _ := newTestSessionService(t)
	if _, _, err := svc.Login(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestSessionDisabledWithoutSecret(t *testing.T) {
	_, mgr := newTestSessionService(t)
	svc := NewSessionService(token.NewGate(mgr), "", time.Hour)

	if _, _, err := svc.Login(context.Background(), "anything"); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("got %v, want ErrLoginDisabled", err)
	}
	if _, err := svc.ValidateJWT("anything"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("got %v, want ErrInvalidSession", err)
	}
}

func TestValidateJWTRejectsForgery(t *testing.T) {
	svc, mgr := newTestSessionService(t)
	other := NewSessionService(token.NewGate(mgr), "different-signing-key", time.Hour)
	ctx := context.Background()

	_, secret, err := mgr.CreateToken(ctx, token.CreateParams{Name: "ops", Tier: model.TierAdmin})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	jwtStr, _, err := other.Login(ctx, secret)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.ValidateJWT(jwtStr); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("JWT signed under another key must be rejected, got %v", err)
	}
}
