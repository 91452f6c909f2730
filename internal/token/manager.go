package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/store"
)

// Store is the persistence surface the manager needs. *store.Store
// implements it; tests may substitute a failing store to exercise the
// fail-closed path.
type Store interface {
	InsertToken(ctx context.Context, tok *model.Token) error
	GetTokenByHash(ctx context.Context, digest string) (*model.Token, error)
	GetTokenByHashAny(ctx context.Context, digest string) (*model.Token, error)
	GetTokenByID(ctx context.Context, id string) (*model.Token, error)
	GetTokenByName(ctx context.Context, name string) (*model.Token, error)
	ListTokens(ctx context.Context, includeInactive bool) ([]model.Token, error)
	TouchToken(ctx context.Context, id string, when time.Time) error
	RevokeToken(ctx context.Context, id, by, reason string) error
	Rotate(ctx context.Context, oldID string, replacement *model.Token, by string) error
	RecordUsage(ctx context.Context, ev *model.UsageEvent) error
	ListUsageEvents(ctx context.Context, tokenID string, since time.Time) ([]model.UsageEvent, error)
	UsageStats(ctx context.Context, tokenID string, window time.Duration) (*model.UsageStats, error)
	Analytics(ctx context.Context, window time.Duration, topN int) (*model.Analytics, error)
	ExpireTokens(ctx context.Context, now time.Time) (int64, error)
	PurgeUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ManagerConfig tunes the manager's policy defaults.
type ManagerConfig struct {
	// RateWindow is the rolling window each token's rate_limit applies to.
	RateWindow time.Duration
	// UsageRetention is how long usage events are kept before cleanup
	// purges them.
	UsageRetention time.Duration
}

// DefaultManagerConfig returns the stock policy: 1000 requests per rolling
// hour (per token, overridable at creation) and 30 days of usage history.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RateWindow:     time.Hour,
		UsageRetention: 30 * 24 * time.Hour,
	}
}

// Manager is the single authorization decision point. It composes the
// security primitives, the rate limiter, the IP allow-list check, and the
// store into token issuance, validation, revocation, rotation, and
// analytics.
type Manager struct {
	store    Store
	security *Security
	limiter  *RateLimiter
	cfg      ManagerConfig
	logger   *slog.Logger

	now func() time.Time // overridable in tests
}

// NewManager wires a Manager from its collaborators.
func NewManager(st Store, sec *Security, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Hour
	}
	if cfg.UsageRetention <= 0 {
		cfg.UsageRetention = 30 * 24 * time.Hour
	}
	return &Manager{
		store:    st,
		security: sec,
		limiter:  NewRateLimiter(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateParams describes a token to issue.
type CreateParams struct {
	Name         string
	Description  string
	Tier         model.Tier
	RateLimit    int            // 0 means the default (1000/hour)
	AllowedTools []string       // nil means all tools the tier allows
	IPWhitelist  []string       // nil means any address
	ExpiresIn    *time.Duration // nil means never expires
}

// CreateToken generates a fresh secret, hashes it, and persists the record.
// The raw secret is returned exactly once and is never stored or
// retrievable again.
func (m *Manager) CreateToken(ctx context.Context, p CreateParams) (*model.Token, string, error) {
	if p.Name == "" {
		return nil, "", errors.New("token name is required")
	}
	if !p.Tier.Valid() {
		return nil, "", fmt.Errorf("unknown permission tier %q", p.Tier)
	}
	if p.RateLimit <= 0 {
		p.RateLimit = model.DefaultRateLimit
	}

	id, err := NewTokenID()
	if err != nil {
		return nil, "", err
	}
	secret, err := m.security.GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	now := m.now().UTC()
	tok := &model.Token{
		ID:           id,
		HashedSecret: m.security.HashSecret(secret),
		Name:         p.Name,
		Description:  p.Description,
		Tier:         p.Tier,
		RateLimit:    p.RateLimit,
		AllowedTools: p.AllowedTools,
		IPWhitelist:  p.IPWhitelist,
		CreatedAt:    now,
		IsActive:     true,
	}
	if p.ExpiresIn != nil {
		exp := now.Add(*p.ExpiresIn)
		tok.ExpiresAt = &exp
	}

	if err := m.store.InsertToken(ctx, tok); err != nil {
		if errors.Is(err, store.ErrDuplicateSecret) {
			return nil, "", ErrDuplicateSecret
		}
		m.logger.Error("token insert failed", "error", err)
		return nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tok, secret, nil
}

// Authenticate validates a raw credential and, if toolName or callerIP are
// non-empty, enforces tool and IP policy as well. The check order is fixed:
// format, existence, active state, expiry, tool permission, IP allow-list,
// rate limit. Cheap non-identity checks come first so a caller cannot
// distinguish a wrong secret from a policy rejection without first proving
// possession of a valid secret.
//
// On full success the token's usage counters are updated atomically and
// the resolved identity is returned.
func (m *Manager) Authenticate(ctx context.Context, rawSecret, toolName, callerIP string) (*model.Identity, error) {
	if !m.security.VerifyFormat(rawSecret) {
		return nil, ErrMalformed
	}

	digest := m.security.HashSecret(rawSecret)
	tok, err := m.store.GetTokenByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, m.classifyDeadSecret(ctx, digest)
		}
		m.logger.Error("token lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// GetTokenByHash only returns active rows, but the invariant is cheap
	// to restate here and guards against future store changes.
	if !tok.IsActive {
		return nil, ErrRevoked
	}
	if tok.Expired(m.now()) {
		return nil, ErrExpired
	}

	if toolName != "" {
		if !model.TierAllowsTool(tok.Tier, toolName) {
			return nil, fmt.Errorf("%w: tier %s may not call %s", ErrToolNotPermitted, tok.Tier, toolName)
		}
		if tok.AllowedTools != nil && !slices.Contains(tok.AllowedTools, toolName) {
			return nil, fmt.Errorf("%w: %s is not in the token's allowed tools", ErrToolNotPermitted, toolName)
		}
	}

	if callerIP != "" && !IPAllowed(callerIP, tok.IPWhitelist) {
		return nil, ErrIPNotWhitelisted
	}

	if !m.limiter.Allow(tok.ID, tok.RateLimit, m.cfg.RateWindow) {
		return nil, ErrRateLimited
	}

	if err := m.store.TouchToken(ctx, tok.ID, m.now()); err != nil {
		m.logger.Error("token touch failed", "token_id", tok.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return &model.Identity{
		TokenID:      tok.ID,
		Name:         tok.Name,
		Tier:         tok.Tier,
		AllowedTools: tok.AllowedTools,
	}, nil
}

// classifyDeadSecret distinguishes a revoked or expired secret from one
// that never existed, after the active-row lookup came up empty. The
// caller has already produced a well-formed secret whose digest once
// matched a row, so naming the reason reveals nothing exploitable and
// tells a legitimate client whether to rotate or to re-issue.
func (m *Manager) classifyDeadSecret(ctx context.Context, digest string) error {
	tok, err := m.store.GetTokenByHashAny(ctx, digest)
	if err != nil {
		return ErrInvalidCredential
	}
	if tok.Expired(m.now()) {
		return ErrExpired
	}
	return ErrRevoked
}

// Resolve finds a token by ID, falling back to name lookup. Administrative
// commands accept either.
func (m *Manager) Resolve(ctx context.Context, idOrName string) (*model.Token, error) {
	tok, err := m.store.GetTokenByID(ctx, idOrName)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tok, err = m.store.GetTokenByName(ctx, idOrName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tok, nil
}

// RevokeToken deactivates a token. Idempotent: revoking an already-revoked
// token succeeds quietly.
func (m *Manager) RevokeToken(ctx context.Context, idOrName, by, reason string) error {
	tok, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "manual revocation"
	}
	if err := m.store.RevokeToken(ctx, tok.ID, by, reason); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	m.limiter.Reset(tok.ID)
	return nil
}

// RotateToken atomically issues a replacement credential and revokes the
// original. The replacement inherits the original's name, tier, and policy
// fields. There is no instant at which both secrets are valid or both
// invalid.
func (m *Manager) RotateToken(ctx context.Context, idOrName, by string) (*model.Token, string, error) {
	old, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return nil, "", err
	}
	if !old.IsActive {
		return nil, "", ErrRevoked
	}

	id, err := NewTokenID()
	if err != nil {
		return nil, "", err
	}
	secret, err := m.security.GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	replacement := &model.Token{
		ID:           id,
		HashedSecret: m.security.HashSecret(secret),
		Name:         old.Name,
		Description:  old.Description,
		Tier:         old.Tier,
		RateLimit:    old.RateLimit,
		AllowedTools: old.AllowedTools,
		IPWhitelist:  old.IPWhitelist,
		ExpiresAt:    old.ExpiresAt,
		CreatedAt:    m.now().UTC(),
		IsActive:     true,
	}

	if err := m.store.Rotate(ctx, old.ID, replacement, by); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrRevoked
		}
		return nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	m.limiter.Reset(old.ID)
	return replacement, secret, nil
}

// RecordUsage appends a usage event for a completed tool call. Failures
// are logged and swallowed: telemetry problems must never block a tool
// call that already passed authentication.
func (m *Manager) RecordUsage(ctx context.Context, tokenID, toolName string, success bool, ip, userAgent string, duration time.Duration, errMsg string) {
	ev := &model.UsageEvent{
		ID:             NewUsageID(),
		TokenID:        tokenID,
		Timestamp:      m.now().UTC(),
		ToolName:       toolName,
		Success:        success,
		IPAddress:      ip,
		UserAgent:      userAgent,
		ResponseTimeMs: duration.Milliseconds(),
		ErrorMessage:   errMsg,
	}
	if err := m.store.RecordUsage(ctx, ev); err != nil {
		m.logger.Warn("usage record dropped", "token_id", tokenID, "tool", toolName, "error", err)
	}
}

// GetToken returns a token by ID or name for administrative display.
func (m *Manager) GetToken(ctx context.Context, idOrName string) (*model.Token, error) {
	return m.Resolve(ctx, idOrName)
}

// ListTokens returns token metadata newest-first.
func (m *Manager) ListTokens(ctx context.Context, includeInactive bool) ([]model.Token, error) {
	tokens, err := m.store.ListTokens(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tokens, nil
}

// UsageStats aggregates one token's usage over the trailing window.
func (m *Manager) UsageStats(ctx context.Context, idOrName string, window time.Duration) (*model.UsageStats, error) {
	tok, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	stats, err := m.store.UsageStats(ctx, tok.ID, window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return stats, nil
}

// UsageTimeline returns one token's raw usage events over the trailing
// window, oldest first.
func (m *Manager) UsageTimeline(ctx context.Context, idOrName string, window time.Duration) ([]model.UsageEvent, error) {
	tok, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	events, err := m.store.ListUsageEvents(ctx, tok.ID, m.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return events, nil
}

// Analytics returns the system-wide summary over the trailing window.
func (m *Manager) Analytics(ctx context.Context, window time.Duration) (*model.Analytics, error) {
	a, err := m.store.Analytics(ctx, window, 10)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return a, nil
}

// Cleanup revokes expired tokens still marked active and purges usage
// events past the retention window. Returns both counts.
func (m *Manager) Cleanup(ctx context.Context) (expired, purged int64, err error) {
	now := m.now()
	expired, err = m.store.ExpireTokens(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	purged, err = m.store.PurgeUsageBefore(ctx, now.Add(-m.cfg.UsageRetention))
	if err != nil {
		return expired, 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return expired, purged, nil
}
