package token

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/enactai/enactmcp/internal/model"
)

// Gate is the request-time entry point consumed by the MCP dispatch loop
// and the dashboard API. It accepts a raw credential extracted from a
// request and maps the manager's typed errors onto each collaborator's
// error convention.
type Gate struct {
	mgr *Manager
}

// NewGate wraps a Manager.
func NewGate(mgr *Manager) *Gate {
	return &Gate{mgr: mgr}
}

// Authenticate delegates to the manager. toolName and callerIP may be
// empty when the caller has nothing to enforce.
func (g *Gate) Authenticate(ctx context.Context, rawSecret, toolName, callerIP string) (*model.Identity, error) {
	return g.mgr.Authenticate(ctx, rawSecret, toolName, callerIP)
}

// AuthenticateAdmin authenticates and additionally requires the admin
// tier, the contract for the dashboard/admin surface. Insufficient tier
// maps to ErrToolNotPermitted so callers render it as a 403.
func (g *Gate) AuthenticateAdmin(ctx context.Context, rawSecret, callerIP string) (*model.Identity, error) {
	ident, err := g.Authenticate(ctx, rawSecret, "", callerIP)
	if err != nil {
		return nil, err
	}
	if !ident.Tier.AtLeast(model.TierAdmin) {
		return nil, ErrToolNotPermitted
	}
	return ident, nil
}

// ExtractBearer pulls the credential out of an Authorization header value.
// Returns false if the header is absent or not a bearer scheme.
func ExtractBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// HTTPStatus maps a gate error to its HTTP status code. Credential
// problems collapse to 401 so responses never reveal whether a lookup
// failed on format or on existence; policy rejections are 403; quota is
// 429; storage faults are 503.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformed),
		errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrRevoked),
		errors.Is(err, ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrToolNotPermitted),
		errors.Is(err, ErrIPNotWhitelisted):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-safe message for a gate error. All
// credential failures share one message; policy failures are
// distinguishable since the caller has already proved possession of a
// valid secret.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed),
		errors.Is(err, ErrInvalidCredential):
		return "invalid or unknown token"
	case errors.Is(err, ErrRevoked):
		return "token has been revoked"
	case errors.Is(err, ErrExpired):
		return "token has expired"
	case errors.Is(err, ErrToolNotPermitted):
		return "token does not permit this operation"
	case errors.Is(err, ErrIPNotWhitelisted):
		return "request address is not on the token's allow-list"
	case errors.Is(err, ErrRateLimited):
		return "rate limit exceeded"
	case errors.Is(err, ErrStorageUnavailable):
		return "authentication temporarily unavailable"
	default:
		return "authentication failed"
	}
}
