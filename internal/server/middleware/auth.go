package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/service"
	"github.com/enactai/enactmcp/internal/token"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Principal represents the authenticated identity making the request,
// resolved either from an access token or from a dashboard session JWT.
type Principal struct {
	TokenID string
	Name    string
	Tier    model.Tier
	Session bool // true when authenticated via session JWT
}

// Authenticate returns an HTTP middleware that validates the request's
// Authorization header. Two credential kinds are accepted:
//
//  1. An access token (Bearer enact_...), validated through the gate with
//     the caller's IP so per-token IP allow-lists apply.
//  2. A dashboard session JWT issued by the login endpoint.
//
// On success a Principal is attached to the request context. On failure a
// JSON error response with the gate's public message is returned.
func Authenticate(gate *token.Gate, sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := token.ExtractBearer(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide a Bearer access token or session token.")
				return
			}

			var principal *Principal
			if strings.HasPrefix(raw, token.SecretPrefix) {
				ident, err := gate.Authenticate(r.Context(), raw, "", clientIP(r))
				if err != nil {
					writeAuthError(w, token.HTTPStatus(err), token.PublicMessage(err))
					return
				}
				principal = &Principal{
					TokenID: ident.TokenID,
					Name:    ident.Name,
					Tier:    ident.Tier,
				}
			} else {
				p, err := sessions.ValidateJWT(raw)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "invalid or expired session")
					return
				}
				principal = &Principal{
					TokenID: p.TokenID,
					Name:    p.Name,
					Tier:    p.Tier,
					Session: true,
				}
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces the admin tier.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.Tier.AtLeast(model.TierAdmin) {
				writeAuthError(w, http.StatusForbidden, "admin tier required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// clientIP returns the request's remote address without the port. chi's
// RealIP middleware has already rewritten RemoteAddr from the forwarding
// headers when present.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && strings.Count(addr, ":") == 1 {
		return addr[:i]
	}
	if strings.HasPrefix(addr, "[") {
		if i := strings.LastIndex(addr, "]"); i > 0 {
			return addr[1:i]
		}
	}
	return addr
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with the handler
	// package.
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":` + strconv.Quote(message) + `}}`))
}
