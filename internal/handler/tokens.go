package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/server/middleware"
	"github.com/enactai/enactmcp/internal/service"
	"github.com/enactai/enactmcp/internal/token"
)

// TokenHandler serves the dashboard/admin JSON API: session login, token
// lifecycle management, and usage analytics.
type TokenHandler struct {
	mgr      *token.Manager
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewTokenHandler builds a TokenHandler.
func NewTokenHandler(mgr *token.Manager, sessions *service.SessionService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{mgr: mgr, sessions: sessions, logger: logger}
}

// actor names the principal performing an administrative action, for the
// revocation audit fields.
func actor(r *http.Request) string {
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		return p.Name
	}
	return "unknown"
}

// Login exchanges an admin access token for a dashboard session JWT.
// POST /api/v1/system/session  {"token": "enact_..."}
func (h *TokenHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "request body must be {\"token\": \"...\"}")
		return
	}

	jwtStr, ident, err := h.sessions.Login(r.Context(), body.Token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLoginDisabled):
			writeError(w, http.StatusNotImplemented, err.Error())
		case errors.Is(err, service.ErrNotAdmin):
			writeError(w, http.StatusForbidden, "admin tier required")
		default:
			writeError(w, http.StatusUnauthorized, "invalid token")
		}
		return
	}

	h.logger.Info("dashboard login", "token_id", ident.TokenID, "name", ident.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_token": jwtStr,
		"name":          ident.Name,
		"tier":          ident.Tier,
	})
}

// Overview returns the system-wide analytics summary.
// GET /api/v1/system/overview?hours=24
func (h *TokenHandler) Overview(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	a, err := h.mgr.Analytics(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListTokens returns token metadata, newest first.
// GET /api/v1/system/token?include_inactive=true
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.mgr.ListTokens(r.Context(), queryBool(r, "include_inactive"))
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens, "count": len(tokens)})
}

// CreateToken issues a new token. The raw secret appears in this response
// and nowhere else, ever again.
// POST /api/v1/system/token
func (h *TokenHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          string   `json:"name"`
		Description   string   `json:"description"`
		Tier          string   `json:"tier"`
		RateLimit     int      `json:"rate_limit"`
		AllowedTools  []string `json:"allowed_tools"`
		IPWhitelist   []string `json:"ip_whitelist"`
		ExpiresInDays *int     `json:"expires_in_days"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Tier == "" {
		body.Tier = string(model.TierStandard)
	}

	params := token.CreateParams{
		Name:         body.Name,
		Description:  body.Description,
		Tier:         model.Tier(body.Tier),
		RateLimit:    body.RateLimit,
		AllowedTools: body.AllowedTools,
		IPWhitelist:  body.IPWhitelist,
	}
	if body.ExpiresInDays != nil {
		d := time.Duration(*body.ExpiresInDays) * 24 * time.Hour
		params.ExpiresIn = &d
	}

	tok, secret, err := h.mgr.CreateToken(r.Context(), params)
	if err != nil {
		if errors.Is(err, token.ErrStorageUnavailable) || errors.Is(err, token.ErrDuplicateSecret) {
			writeGateError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("token created", "token_id", tok.ID, "name", tok.Name, "tier", tok.Tier, "by", actor(r))
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":  tok,
		"secret": secret,
		"note":   "store this secret now; it cannot be retrieved again",
	})
}

// GetToken returns one token with its trailing-24h usage statistics.
// GET /api/v1/system/token/{tokenID}
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tokenID")
	tok, err := h.mgr.GetToken(r.Context(), id)
	if err != nil {
		writeGateError(w, err)
		return
	}
	stats, err := h.mgr.UsageStats(r.Context(), tok.ID, 24*time.Hour)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "usage_24h": stats})
}

// TokenTimeline returns a token's raw usage events for the dashboard's
// activity timeline.
// GET /api/v1/system/token/{tokenID}/usage?hours=24
func (h *TokenHandler) TokenTimeline(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	events, err := h.mgr.UsageTimeline(r.Context(), chi.URLParam(r, "tokenID"), time.Duration(hours)*time.Hour)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// RevokeToken deactivates a token.
// DELETE /api/v1/system/token/{tokenID}?reason=...
func (h *TokenHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tokenID")
	reason := r.URL.Query().Get("reason")

	if err := h.mgr.RevokeToken(r.Context(), id, actor(r), reason); err != nil {
		writeGateError(w, err)
		return
	}
	h.logger.Info("token revoked", "token_id", id, "by", actor(r), "reason", reason)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// RotateToken atomically replaces a token's secret. The new secret appears
// in this response only.
// POST /api/v1/system/token/{tokenID}/rotate
func (h *TokenHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tokenID")

	replacement, secret, err := h.mgr.RotateToken(r.Context(), id, actor(r))
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			writeError(w, http.StatusConflict, "token is already revoked")
			return
		}
		writeGateError(w, err)
		return
	}

	h.logger.Info("token rotated", "old_id", id, "new_id", replacement.ID, "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  replacement,
		"secret": secret,
		"note":   "store this secret now; it cannot be retrieved again",
	})
}

// Cleanup revokes expired tokens and purges usage events past retention.
// POST /api/v1/system/cleanup
func (h *TokenHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	expired, purged, err := h.mgr.Cleanup(r.Context())
	if err != nil {
		writeGateError(w, err)
		return
	}
	h.logger.Info("cleanup ran", "expired_tokens", expired, "purged_events", purged, "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"expired_tokens": expired,
		"purged_events":  purged,
	})
}

// securityAlert flags a token that needs operator attention.
type securityAlert struct {
	TokenID  string  `json:"token_id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Detail   string  `json:"detail"`
	Severity string  `json:"severity"`
	Value    float64 `json:"value,omitempty"`
}

// Alerts scans active tokens for suspicious usage: sustained error rates
// and imminent expirations.
// GET /api/v1/system/alerts?hours=24
func (h *TokenHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	window := time.Duration(hours) * time.Hour

	tokens, err := h.mgr.ListTokens(r.Context(), false)
	if err != nil {
		writeGateError(w, err)
		return
	}

	alerts := []securityAlert{}
	now := time.Now()
	for _, tok := range tokens {
		stats, err := h.mgr.UsageStats(r.Context(), tok.ID, window)
		if err != nil {
			continue
		}
		if stats.TotalRequests >= 10 && stats.ErrorRate >= 0.5 {
			alerts = append(alerts, securityAlert{
				TokenID:  tok.ID,
				Name:     tok.Name,
				Kind:     "high_error_rate",
				Detail:   "more than half of this token's recent calls failed",
				Severity: "warning",
				Value:    stats.ErrorRate,
			})
		}
		if tok.ExpiresAt != nil {
			remaining := tok.ExpiresAt.Sub(now)
			if remaining > 0 && remaining < 72*time.Hour {
				alerts = append(alerts, securityAlert{
					TokenID:  tok.ID,
					Name:     tok.Name,
					Kind:     "expiring_soon",
					Detail:   "token expires in under 72 hours",
					Severity: "info",
					Value:    remaining.Hours(),
				})
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}
