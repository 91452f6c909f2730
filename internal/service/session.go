package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/token"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrLoginDisabled  = errors.New("dashboard login is disabled (no jwt secret configured)")
	ErrNotAdmin       = errors.New("admin tier required")
	ErrInvalidToken   = errors.New("invalid token")
)

// SessionPrincipal is the identity carried by a dashboard session JWT.
type SessionPrincipal struct {
	TokenID string
	Name    string
	Tier    model.Tier
}

// SessionService exchanges admin access tokens for short-lived dashboard
// session JWTs, so the browser never has to hold the long-lived token.
type SessionService struct {
	gate      *token.Gate
	jwtSecret []byte
	ttl       time.Duration
}

// NewSessionService builds a SessionService. An empty jwtSecret disables
// login.
func NewSessionService(gate *token.Gate, jwtSecret string, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionService{
		gate:      gate,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
	}
}

// Login validates an admin access token and issues a session JWT for it.
func (s *SessionService) Login(ctx context.Context, rawToken string) (string, *model.Identity, error) {
	if len(s.jwtSecret) == 0 {
		return "", nil, ErrLoginDisabled
	}

	ident, err := s.gate.AuthenticateAdmin(ctx, rawToken, "")
	if err != nil {
		if errors.Is(err, token.ErrToolNotPermitted) {
			return "", nil, ErrNotAdmin
		}
		return "", nil, ErrInvalidToken
	}

	now := time.Now()
	claims := jwtClaims{
		TokenID: ident.TokenID,
		Name:    ident.Name,
		Tier:    string(ident.Tier),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "enactmcp",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, ident, nil
}

// ValidateJWT verifies a dashboard session JWT and returns its principal.
func (s *SessionService) ValidateJWT(tokenStr string) (*SessionPrincipal, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidSession
	}

	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}

	return &SessionPrincipal{
		TokenID: claims.TokenID,
		Name:    claims.Name,
		Tier:    model.Tier(claims.Tier),
	}, nil
}

type jwtClaims struct {
	TokenID string `json:"token_id"`
	Name    string `json:"name"`
	Tier    string `json:"tier"`
	jwt.RegisteredClaims
}
