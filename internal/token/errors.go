package token

import "errors"

// Authentication and authorization failures are expected, recoverable
// conditions returned as typed errors, never panics. Callers match with
// errors.Is. ErrStorageUnavailable is the only one that indicates an
// operational fault rather than a policy rejection; validation fails
// closed when it occurs.
var (
	ErrMalformed          = errors.New("malformed token")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrRevoked            = errors.New("token revoked")
	ErrExpired            = errors.New("token expired")
	ErrToolNotPermitted   = errors.New("tool not permitted")
	ErrIPNotWhitelisted   = errors.New("ip address not whitelisted")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrStorageUnavailable = errors.New("token storage unavailable")
	ErrDuplicateSecret    = errors.New("duplicate token secret")
)
