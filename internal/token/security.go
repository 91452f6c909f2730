package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-secure-stdlib/base62"
)

const (
	// SecretPrefix is the fixed recognizable prefix of every issued secret.
	// It allows cheap format pre-validation and lets secret-scanning tools
	// recognize leaked credentials.
	SecretPrefix = "enact_"

	// SecretBodyLength is the length of the random alphanumeric segment
	// following the prefix.
	SecretBodyLength = 32

	tokenIDBytes = 16
)

// Security provides the cryptographic primitives of the token subsystem:
// secret generation, HMAC hashing, format validation, and ID generation.
// It performs no I/O. The HMAC key must come from durable configuration;
// regenerating it per process invalidates every outstanding token.
type Security struct {
	key []byte
}

// NewSecurity creates a Security instance from the server-held secret key.
func NewSecurity(secretKey string) (*Security, error) {
	if secretKey == "" {
		return nil, errors.New("token secret key must not be empty")
	}
	return &Security{key: []byte(secretKey)}, nil
}

// GenerateSecret produces a new credential string: the fixed prefix followed
// by a CSPRNG-generated alphanumeric segment.
func (s *Security) GenerateSecret() (string, error) {
	body, err := base62.Random(SecretBodyLength)
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return SecretPrefix + body, nil
}

// HashSecret computes the hex-encoded HMAC-SHA256 digest of a raw secret
// under the server key. The digest is deterministic for a given key and
// secret, so it serves as the stored lookup value.
func (s *Security) HashSecret(raw string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyFormat reports whether raw has the shape of an issued secret:
// correct prefix, correct length, alphanumeric body. It rejects garbage
// cheaply before any store round-trip.
func (s *Security) VerifyFormat(raw string) bool {
	if !strings.HasPrefix(raw, SecretPrefix) {
		return false
	}
	body := raw[len(SecretPrefix):]
	if len(body) != SecretBodyLength {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return false
		}
	}
	return true
}

// ConstantTimeEquals compares two strings without short-circuiting, to
// prevent timing side-channels when comparing digests.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewTokenID generates a URL-safe token identifier with 16 bytes of entropy.
func NewTokenID() (string, error) {
	buf := make([]byte, tokenIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewUsageID generates a unique identifier for a usage event. UUID v7 keeps
// event IDs roughly time-ordered, which helps when eyeballing the audit
// table.
func NewUsageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
