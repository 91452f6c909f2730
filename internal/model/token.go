package model

import (
	"slices"
	"time"
)

// Tier is the coarse capability class assigned to a token at creation.
// Tiers are strictly ordered: ReadOnly < Standard < Admin.
type Tier string

const (
	TierReadOnly Tier = "read_only"
	TierStandard Tier = "standard"
	TierAdmin    Tier = "admin"
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierReadOnly, TierStandard, TierAdmin:
		return true
	}
	return false
}

// AtLeast reports whether t grants at least the capability of other.
func (t Tier) AtLeast(other Tier) bool {
	return t.rank() >= other.rank()
}

func (t Tier) rank() int {
	switch t {
	case TierReadOnly:
		return 0
	case TierStandard:
		return 1
	case TierAdmin:
		return 2
	}
	return -1
}

// readOnlyTools is the fixed set of read-style tools a read_only token may
// call. Standard and admin tokens may call every data tool.
var readOnlyTools = []string{
	"search_bills",
	"get_bill",
	"get_member",
	"get_committee",
	"get_congress_overview",
	"get_legislative_process",
	"search_amendments",
}

// ReadOnlyTools returns a copy of the tool names available to read_only tokens.
func ReadOnlyTools() []string {
	return slices.Clone(readOnlyTools)
}

// TierAllowsTool reports whether a tier permits calling the named tool.
// Administrative operations (revoke, list-all, analytics) are gated
// separately by requiring TierAdmin; this covers the data-tool surface.
func TierAllowsTool(t Tier, tool string) bool {
	switch t {
	case TierAdmin, TierStandard:
		return true
	case TierReadOnly:
		return slices.Contains(readOnlyTools, tool)
	}
	return false
}

// DefaultRateLimit is the per-token request budget per rolling hour when no
// explicit limit is set at creation.
const DefaultRateLimit = 1000

// Token represents one issued API credential. The raw secret is never
// stored; only its HMAC-SHA256 digest is persisted.
type Token struct {
	ID            string     `json:"id" db:"id"`
	HashedSecret  string     `json:"-" db:"hashed_secret"`                       // HMAC digest, never expose
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	Tier          Tier       `json:"tier" db:"tier"`
	RateLimit     int        `json:"rate_limit" db:"rate_limit"`
	AllowedTools  StringList `json:"allowed_tools,omitempty" db:"allowed_tools"` // nil means all tools the tier allows
	IPWhitelist   StringList `json:"ip_whitelist,omitempty" db:"ip_whitelist"`   // nil means any address
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	UsageCount    int64      `json:"usage_count" db:"usage_count"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedBy     string     `json:"revoked_by,omitempty" db:"revoked_by"`
	RevokedReason string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
}

// Expired reports whether the token is past its expiry at the given instant.
// A token with no expiry never expires.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Identity is the resolved view of a token returned to callers after a
// successful authentication. It carries everything the dispatch loop needs
// without exposing the stored record.
type Identity struct {
	TokenID      string   `json:"token_id"`
	Name         string   `json:"name"`
	Tier         Tier     `json:"tier"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}
