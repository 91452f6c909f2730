package token

import (
	"strings"
	"testing"
)

func newTestSecurity(t *testing.T) *Security {
	t.Helper()
	sec, err := NewSecurity("test-secret-key-do-not-use")
	if err != nil {
		t.Fatalf("NewSecurity: %v", err)
	}
	return sec
}

func TestNewSecurityRequiresKey(t *testing.T) {
	if _, err := NewSecurity(""); err == nil {
		t.Fatal("expected error for empty secret key")
	}
}

func TestGenerateSecretFormat(t *testing.T) {
	sec := newTestSecurity(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := sec.GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret: %v", err)
		}
		if !strings.HasPrefix(s, SecretPrefix) {
			t.Fatalf("secret %q missing prefix %q", s, SecretPrefix)
		}
		if len(s) != len(SecretPrefix)+SecretBodyLength {
			t.Fatalf("secret length = %d, want %d", len(s), len(SecretPrefix)+SecretBodyLength)
		}
		if !sec.VerifyFormat(s) {
			t.Fatalf("generated secret %q fails its own format check", s)
		}
		if seen[s] {
			t.Fatalf("duplicate secret generated: %q", s)
		}
		seen[s] = true
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	sec := newTestSecurity(t)

	h1 := sec.HashSecret("enact_abc")
	h2 := sec.HashSecret("enact_abc")
	if h1 != h2 {
		t.Error("same secret under same key must hash identically")
	}
	if len(h1) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(h1))
	}

	other, _ := NewSecurity("a-different-key")
	if other.HashSecret("enact_abc") == h1 {
		t.Error("different keys must produce different digests")
	}
}

func TestVerifyFormat(t *testing.T) {
	sec := newTestSecurity(t)
	body := strings.Repeat("a", SecretBodyLength)

	cases := []struct {
		in   string
		want bool
	}{
		{SecretPrefix + body, true},
		{SecretPrefix + strings.Repeat("A1", SecretBodyLength/2), true},
		{"", false},
		{"garbage", false},
		{SecretPrefix + body[:SecretBodyLength-1], false},       // too short
		{SecretPrefix + body + "a", false},                      // too long
		{"wrong_" + body, false},                                // wrong prefix
		{SecretPrefix + body[:SecretBodyLength-1] + "!", false}, // bad alphabet
		{SecretPrefix + body[:SecretBodyLength-1] + " ", false}, // whitespace
	}
	for _, c := range cases {
		if got := sec.VerifyFormat(c.in); got != c.want {
			t.Errorf("VerifyFormat(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("abc", "abc") {
		t.Error("equal strings should compare true")
	}
	if ConstantTimeEquals("abc", "abd") {
		t.Error("unequal strings should compare false")
	}
	if ConstantTimeEquals("abc", "abcd") {
		t.Error("different lengths should compare false")
	}
}

func TestNewTokenID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewTokenID()
		if err != nil {
			t.Fatalf("NewTokenID: %v", err)
		}
		if id == "" {
			t.Fatal("empty token id")
		}
		if strings.ContainsAny(id, "+/=") {
			t.Errorf("token id %q is not URL-safe", id)
		}
		if seen[id] {
			t.Fatalf("duplicate token id: %q", id)
		}
		seen[id] = true
	}
}
