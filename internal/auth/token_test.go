package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenSignVerify(t *testing.T) {
	signer, err := NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	id := Identity{Email: "amy@example.com", Name: "Amy", Role: RoleManager, Dept: "North"}
	token, err := signer.Sign(id, 15*time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Email != id.Email || got.Name != id.Name || got.Role != id.Role || got.Dept != id.Dept {
		t.Fatalf("Verify identity = %+v, want %+v", got, id)
	}
}

func TestTokenExpired(t *testing.T) {
	signer, err := NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return now }

	token, err := signer.Sign(Identity{Email: "amy@example.com"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify expired = %v, want ErrInvalidToken", err)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret")
	other, _ := NewTokenSigner("other-secret")

	token, err := signer.Sign(Identity{Email: "amy@example.com"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	cases := []struct {
		name  string
		token string
		by    *TokenSigner
	}{
		{"wrong secret", token, other},
		{"mangled payload", strings.Replace(token, ".", ".x", 1), signer},
		{"empty", "", signer},
		{"garbage", "not-a-token", signer},
	}
	for _, tc := range cases {
		if _, err := tc.by.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: Verify = %v, want ErrInvalidToken", tc.name, err)
		}
	}
}

func TestTokenSignValidation(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret")
	if _, err := signer.Sign(Identity{}, 15*time.Minute); err == nil {
		t.Fatalf("Sign without email must fail")
	}
	if _, err := signer.Sign(Identity{Email: "amy@example.com"}, 0); err == nil {
		t.Fatalf("Sign with zero ttl must fail")
	}
	if _, err := NewTokenSigner("  "); err == nil {
		t.Fatalf("NewTokenSigner with blank secret must fail")
	}
}
