package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Now()
	token, err := SignHS256(map[string]any{"sub": "owner-1", "exp": now.Add(time.Hour).Unix()}, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	sub, err := Subject(claims, now)
	if err != nil || sub != "owner-1" {
		t.Fatalf("unexpected subject %q (%v)", sub, err)
	}

	if _, err := ParseAndVerifyHS256(token, []byte("other")); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	if _, err := ParseAndVerifyHS256("a.b", secret); !errors.Is(err, ErrTokenFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestSubjectRejectsExpiredAndAnonymous(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	if _, err := Subject(map[string]any{"sub": "x", "exp": float64(now.Unix() - 1)}, now); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := Subject(map[string]any{"sub": "x", "nbf": float64(now.Unix() + 60)}, now); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected not yet valid, got %v", err)
	}
	if _, err := Subject(map[string]any{}, now); !errors.Is(err, ErrMissingClaims) {
		t.Fatalf("expected missing subject, got %v", err)
	}
}

func TestRolesReadsBothClaimForms(t *testing.T) {
	got := Roles(map[string]any{"role": RoleOperator, "roles": []any{"auditor", 7, ""}})
	if len(got) != 2 || got[0] != RoleOperator || got[1] != "auditor" {
		t.Fatalf("unexpected roles %v", got)
	}
	if got := Roles(map[string]any{"sub": "x"}); len(got) != 0 {
		t.Fatalf("expected no roles, got %v", got)
	}
}
