package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("ESUSU_JWT_SECRET", value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken("user-42", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "esusu" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if time.Until(claims.ExpiresAt.Time) <= 0 {
		t.Fatalf("expected future expiration, got %v", claims.ExpiresAt)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	withSecret(t, "test-secret")

	if _, err := GenerateToken("", time.Minute); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, err := GenerateToken("user-42", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken("user-42", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := ParseAndValidate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	withSecret(t, "")

	if _, err := GenerateToken("user-42", time.Minute); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestUserContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "  user-42  ")
	got, ok := UserIDFromContext(ctx)
	if !ok || got != "user-42" {
		t.Fatalf("UserIDFromContext = %q, %v", got, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context yielded a user")
	}
}
