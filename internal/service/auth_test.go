package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTRoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret-key-for-jwt", "keygate")
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, "user_42", "admin@example.com", 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.Subject != "user_42" {
		t.Errorf("Subject: got %q, want %q", principal.Subject, "user_42")
	}
	if principal.Email != "admin@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "admin@example.com")
	}
}

func TestJWTExpired(t *testing.T) {
	auth := NewAuthService("test-secret-key-for-jwt", "keygate")
	ctx := context.Background()

	// Issue a token with negative TTL (already expired)
	token, err := auth.IssueJWT(ctx, "user_1", "test@test.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	_, err = auth.ValidateJWT(ctx, token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth := NewAuthService("test-secret-key-for-jwt", "keygate")

	_, err := auth.ValidateJWT(context.Background(), "garbage.token.here")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", "keygate")
	verifier := NewAuthService("secret-b", "keygate")
	ctx := context.Background()

	token, _ := issuer.IssueJWT(ctx, "user_1", "", time.Hour)
	if _, err := verifier.ValidateJWT(ctx, token); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestJWTWrongIssuer(t *testing.T) {
	ctx := context.Background()
	token, _ := NewAuthService("secret", "someone-else").IssueJWT(ctx, "user_1", "", time.Hour)

	if _, err := NewAuthService("secret", "keygate").ValidateJWT(ctx, token); err == nil {
		t.Fatal("expected error for foreign issuer")
	}
}

func TestJWTRejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "user_1",
		Issuer:    "keygate",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	auth := NewAuthService("secret", "keygate")
	if _, err := auth.ValidateJWT(context.Background(), token); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestJWTMissingSubject(t *testing.T) {
	auth := NewAuthService("secret", "keygate")
	token, _ := auth.IssueJWT(context.Background(), "", "a@b.c", time.Hour)

	if _, err := auth.ValidateJWT(context.Background(), token); err == nil {
		t.Fatal("expected token without subject to be rejected")
	}
}
