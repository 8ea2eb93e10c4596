package httpapi

import (
	"testing"
	"time"
)

func TestParseTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef")

	token, err := auth.sign("siti", "customer", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "siti" || actor.Role != "customer" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenExpired(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef")

	token, err := auth.sign("siti", "customer", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	issuer := NewAuthManager("issuer-secret-0123456789abcdef00")
	verifier := NewAuthManager("verifier-secret-0123456789abcdef")

	token, err := issuer.sign("siti", "customer", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestParseTokenGarbage(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef")

	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected malformed token to be rejected")
	}
}
