package security

import (
	"testing"
	"time"
)

func TestSignAndParseOpsToken(t *testing.T) {
	mgr := NewJWTManager("ea-license-service", "ea-license-ops", "test-secret")

	raw, err := mgr.SignOpsToken("ops@example.com", []string{"licenses:read"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := mgr.ParseOpsToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "ops@example.com" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if !claims.HasScope("licenses:read") {
		t.Fatal("expected licenses:read scope")
	}
	if claims.HasScope("licenses:write") {
		t.Fatal("unexpected scope")
	}
}

func TestParseOpsTokenRejectsWrongSecret(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", "secret-a")
	other := NewJWTManager("iss", "aud", "secret-b")

	raw, err := mgr.SignOpsToken("ops", nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := other.ParseOpsToken(raw); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestParseOpsTokenRejectsExpired(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", "secret")
	raw, err := mgr.SignOpsToken("ops", nil, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := mgr.ParseOpsToken(raw); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestSignOpsTokenRequiresSecret(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", "")
	if _, err := mgr.SignOpsToken("ops", nil, time.Minute); err == nil {
		t.Fatal("expected error without secret")
	}
}
