package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, expires, err := issuer.Issue(Identity{Role: RoleClinic, Subject: "c-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expected future expiry")
	}
	identity, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !identity.IsClinic() || identity.Subject != "c-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, _, err := issuer.Issue(Identity{Role: RolePatient, Subject: "p-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other := NewIssuer("other", time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign signature to fail, got %v", err)
	}
}

func TestChannelTokenBoundToSocketAndChannel(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	identity := Identity{Role: RoleClinic, Subject: "c-1"}
	token, err := issuer.IssueChannel(identity, "sock-1", "presence-clinic-c-1")
	if err != nil {
		t.Fatalf("issue channel: %v", err)
	}
	if err := issuer.VerifyChannel(token, "sock-1", "presence-clinic-c-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := issuer.VerifyChannel(token, "sock-2", "presence-clinic-c-1"); err == nil {
		t.Fatalf("expected socket mismatch to fail")
	}
	if err := issuer.VerifyChannel(token, "sock-1", "presence-clinic-c-2"); err == nil {
		t.Fatalf("expected channel mismatch to fail")
	}
	if _, err := issuer.Parse(token); err == nil {
		t.Fatalf("expected channel token to be rejected as access token")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret!") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
}
