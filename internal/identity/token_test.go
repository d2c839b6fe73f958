package identity

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	id, _, err := Init(filepath.Join(t.TempDir(), "seed.key"), false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return id
}

func TestTokenRoundTrip(t *testing.T) {
	iss := newTestIdentity(t)
	sub := newTestIdentity(t)

	uri, err := Issue(iss, sub.SignPub, []string{"s1"}, []string{"inject"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(uri, "wop1://") {
		t.Fatalf("expected wop1:// prefix, got %q", uri)
	}

	tok, err := Parse(uri)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if string(tok.Sub) != string(sub.SignPub) {
		t.Fatal("parsed sub mismatch")
	}
	if string(tok.Iss) != string(iss.SignPub) {
		t.Fatal("parsed iss mismatch")
	}
	if len(tok.Sessions) != 1 || tok.Sessions[0] != "s1" {
		t.Fatalf("unexpected sessions: %v", tok.Sessions)
	}
}

func TestTokenRejectsWrongPrefix(t *testing.T) {
	_, err := Parse("not-a-token://xyz")
	terr, ok := err.(*TokenError)
	if !ok || terr.Kind != TokenErrBadPrefix {
		t.Fatalf("expected TokenErrBadPrefix, got %v", err)
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	iss := newTestIdentity(t)
	sub := newTestIdentity(t)

	uri, err := Issue(iss, sub.SignPub, []string{"s1"}, nil, -time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = Parse(uri)
	terr, ok := err.(*TokenError)
	if !ok || terr.Kind != TokenErrExpired {
		t.Fatalf("expected TokenErrExpired, got %v", err)
	}
}

func TestTokenRejectsBadSignature(t *testing.T) {
	iss := newTestIdentity(t)
	sub := newTestIdentity(t)
	other := newTestIdentity(t)

	uri, err := Issue(iss, sub.SignPub, []string{"s1"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	tok, err := Parse(uri)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// Re-issue with a different issuer's claimed identity but the
	// original signature: forged iss should fail verification.
	tok.Iss = other.SignPub
	if Verify(tok, tok.Sig, other.SignPub) {
		t.Fatal("expected signature forged onto a different issuer to fail")
	}
}
