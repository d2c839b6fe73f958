package identity

import (
	"path/filepath"
	"testing"
	"time"
)

func TestInitAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.key")

	id, _, err := Init(path, false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if _, _, err := Init(path, false); err == nil {
		t.Fatal("expected Init to fail on existing identity without force")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(reloaded.SignPub) != string(id.SignPub) {
		t.Fatal("reloaded identity does not match original")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, _, err := Init(filepath.Join(t.TempDir(), "seed.key"), false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	tok := &InviteToken{V: 1, Iss: id.SignPub, Sub: id.SignPub, Sessions: []string{"s1"}, Exp: time.Now().Add(time.Hour).UnixMilli()}
	sig, err := Sign(tok, id.SignPriv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	tok.Sig = sig

	if !Verify(tok, tok.Sig, id.SignPub) {
		t.Fatal("expected valid signature to verify")
	}

	tok.Sessions = []string{"tampered"}
	if Verify(tok, tok.Sig, id.SignPub) {
		t.Fatal("expected tampered payload to fail verification")
	}
}

func TestRotate(t *testing.T) {
	id, _, err := Init(filepath.Join(t.TempDir(), "seed.key"), false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	next, _, rot, err := id.Rotate(ReasonScheduled)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if string(next.RotatedFrom) != string(id.SignPub) {
		t.Fatal("new identity should record RotatedFrom = old SignPub")
	}
	if string(rot.NewSignPub) != string(next.SignPub) {
		t.Fatal("rotation record newSignPub mismatch")
	}
	if !VerifyRotation(rot) {
		t.Fatal("rotation record should verify under old signing key")
	}
	if !rot.InGrace(time.Now()) {
		t.Fatal("freshly issued rotation should be in grace")
	}
	if rot.GracePeriodMs != GracePeriod.Milliseconds() {
		t.Fatalf("expected fixed 24h grace period, got %dms", rot.GracePeriodMs)
	}
}

func TestShortIDDeterministicAndFormat(t *testing.T) {
	id, _, err := Init(filepath.Join(t.TempDir(), "seed.key"), false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	a := id.ShortID()
	b := ShortID(id.SignPub)
	if a != b {
		t.Fatal("ShortID should be deterministic")
	}
	if len(a) != 8 {
		t.Fatalf("expected 8 hex chars, got %d (%s)", len(a), a)
	}
}
