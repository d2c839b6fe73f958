package identity

import (
	"bytes"
	"testing"
	"time"
)

func TestEncryptDecryptBijection(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	cases := [][]byte{
		[]byte(""),
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1024),
	}
	for _, plaintext := range cases {
		ct, err := Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		pt, err := Decrypt(ct, key)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
		}
	}
}

func TestDecryptRejectsCorruption(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	ct, _ := Encrypt([]byte("secret"), key)
	ct[len(ct)-1] ^= 0xFF

	if _, err := Decrypt(ct, key); err == nil {
		t.Fatal("expected corrupted ciphertext to fail decryption")
	}
}

func TestDeriveSharedAgreement(t *testing.T) {
	a, err := NewEphemeralPair(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NewEphemeralPair: %v", err)
	}
	b, err := NewEphemeralPair(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NewEphemeralPair: %v", err)
	}

	sharedA, err := DeriveShared(a.KxPriv, b.KxPub)
	if err != nil {
		t.Fatalf("DeriveShared(a,b): %v", err)
	}
	sharedB, err := DeriveShared(b.KxPriv, a.KxPub)
	if err != nil {
		t.Fatalf("DeriveShared(b,a): %v", err)
	}

	if !bytes.Equal(sharedA, sharedB) {
		t.Fatal("expected both sides to derive the same shared secret")
	}
	if len(sharedA) != 32 {
		t.Fatalf("expected 32-byte shared key, got %d", len(sharedA))
	}
}
