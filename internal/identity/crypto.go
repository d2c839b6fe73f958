package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/dh/x25519"
)

// ErrNoLegacyKey is returned when the static (non-ephemeral) decryption
// path is attempted but no peerKxPub is on record.
var ErrNoLegacyKey = errors.New("identity: no legacy key-agreement key on record")

// EphemeralPair is a short-lived key-agreement key created per outbound
// dial and per accepted inbound connection. Never persisted; lives for
// the duration of the connection or until its expiry, whichever is
// sooner.
type EphemeralPair struct {
	KxPub      x25519.Key
	KxPriv     x25519.Key
	KxPubBytes []byte
	Created    time.Time
	ExpiresAt  time.Time
}

// NewEphemeralPair generates a fresh X25519 key-agreement pair, valid
// until expiresAt.
func NewEphemeralPair(expiresAt time.Time) (*EphemeralPair, error) {
	var priv x25519.Key
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("ephemeral seed: %w", err)
	}
	var pub x25519.Key
	if !x25519.Shared(&pub, &priv, &basePoint) {
		return nil, fmt.Errorf("derive ephemeral pub: low-order point")
	}
	return &EphemeralPair{
		KxPub:      pub,
		KxPriv:     priv,
		KxPubBytes: append([]byte(nil), pub[:]...),
		Created:    time.Now(),
		ExpiresAt:  expiresAt,
	}, nil
}

// Expired reports whether the pair's lifetime has elapsed.
func (e *EphemeralPair) Expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// ParseKxPub decodes a wire-form X25519 public key.
func ParseKxPub(b []byte) (x25519.Key, error) {
	var k x25519.Key
	if len(b) != x25519.Size {
		return k, fmt.Errorf("parseKxPub: expected %d bytes, got %d", x25519.Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// DeriveShared computes the 32-byte symmetric key
// SHA-256(X25519(ourKxPriv, theirKxPub)) used to encrypt/decrypt a
// single message.
func DeriveShared(ourKxPriv, theirKxPub x25519.Key) ([]byte, error) {
	var shared x25519.Key
	if !x25519.Shared(&shared, &ourKxPriv, &theirKxPub) {
		return nil, fmt.Errorf("deriveShared: invalid or low-order point")
	}
	h := sha256.Sum256(shared[:])
	return h[:], nil
}

// Encrypt seals plaintext under key (32 bytes) with AES-256-GCM using a
// fresh random 12-byte IV. Wire form: iv(12) || tag(16) || ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encrypt: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("encrypt: iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil) // ciphertext || tag
	ctLen := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:ctLen], sealed[ctLen:]

	out := make([]byte, 0, len(iv)+len(tag)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt. Rejects anything shorter than the iv+tag
// overhead as corrupt ciphertext.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("decrypt: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	ivLen, tagLen := gcm.NonceSize(), gcm.Overhead()
	if len(blob) < ivLen+tagLen {
		return nil, fmt.Errorf("decrypt: corrupt ciphertext: too short")
	}
	iv := blob[:ivLen]
	tag := blob[ivLen : ivLen+tagLen]
	ciphertext := blob[ivLen+tagLen:]

	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: corrupt ciphertext: %w", err)
	}
	return plaintext, nil
}
