// Package identity implements long-term node identity: key derivation,
// signing, key agreement, authenticated encryption, invite tokens, and
// key rotation.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/cloudflare/circl/dh/x25519"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const SeedSize = 32

// basePoint is the X25519 base point (the all-zero key with the first
// byte set to 9), used to derive a public key from a private scalar.
var basePoint = x25519.Key{9}

// GenerateSeed creates a new 32-byte random seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// SaveSeed writes a seed to file with 0600 permissions.
func SaveSeed(path string, seed []byte) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return os.WriteFile(path, seed, 0600)
}

// LoadSeed reads a seed from file.
func LoadSeed(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return seed, nil
}

// DerivedKeys holds all keys derived from a seed.
type DerivedKeys struct {
	Ed25519Priv ed25519.PrivateKey
	Ed25519Pub  ed25519.PublicKey
	KxPub       x25519.Key
	KxPriv      x25519.Key
	KxPubBytes  []byte
	Libp2pPriv  libp2pcrypto.PrivKey
	Libp2pPub   libp2pcrypto.PubKey
	PeerID      peer.ID
}

// DeriveKeys derives all cryptographic keys from a seed. Deterministic:
// the same seed always yields the same keys, which is what lets a
// node's PeerID and topic stay stable across restarts without
// persisting derived material separately.
func DeriveKeys(seed []byte) (*DerivedKeys, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}

	// Ed25519 for the long-term signing key.
	ed25519Priv := ed25519.NewKeyFromSeed(seed)
	ed25519Pub := ed25519Priv.Public().(ed25519.PublicKey)

	// X25519 for key agreement. The scalar is the seed itself (X25519
	// clamps internally); the public half is the scalar multiplied by
	// the curve's base point.
	var kxPriv x25519.Key
	copy(kxPriv[:], seed)
	var kxPub x25519.Key
	if !x25519.Shared(&kxPub, &kxPriv, &basePoint) {
		return nil, fmt.Errorf("derive kx pub: low-order point")
	}
	kxPubBytes := append([]byte(nil), kxPub[:]...)

	// libp2p Ed25519 for transport (converted from the std lib key so
	// the swarm's PeerID is deterministic in the same seed).
	libp2pPriv, libp2pPub, err := libp2pcrypto.KeyPairFromStdKey(&ed25519Priv)
	if err != nil {
		return nil, fmt.Errorf("derive libp2p key: %w", err)
	}

	peerID, err := peer.IDFromPublicKey(libp2pPub)
	if err != nil {
		return nil, fmt.Errorf("derive peer ID: %w", err)
	}

	return &DerivedKeys{
		Ed25519Priv: ed25519Priv,
		Ed25519Pub:  ed25519Pub,
		KxPub:       kxPub,
		KxPriv:      kxPriv,
		KxPubBytes:  kxPubBytes,
		Libp2pPriv:  libp2pPriv,
		Libp2pPub:   libp2pPub,
		PeerID:      peerID,
	}, nil
}

// ShortID is the 8-hex-char prefix of SHA-256(pub).
func ShortID(pub []byte) string {
	h := sha256.Sum256(pub)
	return fmt.Sprintf("%x", h[:4])
}

// TopicOf derives the 32-byte DHT rendezvous key for a signing public
// key: SHA-256(signPub).
func TopicOf(signPub []byte) [32]byte {
	return sha256.Sum256(signPub)
}
