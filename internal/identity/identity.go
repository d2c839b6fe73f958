package identity

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/cloudflare/circl/dh/x25519"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// GracePeriod is the fixed 24-hour window during which a rotated-away
// signing key remains authorized after rotation.
const GracePeriod = 24 * time.Hour

// Identity is the single long-term key set a node owns. Created once
// at first start and replaced atomically by Rotate; the private halves
// never leave the process.
type Identity struct {
	SignPub  ed25519.PublicKey
	SignPriv ed25519.PrivateKey
	KxPub      x25519.Key
	KxPriv     x25519.Key
	KxPubBytes []byte

	// Libp2pPriv/Libp2pPub/PeerID are the same Ed25519 signing key
	// recast into libp2p's key interfaces, so the swarm's PeerID is
	// deterministic in the node's seed rather than a separate identity.
	Libp2pPriv libp2pcrypto.PrivKey
	Libp2pPub  libp2pcrypto.PubKey
	PeerID     peer.ID

	Created time.Time

	RotatedFrom []byte // previous SignPub, if this identity is the result of a rotation
	RotatedAt   time.Time
}

// Init creates a new Identity from a fresh seed. Fails if an identity
// already exists at seedPath unless force is set — callers own the
// seed file lifecycle via identity.SaveSeed/LoadSeed.
func Init(seedPath string, force bool) (*Identity, []byte, error) {
	if !force {
		if _, err := LoadSeed(seedPath); err == nil {
			return nil, nil, fmt.Errorf("identity already exists at %s (use force to overwrite)", seedPath)
		}
	}

	seed, err := GenerateSeed()
	if err != nil {
		return nil, nil, err
	}
	id, err := fromSeed(seed)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveSeed(seedPath, seed); err != nil {
		return nil, nil, err
	}
	return id, seed, nil
}

func fromSeed(seed []byte) (*Identity, error) {
	keys, err := DeriveKeys(seed)
	if err != nil {
		return nil, err
	}
	return &Identity{
		SignPub:    keys.Ed25519Pub,
		SignPriv:   keys.Ed25519Priv,
		KxPub:      keys.KxPub,
		KxPriv:     keys.KxPriv,
		KxPubBytes: keys.KxPubBytes,
		Libp2pPriv: keys.Libp2pPriv,
		Libp2pPub:  keys.Libp2pPub,
		PeerID:     keys.PeerID,
		Created:    time.Now(),
	}, nil
}

// Load reconstructs an Identity from a previously-saved seed.
func Load(seedPath string) (*Identity, error) {
	seed, err := LoadSeed(seedPath)
	if err != nil {
		return nil, err
	}
	return fromSeed(seed)
}

// Rotate generates new signing and key-agreement pairs, signs a
// KeyRotation with the *old* signing key, and returns the new Identity,
// its raw seed (so the caller can persist it with SaveSeed the same way
// Init does), and the signed rotation record. The new identity keeps
// RotatedFrom set to the old SignPub so the invariant in spec.md §3
// holds for as long as the process runs.
func (id *Identity) Rotate(reason RotationReason) (*Identity, []byte, *KeyRotation, error) {
	newSeed, err := GenerateSeed()
	if err != nil {
		return nil, nil, nil, err
	}
	next, err := fromSeed(newSeed)
	if err != nil {
		return nil, nil, nil, err
	}

	now := time.Now()
	rot := &KeyRotation{
		V:             1,
		OldSignPub:    append([]byte(nil), id.SignPub...),
		NewSignPub:    append([]byte(nil), next.SignPub...),
		NewKxPub:      append([]byte(nil), next.KxPubBytes...),
		Reason:        reason,
		EffectiveAt:   now,
		GracePeriodMs: GracePeriod.Milliseconds(),
	}
	sig, err := Sign(rot, id.SignPriv)
	if err != nil {
		return nil, nil, nil, err
	}
	rot.Sig = sig

	next.RotatedFrom = append([]byte(nil), id.SignPub...)
	next.RotatedAt = now

	return next, newSeed, rot, nil
}

// ShortID returns this identity's 8-hex-char short id.
func (id *Identity) ShortID() string { return ShortID(id.SignPub) }

// Topic returns this identity's 32-byte DHT rendezvous key.
func (id *Identity) Topic() [32]byte { return TopicOf(id.SignPub) }

// Sign computes a signature over v's canonical payload using priv.
func Sign(v Signable, priv ed25519.PrivateKey) ([]byte, error) {
	payload, err := canonicalBytes(v)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, payload), nil
}

// Verify checks sig against v's canonical payload under signerPub. It
// never panics or returns an error to callers: any decode or signature
// failure simply yields false, per spec.md §4.A.
func Verify(v Signable, sig []byte, signerPub ed25519.PublicKey) bool {
	if len(signerPub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	payload, err := canonicalBytes(v)
	if err != nil {
		return false
	}
	defer func() { recover() }() // ed25519.Verify panics on malformed keys in some builds
	return ed25519.Verify(signerPub, payload, sig)
}
