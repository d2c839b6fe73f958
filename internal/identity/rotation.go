package identity

import (
	"crypto/ed25519"
	"time"
)

// RotationReason is why a key was rotated.
type RotationReason string

const (
	ReasonScheduled  RotationReason = "scheduled"
	ReasonCompromise RotationReason = "compromise"
	ReasonUpgrade    RotationReason = "upgrade"
)

// KeyRotation is a signed record of a node replacing its signing and
// key-agreement keys. Signed by the old signing key.
type KeyRotation struct {
	V             int            `json:"v"`
	OldSignPub    []byte         `json:"oldSignPub"`
	NewSignPub    []byte         `json:"newSignPub"`
	NewKxPub      []byte         `json:"newKxPub"`
	Reason        RotationReason `json:"reason"`
	EffectiveAt   time.Time      `json:"effectiveAt"`
	GracePeriodMs int64          `json:"gracePeriodMs"`
	Sig           []byte         `json:"sig"`
}

func (r *KeyRotation) unsigned() any {
	cp := *r
	cp.Sig = nil
	return cp
}

// VerifyRotation validates r.Sig against r.OldSignPub.
func VerifyRotation(r *KeyRotation) bool {
	if len(r.OldSignPub) != ed25519.PublicKeySize {
		return false
	}
	return Verify(r, r.Sig, ed25519.PublicKey(r.OldSignPub))
}

// InGrace reports whether now is still within the rotation's grace
// window: now < effectiveAt + gracePeriodMs.
func (r *KeyRotation) InGrace(now time.Time) bool {
	validUntil := r.EffectiveAt.Add(time.Duration(r.GracePeriodMs) * time.Millisecond)
	return now.Before(validUntil)
}

// ValidUntil returns effectiveAt + gracePeriodMs, the instant the old
// key stops being authorized.
func (r *KeyRotation) ValidUntil() time.Time {
	return r.EffectiveAt.Add(time.Duration(r.GracePeriodMs) * time.Millisecond)
}
