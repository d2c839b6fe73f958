// Package wire implements the line-delimited JSON envelope, the
// version-negotiated handshake, and the listener/dialer state machines
// described in spec.md §4.D.
package wire

import (
	"github.com/wopr-network/wopr-core/internal/identity"
)

// Type is the envelope's message kind.
type Type string

const (
	TypeHello       Type = "hello"
	TypeHelloAck    Type = "hello-ack"
	TypeClaim       Type = "claim"
	TypeLog         Type = "log"
	TypeInject      Type = "inject"
	TypeResponse    Type = "response"
	TypeAck         Type = "ack"
	TypeReject      Type = "reject"
	TypeKeyRotation Type = "key-rotation"
)

const (
	// ProtocolVersion is the highest version this node speaks.
	ProtocolVersion = 2
	// MinProtocolVersion is the lowest version this node will accept.
	MinProtocolVersion = 1

	// MaxPayloadBytes bounds the base64 payload field.
	MaxPayloadBytes = 1 << 20 // 1 MiB
	// EnvelopeOverheadBytes bounds everything else in the line.
	EnvelopeOverheadBytes = 4 << 10 // 4 KiB
	// MaxLineBytes is the hard cap checked before any parsing happens.
	MaxLineBytes = MaxPayloadBytes + EnvelopeOverheadBytes
)

// Envelope is the wire form of every message, JSON-encoded and
// newline-terminated. hello/hello-ack carry their own signature and
// bypass the post-handshake verification gate; every other type is
// signed by From's current signing key.
type Envelope struct {
	V            int                    `json:"v"`
	Type         Type                   `json:"type"`
	From         []byte                 `json:"from"`
	KxPub        []byte                 `json:"kxPub,omitempty"`
	EphemeralPub []byte                 `json:"ephemeralPub,omitempty"`
	Session      string                 `json:"session,omitempty"`
	Payload      []byte                 `json:"payload,omitempty"`
	Token        string                 `json:"token,omitempty"`
	RequestID    string                 `json:"requestId,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Nonce        string                 `json:"nonce"`
	TS           int64                  `json:"ts"`
	Sig          []byte                 `json:"sig"`
	Versions     []int                  `json:"versions,omitempty"`
	Version      int                    `json:"version,omitempty"`
	KeyRotation  *identity.KeyRotation  `json:"keyRotation,omitempty"`
}

// unsigned returns the envelope with Sig cleared, the canonical
// signing payload per identity.Signable.
func (e *Envelope) unsigned() any {
	cp := *e
	cp.Sig = nil
	return cp
}

var _ identity.Signable = (*Envelope)(nil)
