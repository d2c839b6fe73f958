// Package friend implements the out-of-band friend handshake of
// spec.md §4.F: two self-signed pipe-delimited text records exchanged
// over a channel this package never transports itself.
package friend

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Staleness is the maximum age spec.md §4.F tolerates for either
// record before it must be rejected.
const Staleness = 5 * time.Minute

const (
	tagRequest = "FRIEND_REQUEST"
	tagAccept  = "FRIEND_ACCEPT"
)

// Request is a FRIEND_REQUEST record.
type Request struct {
	To         string
	From       string
	PubKey     []byte // sender's signing public key
	EncryptPub []byte // sender's key-agreement public key
	TS         int64  // milliseconds since epoch
	Sig        []byte
}

// Accept is a FRIEND_ACCEPT record; RequestSig ties it to the Request
// it answers.
type Accept struct {
	To         string
	From       string
	PubKey     []byte
	EncryptPub []byte
	RequestSig []byte
	TS         int64
	Sig        []byte
}

func (r *Request) canonical() string {
	return fmt.Sprintf("%s | to:%s | from:%s | pubkey:%s | encryptPub:%s | ts:%d",
		tagRequest, r.To, r.From, b64(r.PubKey), b64(r.EncryptPub), r.TS)
}

func (a *Accept) canonical() string {
	return fmt.Sprintf("%s | to:%s | from:%s | pubkey:%s | encryptPub:%s | requestSig:%s | ts:%d",
		tagAccept, a.To, a.From, b64(a.PubKey), b64(a.EncryptPub), b64(a.RequestSig), a.TS)
}

// Encode returns the literal wire form, canonical text plus a trailing
// sig field.
func (r *Request) Encode() string {
	return fmt.Sprintf("%s | sig:%s", r.canonical(), b64(r.Sig))
}

func (a *Accept) Encode() string {
	return fmt.Sprintf("%s | sig:%s", a.canonical(), b64(a.Sig))
}

// SignRequest builds and signs a Request as the identity owning priv.
func SignRequest(to, from string, pubKey, encryptPub []byte, priv ed25519.PrivateKey, ts time.Time) *Request {
	r := &Request{To: to, From: from, PubKey: pubKey, EncryptPub: encryptPub, TS: ts.UnixMilli()}
	r.Sig = ed25519.Sign(priv, []byte(r.canonical()))
	return r
}

// SignAccept builds and signs an Accept tying back to requestSig.
func SignAccept(to, from string, pubKey, encryptPub, requestSig []byte, priv ed25519.PrivateKey, ts time.Time) *Accept {
	a := &Accept{To: to, From: from, PubKey: pubKey, EncryptPub: encryptPub, RequestSig: requestSig, TS: ts.UnixMilli()}
	a.Sig = ed25519.Sign(priv, []byte(a.canonical()))
	return a
}

// Verify checks r's signature and staleness against now.
func (r *Request) Verify(now time.Time) bool {
	if len(r.PubKey) != ed25519.PublicKeySize || len(r.Sig) != ed25519.SignatureSize {
		return false
	}
	if now.Sub(time.UnixMilli(r.TS)) > Staleness {
		return false
	}
	return ed25519.Verify(r.PubKey, []byte(r.canonical()), r.Sig)
}

// Verify checks a's signature and staleness against now.
func (a *Accept) Verify(now time.Time) bool {
	if len(a.PubKey) != ed25519.PublicKeySize || len(a.Sig) != ed25519.SignatureSize {
		return false
	}
	if now.Sub(time.UnixMilli(a.TS)) > Staleness {
		return false
	}
	return ed25519.Verify(a.PubKey, []byte(a.canonical()), a.Sig)
}

// ParseRequest parses the literal wire form of a FRIEND_REQUEST
// record, rejecting any deviation in spacing or field order.
func ParseRequest(s string) (*Request, error) {
	fields, err := splitFields(s, tagRequest, 7)
	if err != nil {
		return nil, err
	}
	to, err := field(fields[1], "to:")
	if err != nil {
		return nil, err
	}
	from, err := field(fields[2], "from:")
	if err != nil {
		return nil, err
	}
	pubKey, err := fieldBytes(fields[3], "pubkey:")
	if err != nil {
		return nil, err
	}
	encryptPub, err := fieldBytes(fields[4], "encryptPub:")
	if err != nil {
		return nil, err
	}
	ts, err := fieldInt(fields[5], "ts:")
	if err != nil {
		return nil, err
	}
	sig, err := fieldBytes(fields[6], "sig:")
	if err != nil {
		return nil, err
	}
	return &Request{To: to, From: from, PubKey: pubKey, EncryptPub: encryptPub, TS: ts, Sig: sig}, nil
}

// ParseAccept parses the literal wire form of a FRIEND_ACCEPT record.
func ParseAccept(s string) (*Accept, error) {
	fields, err := splitFields(s, tagAccept, 8)
	if err != nil {
		return nil, err
	}
	to, err := field(fields[1], "to:")
	if err != nil {
		return nil, err
	}
	from, err := field(fields[2], "from:")
	if err != nil {
		return nil, err
	}
	pubKey, err := fieldBytes(fields[3], "pubkey:")
	if err != nil {
		return nil, err
	}
	encryptPub, err := fieldBytes(fields[4], "encryptPub:")
	if err != nil {
		return nil, err
	}
	requestSig, err := fieldBytes(fields[5], "requestSig:")
	if err != nil {
		return nil, err
	}
	ts, err := fieldInt(fields[6], "ts:")
	if err != nil {
		return nil, err
	}
	sig, err := fieldBytes(fields[7], "sig:")
	if err != nil {
		return nil, err
	}
	return &Accept{To: to, From: from, PubKey: pubKey, EncryptPub: encryptPub, RequestSig: requestSig, TS: ts, Sig: sig}, nil
}

func splitFields(s, tag string, want int) ([]string, error) {
	fields := strings.Split(s, " | ")
	if len(fields) != want {
		return nil, fmt.Errorf("friend: expected %d fields, got %d", want, len(fields))
	}
	if fields[0] != tag {
		return nil, fmt.Errorf("friend: expected tag %q, got %q", tag, fields[0])
	}
	return fields, nil
}

func field(s, prefix string) (string, error) {
	if !strings.HasPrefix(s, prefix) {
		return "", fmt.Errorf("friend: expected field prefix %q", prefix)
	}
	return strings.TrimPrefix(s, prefix), nil
}

func fieldBytes(s, prefix string) ([]byte, error) {
	v, err := field(s, prefix)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(v)
}

func fieldInt(s, prefix string) (int64, error) {
	v, err := field(s, prefix)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
