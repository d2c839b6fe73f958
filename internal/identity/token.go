package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const tokenPrefix = "wop1://"

// InviteToken is a signed bearer credential granting its subject access
// to a set of sessions. Wire form: "wop1://" + base64url(canonical JSON
// with sig).
type InviteToken struct {
	V        int      `json:"v"`
	Iss      []byte   `json:"iss"` // issuer's signing pub
	Sub      []byte   `json:"sub"` // intended claimant's signing pub
	Sessions []string `json:"ses"`
	Caps     []string `json:"cap"`
	Exp      int64    `json:"exp"` // unix ms
	Nonce    string   `json:"nonce"`
	Sig      []byte   `json:"sig"`
}

func (t *InviteToken) unsigned() any {
	cp := *t
	cp.Sig = nil
	return cp
}

// TokenErrorKind distinguishes invite-token parse failures per
// spec.md §4.A.
type TokenErrorKind int

const (
	TokenErrBadPrefix TokenErrorKind = iota
	TokenErrMalformed
	TokenErrExpired
	TokenErrBadSignature
)

// TokenError carries a TokenErrorKind alongside the human message.
type TokenError struct {
	Kind TokenErrorKind
	Msg  string
}

func (e *TokenError) Error() string { return e.Msg }

// Issue signs and encodes a new invite token.
func Issue(id *Identity, subSignPub []byte, sessions, caps []string, ttl time.Duration) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("issue: nonce: %w", err)
	}

	tok := &InviteToken{
		V:        1,
		Iss:      append([]byte(nil), id.SignPub...),
		Sub:      append([]byte(nil), subSignPub...),
		Sessions: append([]string(nil), sessions...),
		Caps:     append([]string(nil), caps...),
		Exp:      time.Now().Add(ttl).UnixMilli(),
		Nonce:    hex.EncodeToString(nonce),
	}
	sig, err := Sign(tok, id.SignPriv)
	if err != nil {
		return "", fmt.Errorf("issue: %w", err)
	}
	tok.Sig = sig

	payload, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("issue: marshal: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// Parse decodes and validates an invite-token URI. Clock skew is not
// tolerated: exp is compared strictly against time.Now.
func Parse(uri string) (*InviteToken, error) {
	if !strings.HasPrefix(uri, tokenPrefix) {
		return nil, &TokenError{Kind: TokenErrBadPrefix, Msg: "invite token: wrong URI prefix"}
	}
	encoded := strings.TrimPrefix(uri, tokenPrefix)

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &TokenError{Kind: TokenErrMalformed, Msg: fmt.Sprintf("invite token: bad base64: %v", err)}
	}

	var tok InviteToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, &TokenError{Kind: TokenErrMalformed, Msg: fmt.Sprintf("invite token: bad JSON: %v", err)}
	}

	if time.Now().UnixMilli() > tok.Exp {
		return nil, &TokenError{Kind: TokenErrExpired, Msg: "invite token: expired"}
	}

	if !Verify(&tok, tok.Sig, ed25519.PublicKey(tok.Iss)) {
		return nil, &TokenError{Kind: TokenErrBadSignature, Msg: "invite token: bad signature"}
	}

	return &tok, nil
}
