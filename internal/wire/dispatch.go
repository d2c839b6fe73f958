package wire

import (
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/identity"
)

// dispatch handles one authenticated, replay-checked envelope and
// returns the reply to send, or nil to drop silently.
func (l *Listener) dispatch(st *connState, env *Envelope) *Envelope {
	switch env.Type {
	case TypeClaim:
		return l.handleClaim(st, env)
	case TypeLog:
		return l.handleDeliver(st, env, false)
	case TypeInject:
		return l.handleDeliver(st, env, true)
	case TypeKeyRotation:
		return l.handleKeyRotation(st, env)
	default:
		return nil
	}
}

func (l *Listener) reply(typ Type) *Envelope {
	return &Envelope{
		V:     ProtocolVersion,
		Type:  typ,
		From:  l.ID.SignPub,
		Nonce: mustNonce(),
		TS:    nowMillis(),
	}
}

func (l *Listener) sign(env *Envelope) *Envelope {
	if err := signEnvelope(env, l.ID.SignPriv); err != nil {
		l.logger().Warn("wire: sign reply failed", zap.Error(err))
		return nil
	}
	return env
}

func (l *Listener) reject(reason string) *Envelope {
	r := l.reply(TypeReject)
	r.Reason = reason
	return l.sign(r)
}

func (l *Listener) handleClaim(st *connState, env *Envelope) *Envelope {
	if !l.Limiter.Check(env.From, "claim") {
		return l.reject("rate limited")
	}

	tok, err := identity.Parse(env.Token)
	if err != nil {
		return l.reject("invalid token")
	}
	if string(tok.Iss) != string(l.ID.SignPub) {
		return l.reject("token not issued by this node")
	}
	if string(tok.Sub) != string(env.From) {
		return l.reject("token subject mismatch")
	}

	if _, err := l.Trust.GrantAccess(env.From, tok.Sessions, tok.Caps, env.KxPub); err != nil {
		return l.reject("grant failed")
	}

	ack := l.reply(TypeAck)
	ack.KxPub = l.ID.KxPubBytes
	return l.sign(ack)
}

func (l *Listener) handleDeliver(st *connState, env *Envelope, isInject bool) *Envelope {
	action := "log"
	if isInject {
		action = "inject"
	}
	if !l.Limiter.Check(env.From, action) {
		return l.reject("rate limited")
	}
	if len(env.Payload) > MaxPayloadBytes {
		return l.reject("payload too large")
	}

	authorized, err := l.Trust.IsAuthorized(env.From, env.Session)
	if err != nil || !authorized {
		return l.reject("unauthorized")
	}

	shared, err := l.sharedSecretFor(st, env)
	if err != nil {
		return l.reject("cannot derive shared key")
	}
	plaintext, err := identity.Decrypt(env.Payload, shared)
	if err != nil {
		return l.reject("decryption failed")
	}

	if !isInject {
		if l.Log != nil {
			l.Log(env.Session, plaintext, env.From)
		}
		return l.sign(l.reply(TypeAck))
	}

	if l.Inject == nil {
		return l.sign(l.reply(TypeAck))
	}

	if err := l.Guard.Enter(env.Session); err != nil {
		return l.reject("blocked-reentrant")
	}
	defer l.Guard.Leave(env.Session)

	respText, err := l.Inject(env.Session, plaintext, env.From)
	if err != nil {
		return l.reject("inject handler error")
	}

	respPair, err := identity.NewEphemeralPair(time.Now().Add(30 * time.Minute))
	if err != nil {
		return l.reject("cannot derive response key")
	}
	respShared := shared
	if st.version >= 2 && len(env.EphemeralPub) > 0 {
		theirEph, err := identity.ParseKxPub(env.EphemeralPub)
		if err == nil {
			if s, err := identity.DeriveShared(respPair.KxPriv, theirEph); err == nil {
				respShared = s
			}
		}
	}
	ciphertext, err := identity.Encrypt([]byte(respText), respShared)
	if err != nil {
		return l.reject("encryption failed")
	}

	resp := l.reply(TypeResponse)
	resp.RequestID = env.RequestID
	resp.Payload = ciphertext
	if st.version >= 2 {
		resp.EphemeralPub = respPair.KxPubBytes
	}
	return l.sign(resp)
}

// sharedSecretFor derives the decryption key for a log/inject payload:
// the forward-secret ephemeral path when both sides advertised v>=2
// and an ephemeralPub, else the legacy static path via the grant's
// recorded peerKxPub.
func (l *Listener) sharedSecretFor(st *connState, env *Envelope) ([]byte, error) {
	if st.version >= 2 && len(env.EphemeralPub) > 0 && st.ourEphemeral != nil {
		theirEph, err := identity.ParseKxPub(env.EphemeralPub)
		if err != nil {
			return nil, err
		}
		return identity.DeriveShared(st.ourEphemeral.KxPriv, theirEph)
	}

	grant, err := l.Trust.GrantFor(env.From)
	if err != nil || grant == nil || len(grant.PeerKxPub) == 0 {
		return nil, identity.ErrNoLegacyKey
	}
	if st.version >= 2 {
		l.logger().Warn("wire: falling back to static key exchange with a v2 peer",
			zap.String("from", base64.StdEncoding.EncodeToString(env.From)))
	}
	theirKx, err := identity.ParseKxPub(grant.PeerKxPub)
	if err != nil {
		return nil, err
	}
	return identity.DeriveShared(l.ID.KxPriv, theirKx)
}

func (l *Listener) handleKeyRotation(st *connState, env *Envelope) *Envelope {
	if env.KeyRotation == nil {
		return l.reject("missing key rotation")
	}
	applied, err := l.Trust.ProcessPeerRotation(env.KeyRotation)
	if err != nil || !applied {
		return l.reject("invalid key rotation")
	}
	return l.sign(l.reply(TypeAck))
}
