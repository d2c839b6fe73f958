package wire

import (
	"time"

	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
)

// minInjectTimeout is the effective floor for inject calls (spec.md
// §4.D): implementations clamp any shorter caller-supplied timeout up
// to this value to accommodate agent latency.
const minInjectTimeout = 30 * time.Second

// Dialer drives the client side of the handshake: one hello, one
// payload message, one reply, then teardown (spec.md §4.E).
type Dialer struct {
	ID     *identity.Identity
	Guard  *guard.Guard
	Logger *zap.Logger
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

// handshake writes hello and waits for hello-ack within 5 seconds,
// returning the negotiated connState.
func (d *Dialer) handshake(conn Stream) (*connState, error) {
	pair, err := identity.NewEphemeralPair(time.Now().Add(time.Hour))
	if err != nil {
		return nil, err
	}

	hello := &Envelope{
		V:            ProtocolVersion,
		Type:         TypeHello,
		From:         d.ID.SignPub,
		EphemeralPub: pair.KxPubBytes,
		Versions:     []int{ProtocolVersion, MinProtocolVersion},
		Nonce:        mustNonce(),
		TS:           nowMillis(),
	}
	if err := signEnvelope(hello, d.ID.SignPriv); err != nil {
		return nil, err
	}
	if err := WriteEnvelope(conn, hello); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	r := NewReader(conn)
	ack, err := r.ReadEnvelope()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, errOffline
	}
	if ack.Type == TypeReject {
		return nil, errVersionMismatch
	}
	if ack.Type != TypeHelloAck {
		return nil, errOffline
	}

	return &connState{
		version:      ack.Version,
		peerSignPub:  ack.From,
		peerEphPub:   ack.EphemeralPub,
		ourEphemeral: pair,
	}, nil
}

type dialerError string

func (e dialerError) Error() string { return string(e) }

const (
	errOffline         = dialerError("offline")
	errVersionMismatch = dialerError("version mismatch")
)

// sendAndAwait writes payload over conn, already handshaken, and waits
// up to timeout for ack/response/reject.
func sendAndAwait(conn Stream, payload *Envelope, timeout time.Duration) (*Envelope, error) {
	if err := WriteEnvelope(conn, payload); err != nil {
		return nil, errOffline
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	r := NewReader(conn)
	reply, err := r.ReadEnvelope()
	if err != nil {
		return nil, errOffline
	}
	return reply, nil
}

// Claim dials conn, redeems tokenURI, and returns the grant outcome.
func (d *Dialer) Claim(conn Stream, tokenURI string, timeout time.Duration) Result {
	st, err := d.handshake(conn)
	if err != nil {
		return resultForDialErr(err)
	}

	env := &Envelope{
		V:     st.version,
		Type:  TypeClaim,
		From:  d.ID.SignPub,
		Token: tokenURI,
		KxPub: d.ID.KxPubBytes,
		Nonce: mustNonce(),
		TS:    nowMillis(),
	}
	if err := signEnvelope(env, d.ID.SignPriv); err != nil {
		return Result{Code: INVALID, Message: err.Error()}
	}

	reply, err := sendAndAwait(conn, env, timeout)
	if err != nil {
		return resultForDialErr(err)
	}
	if reply.Type == TypeReject {
		return Result{Code: REJECTED, Message: reply.Reason}
	}
	return Result{Code: OK}
}

// SendLog dials conn and delivers a fire-and-forget log message.
func (d *Dialer) SendLog(conn Stream, session string, plaintext []byte, key []byte, timeout time.Duration) Result {
	return d.deliver(conn, TypeLog, session, plaintext, key, "", timeout)
}

// SendInject dials conn and delivers a synchronous inject, returning
// the agent's reply. callerSession is the session the calling handler
// is itself servicing, if any; it is used to enforce the reentrancy
// guard of spec.md §4.G before any dial is attempted.
func (d *Dialer) SendInject(conn Stream, callerSession, session string, plaintext []byte, key []byte, timeout time.Duration) Result {
	if callerSession != "" && d.Guard != nil && d.Guard.InFlight(callerSession) {
		return Result{Code: REJECTED, Message: "blocked-reentrant"}
	}
	if timeout < minInjectTimeout {
		timeout = minInjectTimeout
	}
	return d.deliver(conn, TypeInject, session, plaintext, key, "inject-"+session, timeout)
}

func (d *Dialer) deliver(conn Stream, typ Type, session string, plaintext, key []byte, requestID string, timeout time.Duration) Result {
	st, err := d.handshake(conn)
	if err != nil {
		return resultForDialErr(err)
	}

	var ephPubOut []byte
	shared := key
	if st.version >= 2 && len(st.peerEphPub) > 0 {
		theirEph, perr := identity.ParseKxPub(st.peerEphPub)
		if perr == nil {
			if s, derr := identity.DeriveShared(st.ourEphemeral.KxPriv, theirEph); derr == nil {
				shared = s
				ephPubOut = st.ourEphemeral.KxPubBytes
			}
		}
	}

	ciphertext, err := identity.Encrypt(plaintext, shared)
	if err != nil {
		return Result{Code: INVALID, Message: err.Error()}
	}

	env := &Envelope{
		V:            st.version,
		Type:         typ,
		From:         d.ID.SignPub,
		Session:      session,
		Payload:      ciphertext,
		EphemeralPub: ephPubOut,
		RequestID:    requestID,
		Nonce:        mustNonce(),
		TS:           nowMillis(),
	}
	if err := signEnvelope(env, d.ID.SignPriv); err != nil {
		return Result{Code: INVALID, Message: err.Error()}
	}

	reply, err := sendAndAwait(conn, env, timeout)
	if err != nil {
		return resultForDialErr(err)
	}
	switch reply.Type {
	case TypeReject:
		return Result{Code: REJECTED, Message: reply.Reason}
	case TypeAck:
		return Result{Code: OK}
	case TypeResponse:
		if len(reply.EphemeralPub) == 0 {
			plain, err := identity.Decrypt(reply.Payload, shared)
			if err != nil {
				return Result{Code: INVALID, Message: err.Error()}
			}
			return Result{Code: OK, Reply: string(plain)}
		}
		theirEph, err := identity.ParseKxPub(reply.EphemeralPub)
		if err != nil {
			return Result{Code: INVALID, Message: err.Error()}
		}
		respShared, err := identity.DeriveShared(st.ourEphemeral.KxPriv, theirEph)
		if err != nil {
			return Result{Code: INVALID, Message: err.Error()}
		}
		plain, err := identity.Decrypt(reply.Payload, respShared)
		if err != nil {
			return Result{Code: INVALID, Message: err.Error()}
		}
		return Result{Code: OK, Reply: string(plain)}
	default:
		return Result{Code: INVALID, Message: "unexpected reply type"}
	}
}

// NotifyRotation dials conn and informs the peer of our key rotation.
func (d *Dialer) NotifyRotation(conn Stream, rot *identity.KeyRotation, timeout time.Duration) Result {
	st, err := d.handshake(conn)
	if err != nil {
		return resultForDialErr(err)
	}

	env := &Envelope{
		V:           st.version,
		Type:        TypeKeyRotation,
		From:        rot.NewSignPub,
		KeyRotation: rot,
		Nonce:       mustNonce(),
		TS:          nowMillis(),
	}
	// key-rotation's authenticity is carried by rot.Sig against
	// rot.OldSignPub, not by the envelope's own Sig (spec.md §4.D). From
	// carries the new key; the listener takes the keys it records from
	// rot itself.
	env.Sig = nil

	reply, err := sendAndAwait(conn, env, timeout)
	if err != nil {
		return resultForDialErr(err)
	}
	if reply.Type == TypeReject {
		return Result{Code: REJECTED, Message: reply.Reason}
	}
	return Result{Code: OK}
}

func resultForDialErr(err error) Result {
	switch err {
	case errVersionMismatch:
		return Result{Code: VERSION_MISMATCH, Message: err.Error()}
	case errOffline:
		return Result{Code: OFFLINE, Message: err.Error()}
	default:
		return Result{Code: OFFLINE, Message: err.Error()}
	}
}
