package wire

import (
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/agent"
	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/ratelimit"
	"github.com/wopr-network/wopr-core/internal/trust"
)

// handshakeTimeout bounds the listener's wait for the client's hello.
const handshakeTimeout = 5 * time.Second

// Listener holds the process-wide collaborators the protocol engine
// consults on every connection: identity for signing/decryption,
// trust for authorization, replay/rate-limit for abuse control, guard
// against inject reentrancy, and the pluggable log/inject handlers.
type Listener struct {
	ID      *identity.Identity
	Trust   *trust.Store
	Replay  *ratelimit.Replay
	Limiter *ratelimit.Limiter
	Guard   *guard.Guard
	Log     agent.LogHandler
	Inject  agent.InjectHandler
	Logger  *zap.Logger
}

func (l *Listener) logger() *zap.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return zap.NewNop()
}

// connState is the per-connection negotiated state. Connections never
// share mutable state with each other (spec.md §5).
type connState struct {
	version      int
	peerSignPub  []byte
	peerEphPub   []byte
	ourEphemeral *identity.EphemeralPair
}

// Serve handles one accepted connection end to end: handshake, then
// the authenticated read/dispatch loop, until the stream closes or
// errors. Socket errors during teardown are expected and swallowed.
func (l *Listener) Serve(conn Stream) {
	defer conn.Close()
	log := l.logger().With(zap.String("conn_id", uuid.NewString()))

	r := NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hello, err := r.ReadEnvelope()
	if err != nil {
		log.Debug("listener: read hello failed", zap.Error(err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if hello.Type != TypeHello {
		log.Debug("listener: expected hello", zap.String("got", string(hello.Type)))
		return
	}

	version := negotiateVersion(hello.Versions)
	if version == 0 {
		_ = writeReject(conn, "no common protocol version")
		return
	}

	st := &connState{version: version, peerSignPub: hello.From, peerEphPub: hello.EphemeralPub}
	if version >= 2 {
		pair, err := identity.NewEphemeralPair(time.Now().Add(30 * time.Minute))
		if err != nil {
			log.Warn("listener: ephemeral pair", zap.Error(err))
			return
		}
		st.ourEphemeral = pair
	}

	ack := &Envelope{
		V:       version,
		Type:    TypeHelloAck,
		From:    l.ID.SignPub,
		Version: version,
		Nonce:   mustNonce(),
		TS:      nowMillis(),
	}
	if st.ourEphemeral != nil {
		ack.EphemeralPub = st.ourEphemeral.KxPubBytes
	}
	if err := signEnvelope(ack, l.ID.SignPriv); err != nil {
		log.Warn("listener: sign hello-ack", zap.Error(err))
		return
	}
	if err := WriteEnvelope(conn, ack); err != nil {
		log.Debug("listener: write hello-ack failed", zap.Error(err))
		return
	}

	for {
		env, err := r.ReadEnvelope()
		if err != nil {
			return
		}

		if !l.verifyAuth(env) {
			l.Limiter.Check(env.From, "invalid")
			continue
		}
		nb, err := nonceBytes(env)
		if err != nil || !l.Replay.Check(nb, tsOf(env)) {
			l.Limiter.Check(env.From, "invalid")
			continue
		}

		reply := l.dispatch(st, env)
		if reply == nil {
			continue
		}
		if err := WriteEnvelope(conn, reply); err != nil {
			log.Debug("listener: write reply failed", zap.Error(err))
			return
		}
	}
}

// verifyAuth checks env.Sig against the signer it claims. Every type
// except key-rotation is checked against From's current signing key;
// key-rotation is checked against its embedded oldSignPub instead
// (spec.md §4.D).
func (l *Listener) verifyAuth(env *Envelope) bool {
	if env.Type == TypeKeyRotation {
		return env.KeyRotation != nil && identity.VerifyRotation(env.KeyRotation)
	}
	if len(env.From) != ed25519.PublicKeySize {
		return false
	}
	return identity.Verify(env, env.Sig, ed25519.PublicKey(env.From))
}

func negotiateVersion(offered []int) int {
	best := 0
	for _, v := range offered {
		if v >= MinProtocolVersion && v <= ProtocolVersion && v > best {
			best = v
		}
	}
	return best
}

func writeReject(conn Stream, reason string) error {
	env := &Envelope{
		Type:   TypeReject,
		Reason: reason,
		Nonce:  mustNonce(),
		TS:     nowMillis(),
	}
	return WriteEnvelope(conn, env)
}

func mustNonce() string {
	n, err := NewNonce()
	if err != nil {
		// crypto/rand failure is not recoverable; a zero nonce still
		// lets the connection fail safely at the replay check.
		return "00000000000000000000000000000000" // 32 hex chars = 16 zero bytes
	}
	return n
}

func signEnvelope(env *Envelope, priv ed25519.PrivateKey) error {
	sig, err := identity.Sign(env, priv)
	if err != nil {
		return err
	}
	env.Sig = sig
	return nil
}
