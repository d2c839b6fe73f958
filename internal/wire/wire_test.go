package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/ratelimit"
	"github.com/wopr-network/wopr-core/internal/store"
	"github.com/wopr-network/wopr-core/internal/trust"
)

type harness struct {
	alice *identity.Identity
	bob   *identity.Identity

	aliceTrust *trust.Store
	listener   *Listener
	dialer     *Dialer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	alice, _, err := identity.Init(t.TempDir()+"/alice.key", false)
	require.NoError(t, err)
	bob, _, err := identity.Init(t.TempDir()+"/bob.key", false)
	require.NoError(t, err)

	aliceTrust := trust.New(store.NewMemory())

	l := &Listener{
		ID:      alice,
		Trust:   aliceTrust,
		Replay:  ratelimit.NewReplay(),
		Limiter: ratelimit.New(),
		Guard:   guard.New(),
	}
	d := &Dialer{ID: bob, Guard: guard.New()}

	return &harness{alice: alice, bob: bob, aliceTrust: aliceTrust, listener: l, dialer: d}
}

func serveOnPipe(l *Listener) (client net.Conn) {
	server, c := net.Pipe()
	go l.Serve(server)
	return c
}

func TestClaimHappyPath(t *testing.T) {
	h := newHarness(t)
	uri, err := identity.Issue(h.alice, h.bob.SignPub, []string{"s1"}, []string{"inject"}, time.Hour)
	require.NoError(t, err)

	conn := serveOnPipe(h.listener)
	res := h.dialer.Claim(conn, uri, 2*time.Second)
	require.Equal(t, OK, res.Code)

	grant, err := h.aliceTrust.GrantFor(h.bob.SignPub)
	require.NoError(t, err)
	require.NotNil(t, grant)
	require.ElementsMatch(t, []string{"s1"}, grant.Sessions)
	require.ElementsMatch(t, []string{"inject"}, grant.Caps)
}

func TestInjectForwardSecrecyRoundTrip(t *testing.T) {
	h := newHarness(t)
	_, err := h.aliceTrust.GrantAccess(h.bob.SignPub, []string{"s1"}, []string{"inject"}, nil)
	require.NoError(t, err)

	h.listener.Inject = func(session string, plaintext []byte, sender []byte) (string, error) {
		return "hi " + string(plaintext), nil
	}

	conn := serveOnPipe(h.listener)
	res := h.dialer.SendInject(conn, "", "s1", []byte("hello"), nil, 2*time.Second)
	require.Equal(t, OK, res.Code)
	require.Equal(t, "hi hello", res.Reply)
}

func TestLogDelivery(t *testing.T) {
	h := newHarness(t)
	_, err := h.aliceTrust.GrantAccess(h.bob.SignPub, []string{"s1"}, []string{"message"}, nil)
	require.NoError(t, err)

	received := make(chan string, 1)
	h.listener.Log = func(session string, plaintext []byte, sender []byte) {
		received <- string(plaintext)
	}

	conn := serveOnPipe(h.listener)
	res := h.dialer.SendLog(conn, "s1", []byte("hello log"), nil, 2*time.Second)
	require.Equal(t, OK, res.Code)
	require.Equal(t, "hello log", <-received)
}

func TestUnauthorizedSessionRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.aliceTrust.GrantAccess(h.bob.SignPub, []string{"s1"}, []string{"inject"}, nil)
	require.NoError(t, err)

	conn := serveOnPipe(h.listener)
	res := h.dialer.SendInject(conn, "", "s2", []byte("hello"), nil, 2*time.Second)
	require.Equal(t, REJECTED, res.Code)
}

func TestKeyRotationContinuity(t *testing.T) {
	h := newHarness(t)
	_, err := h.aliceTrust.GrantAccess(h.bob.SignPub, []string{"s1"}, []string{"inject"}, nil)
	require.NoError(t, err)

	newBob, _, rot, err := h.bob.Rotate(identity.ReasonScheduled)
	require.NoError(t, err)

	conn := serveOnPipe(h.listener)
	res := h.dialer.NotifyRotation(conn, rot, 2*time.Second)
	require.Equal(t, OK, res.Code)

	ok, err := h.aliceTrust.IsAuthorized(h.bob.SignPub, "s1")
	require.NoError(t, err)
	require.True(t, ok, "old key should remain authorized during grace period")

	ok, err = h.aliceTrust.IsAuthorized(newBob.SignPub, "s1")
	require.NoError(t, err)
	require.True(t, ok, "new key should be authorized immediately")
}

func TestSendInjectBlocksReentrancy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dialer.Guard.Enter("s1"))

	// No dial is attempted: the reentrancy check must short-circuit
	// before touching the network.
	res := h.dialer.SendInject(nil, "s1", "s1", []byte("hello"), nil, time.Second)
	require.Equal(t, REJECTED, res.Code)
	require.Equal(t, "blocked-reentrant", res.Message)
}

func TestClaimRejectsWrongIssuer(t *testing.T) {
	h := newHarness(t)
	other, _, err := identity.Init(t.TempDir()+"/carol.key", false)
	require.NoError(t, err)
	uri, err := identity.Issue(other, h.bob.SignPub, []string{"s1"}, nil, time.Hour)
	require.NoError(t, err)

	conn := serveOnPipe(h.listener)
	res := h.dialer.Claim(conn, uri, 2*time.Second)
	require.Equal(t, REJECTED, res.Code)
}
