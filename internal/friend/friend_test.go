package friend

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-core/internal/store"
)

func TestRequestRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	r := SignRequest("bob", "alice", pub, []byte("kx-pub"), priv, now)
	encoded := r.Encode()

	decoded, err := ParseRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, r.To, decoded.To)
	require.Equal(t, r.From, decoded.From)
	require.True(t, decoded.Verify(now))
}

func TestAcceptRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	reqSig := []byte("request-signature-bytes")
	a := SignAccept("alice", "bob", pub, []byte("kx-pub"), reqSig, priv, now)
	encoded := a.Encode()

	decoded, err := ParseAccept(encoded)
	require.NoError(t, err)
	require.Equal(t, a.To, decoded.To)
	require.Equal(t, reqSig, decoded.RequestSig)
	require.True(t, decoded.Verify(now))
}

func TestParseRequestRejectsWrongTag(t *testing.T) {
	_, err := ParseRequest("NOT_A_REQUEST | to:bob | from:alice | pubkey:AA== | encryptPub:AA== | ts:1 | sig:AA==")
	require.Error(t, err)
}

func TestParseRequestRejectsMissingField(t *testing.T) {
	_, err := ParseRequest("FRIEND_REQUEST | to:bob | from:alice | pubkey:AA== | ts:1 | sig:AA==")
	require.Error(t, err)
}

func TestVerifyRejectsStaleRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	old := time.Now().Add(-10 * time.Minute)
	r := SignRequest("bob", "alice", pub, []byte("kx-pub"), priv, old)
	require.False(t, r.Verify(time.Now()))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	r := SignRequest("bob", "alice", pub, []byte("kx-pub"), priv, now)
	r.From = "mallory"
	require.False(t, r.Verify(now))
}

func TestMatchesAutoAccept(t *testing.T) {
	require.True(t, MatchesAutoAccept([]string{"alice"}, "alice"))
	require.False(t, MatchesAutoAccept([]string{"alice"}, "bob"))
	require.True(t, MatchesAutoAccept([]string{"*"}, "anyone"))
	require.True(t, MatchesAutoAccept([]string{"alice|bob|carol"}, "bob"))
	require.False(t, MatchesAutoAccept([]string{"alice|bob|carol"}, "mallory"))
}

func TestSessionNameFor(t *testing.T) {
	signPub := []byte{0xde, 0xad, 0xbe, 0xef}
	require.Equal(t, "friend:p2p:bob(deadbe)", SessionNameFor("bob", signPub))
}

func TestPendingStoreAddListRemove(t *testing.T) {
	s := New(store.NewMemory())
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	r := SignRequest("bob", "alice", pub, []byte("kx-pub"), priv, time.Now())
	require.NoError(t, s.AddPending(r))

	list, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "alice", list[0].From)

	require.NoError(t, s.RemovePending("alice"))
	list, err = s.ListPending()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestOutgoingMatchAccept(t *testing.T) {
	s := New(store.NewMemory())
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	r := SignRequest("bob", "alice", pub, []byte("kx-pub"), priv, time.Now())
	require.NoError(t, s.AddOutgoing(r))

	a := &Accept{RequestSig: r.Sig}
	matched, err := s.MatchAccept(a)
	require.NoError(t, err)
	require.Equal(t, r.From, matched.From)

	require.NoError(t, s.ClearOutgoing(r.Sig))
	_, err = s.MatchAccept(a)
	require.ErrorIs(t, err, ErrNotFound)
}
