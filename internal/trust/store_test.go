package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(store.NewMemory())
}

func fakeSignPub(b byte) []byte {
	p := make([]byte, 32)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestGrantAccessAndIsAuthorized(t *testing.T) {
	s := newTestStore(t)
	bob := fakeSignPub(0x01)

	_, err := s.GrantAccess(bob, []string{"s1"}, []string{CapInject}, fakeSignPub(0x02))
	require.NoError(t, err)

	ok, err := s.IsAuthorized(bob, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.IsAuthorized(bob, "s2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGrantAccessMergesSessionsAndCaps(t *testing.T) {
	s := newTestStore(t)
	bob := fakeSignPub(0x01)

	_, err := s.GrantAccess(bob, []string{"s1"}, []string{CapMessage}, nil)
	require.NoError(t, err)
	g, err := s.GrantAccess(bob, []string{"s2"}, []string{CapInject}, nil)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"s1", "s2"}, g.Sessions)
	require.ElementsMatch(t, []string{CapMessage, CapInject}, g.Caps)
}

func TestWildcardSessionAuthorizes(t *testing.T) {
	s := newTestStore(t)
	bob := fakeSignPub(0x01)
	_, err := s.GrantAccess(bob, []string{SessionWildcard}, []string{CapMessage}, nil)
	require.NoError(t, err)

	ok, err := s.IsAuthorized(bob, "anything")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRevokePeerDenies(t *testing.T) {
	s := newTestStore(t)
	bob := fakeSignPub(0x01)
	_, err := s.GrantAccess(bob, []string{"s1"}, []string{CapInject}, nil)
	require.NoError(t, err)

	require.NoError(t, s.RevokePeer(keyOf(bob)))

	ok, err := s.IsAuthorized(bob, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokePeerNotFound(t *testing.T) {
	s := newTestStore(t)
	require.ErrorIs(t, s.RevokePeer("nobody"), ErrNotFound)
}

func TestNamePeerThenRevokeByName(t *testing.T) {
	s := newTestStore(t)
	bob := fakeSignPub(0x01)
	require.NoError(t, s.AddPeer(bob, []string{"s1"}, []string{CapMessage}, nil))
	_, err := s.GrantAccess(bob, []string{"s1"}, []string{CapMessage}, nil)
	require.NoError(t, err)

	require.NoError(t, s.NamePeer(identity.ShortID(bob), "bob"))
	require.NoError(t, s.RevokePeer("bob"))

	ok, err := s.IsAuthorized(bob, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProcessPeerRotationExtendsAuthorization(t *testing.T) {
	s := newTestStore(t)
	aliceID, _, err := identity.Init(t.TempDir()+"/a2.key", false)
	require.NoError(t, err)

	_, err = s.GrantAccess(aliceID.SignPub, []string{"s1"}, []string{CapInject}, nil)
	require.NoError(t, err)

	newID, _, rot, err := aliceID.Rotate(identity.ReasonScheduled)
	require.NoError(t, err)

	updated, err := s.ProcessPeerRotation(rot)
	require.NoError(t, err)
	require.True(t, updated)

	// Old key still authorized during grace.
	ok, err := s.IsAuthorized(aliceID.SignPub, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	// New key is authorized directly.
	ok, err = s.IsAuthorized(newID.SignPub, "s1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCleanupExpiredHistoryDropsPastEntries(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	bob := fakeSignPub(0x01)
	_, err := s.GrantAccess(bob, []string{"s1"}, []string{CapInject}, nil)
	require.NoError(t, err)

	g, err := s.GrantFor(bob)
	require.NoError(t, err)
	g.KeyHistory = append(g.KeyHistory, KeyHistoryEntry{
		SignPub:    fakeSignPub(0x02),
		ValidFrom:  frozen.Add(-time.Hour),
		ValidUntil: frozen.Add(-time.Minute),
	})
	require.NoError(t, s.saveGrant(g))

	require.NoError(t, s.CleanupExpiredHistory())

	g, err = s.GrantFor(bob)
	require.NoError(t, err)
	require.Empty(t, g.KeyHistory)
}

func TestAllKeysOfIncludesHistory(t *testing.T) {
	s := newTestStore(t)
	bob := fakeSignPub(0x01)
	_, err := s.GrantAccess(bob, []string{"s1"}, []string{CapInject}, nil)
	require.NoError(t, err)

	g, err := s.GrantFor(bob)
	require.NoError(t, err)
	g.KeyHistory = append(g.KeyHistory, KeyHistoryEntry{
		SignPub:    fakeSignPub(0x09),
		ValidUntil: time.Now().Add(time.Hour),
	})
	require.NoError(t, s.saveGrant(g))

	keys, err := s.AllKeysOf(bob)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}
