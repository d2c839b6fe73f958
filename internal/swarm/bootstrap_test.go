package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-core/internal/identity"
)

func TestDirectoryRegisterReturnsExistingRoster(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dirID, _, err := identity.Init(t.TempDir()+"/dir.key", false)
	require.NoError(t, err)
	dirHost, err := NewHost(dirID, 0)
	require.NoError(t, err)
	defer dirHost.Close()

	NewDirectory(dirHost, &BootstrapConfig{Peers: map[string]string{
		"alice": "tok-alice",
		"bob":   "tok-bob",
	}}, nil)

	dirAddrInfo := peer.AddrInfo{ID: dirHost.ID(), Addrs: dirHost.Addrs()}

	aliceID, _, err := identity.Init(t.TempDir()+"/alice.key", false)
	require.NoError(t, err)
	aliceHost, err := NewHost(aliceID, 0)
	require.NoError(t, err)
	defer aliceHost.Close()

	roster, err := RegisterWithDirectory(ctx, aliceHost, dirAddrInfo, "alice", "tok-alice")
	require.NoError(t, err)
	require.Empty(t, roster, "first registrant sees an empty roster")

	bobID, _, err := identity.Init(t.TempDir()+"/bob.key", false)
	require.NoError(t, err)
	bobHost, err := NewHost(bobID, 0)
	require.NoError(t, err)
	defer bobHost.Close()

	roster, err = RegisterWithDirectory(ctx, bobHost, dirAddrInfo, "bob", "tok-bob")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, aliceHost.ID(), roster[0].ID)
}

func TestDirectoryRejectsBadToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dirID, _, err := identity.Init(t.TempDir()+"/dir.key", false)
	require.NoError(t, err)
	dirHost, err := NewHost(dirID, 0)
	require.NoError(t, err)
	defer dirHost.Close()

	NewDirectory(dirHost, &BootstrapConfig{Peers: map[string]string{"alice": "tok-alice"}}, nil)
	dirAddrInfo := peer.AddrInfo{ID: dirHost.ID(), Addrs: dirHost.Addrs()}

	aliceID, _, err := identity.Init(t.TempDir()+"/alice.key", false)
	require.NoError(t, err)
	aliceHost, err := NewHost(aliceID, 0)
	require.NoError(t, err)
	defer aliceHost.Close()

	_, err = RegisterWithDirectory(ctx, aliceHost, dirAddrInfo, "alice", "wrong-token")
	require.Error(t, err)
}
