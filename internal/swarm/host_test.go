package swarm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-core/internal/identity"
)

func TestNewHost(t *testing.T) {
	id, _, err := identity.Init(t.TempDir()+"/node.key", false)
	require.NoError(t, err)

	h, err := NewHost(id, 0)
	require.NoError(t, err)
	defer h.Close()

	require.NotEmpty(t, h.Addrs())
	require.Equal(t, id.PeerID, h.ID())
}

func TestNewHostDeterministicPeerID(t *testing.T) {
	seedPath := t.TempDir() + "/node.key"
	id, _, err := identity.Init(seedPath, false)
	require.NoError(t, err)

	reloaded, err := identity.Load(seedPath)
	require.NoError(t, err)
	require.Equal(t, id.PeerID, reloaded.PeerID)

	h, err := NewHost(reloaded, 0)
	require.NoError(t, err)
	defer h.Close()
	require.Equal(t, id.PeerID, h.ID())
}
