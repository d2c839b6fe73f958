// Package swarm implements the DHT-based rendezvous of spec.md §4.E:
// a node listens by joining topicOf(ownSignPub) in server mode and
// dials a peer by joining topicOf(peer.signPub) in client mode.
package swarm

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/wopr-network/wopr-core/internal/identity"
)

// NewHost creates a libp2p host using id's derived libp2p key, so the
// host's PeerID is deterministic in the node's seed. If port is 0, a
// random available port is used for both transports.
func NewHost(id *identity.Identity, port int) (host.Host, error) {
	listenAddrs := []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", port),
	}

	h, err := libp2p.New(
		libp2p.Identity(id.Libp2pPriv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	return h, nil
}
