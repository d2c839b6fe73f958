package main

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/swarm"
)

// dialPeer connects h to the peer named by a /p2p/<id>-suffixed
// multiaddr and opens the shared wire protocol stream, the same stream
// type swarm.Rendezvous hands to its ConnHandler on the accept side.
func dialPeer(ctx context.Context, h host.Host, addrStr string) (network.Stream, error) {
	maddr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		return nil, fmt.Errorf("parse peer address: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("resolve peer address: %w", err)
	}
	if err := h.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", info.ID, err)
	}
	return h.NewStream(ctx, info.ID, swarm.ProtocolID)
}

// dialPeerTopic finds and dials a peer purely by its signing public
// key, with no multiaddr required up front: it joins the DHT topic
// that peer's own server-mode Join advertises under (swarm.host.go's
// "a node listens by joining topicOf(ownSignPub) in server mode")
// and takes the first reachable candidate. It builds and tears down
// its own short-lived DHT; h's lifecycle remains the caller's.
func dialPeerTopic(ctx context.Context, h host.Host, peerSignPub []byte, logger *zap.Logger) (network.Stream, error) {
	rv, err := swarm.NewRendezvous(ctx, h, nil, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("start rendezvous: %w", err)
	}
	defer rv.CloseDHT()

	stream, _, err := rv.DialTopic(ctx, identity.TopicOf(peerSignPub))
	if err != nil {
		return nil, fmt.Errorf("dial via topic: %w", err)
	}
	return stream, nil
}
