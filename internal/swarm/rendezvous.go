package swarm

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/wire"
)

// ProtocolID is the single libp2p stream protocol the swarm speaks.
// Topics only steer discovery; every stream, however it was found,
// runs the same wire handshake (spec.md §4.D) once opened.
const ProtocolID = "/wopr/1.0.0"

// readvertiseInterval re-announces a server-mode topic periodically so
// its provider record in the DHT does not expire between dials.
const readvertiseInterval = time.Hour

// ConnHandler is invoked for every stream the swarm accepts or opens,
// per spec.md §4.E's connection(stream, peerInfo) event.
type ConnHandler func(stream wire.Stream, peerInfo peer.AddrInfo)

// Rendezvous is the DHT-based join/leave/destroy surface of spec.md
// §4.E, backed by a Kademlia DHT and libp2p's routing-discovery
// helpers (Advertise/FindPeers).
type Rendezvous struct {
	host   host.Host
	kad    *dht.IpfsDHT
	disc   *drouting.RoutingDiscovery
	onConn ConnHandler
	logger *zap.Logger

	mu      sync.Mutex
	members map[string]context.CancelFunc
}

// NewRendezvous bootstraps a Kademlia DHT over h, connects to the
// given bootstrap peers (may be empty on a private swarm seeded solely
// by bootstrap.go's directory), and registers onConn as the handler
// for every stream the host accepts.
func NewRendezvous(ctx context.Context, h host.Host, bootstrap []peer.AddrInfo, onConn ConnHandler, logger *zap.Logger) (*Rendezvous, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto))
	if err != nil {
		return nil, fmt.Errorf("new dht: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		logger.Warn("dht bootstrap", zap.Error(err))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var connectErr *multierror.Error
	for _, pi := range bootstrap {
		wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer wg.Done()
			if err := h.Connect(ctx, pi); err != nil {
				mu.Lock()
				connectErr = multierror.Append(connectErr, fmt.Errorf("%s: %w", pi.ID, err))
				mu.Unlock()
			}
		}(pi)
	}
	wg.Wait()
	if connectErr != nil {
		logger.Warn("some bootstrap peers unreachable", zap.Error(connectErr.ErrorOrNil()))
	}

	r := &Rendezvous{
		host:    h,
		kad:     kad,
		disc:    drouting.NewRoutingDiscovery(kad),
		onConn:  onConn,
		logger:  logger,
		members: make(map[string]context.CancelFunc),
	}

	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		if r.onConn == nil {
			s.Close()
			return
		}
		pid := s.Conn().RemotePeer()
		r.onConn(s, peer.AddrInfo{ID: pid, Addrs: h.Peerstore().Addrs(pid)})
	})

	return r, nil
}

// JoinOptions selects whether a topic join advertises (server) and/or
// discovers-and-dials (client).
type JoinOptions struct {
	Server bool
	Client bool
}

// Join advertises/discovers topic per opts. Server mode advertises
// until Leave or Destroy is called for this topic. Client mode
// performs exactly one successful dial on the first reachable peer
// discovered, then returns — spec.md §4.E's "one request-response
// exchange on the first connection that emerges, then leaving."
func (r *Rendezvous) Join(ctx context.Context, topic [32]byte, opts JoinOptions) error {
	ns := topicNamespace(topic)

	if opts.Server {
		jctx, cancel := context.WithCancel(ctx)
		r.mu.Lock()
		r.members[ns] = cancel
		r.mu.Unlock()
		go r.advertiseLoop(jctx, ns)
	}

	if opts.Client {
		s, pi, err := r.dialOnce(ctx, ns)
		if err != nil {
			return err
		}
		if r.onConn != nil {
			r.onConn(s, pi)
		} else {
			s.Close()
		}
		return nil
	}
	return nil
}

// DialTopic performs the same one-shot discover-and-dial as Join's
// client mode, but hands the opened stream back to the caller instead
// of routing it through onConn — for callers (claim, send) that want
// to drive the wire protocol themselves against a peer found purely
// by its topic, with no multiaddr supplied up front.
func (r *Rendezvous) DialTopic(ctx context.Context, topic [32]byte) (network.Stream, peer.AddrInfo, error) {
	return r.dialOnce(ctx, topicNamespace(topic))
}

// Leave stops advertising topic, if this node was a server member.
func (r *Rendezvous) Leave(topic [32]byte) {
	ns := topicNamespace(topic)
	r.mu.Lock()
	cancel, ok := r.members[ns]
	delete(r.members, ns)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Destroy leaves every topic and tears down the DHT and host.
func (r *Rendezvous) Destroy() error {
	if err := r.CloseDHT(); err != nil {
		return err
	}
	return r.host.Close()
}

// CloseDHT leaves every topic and tears down the DHT, leaving the host
// itself open. For one-shot client uses (claim, send) that built their
// own host and are responsible for closing it themselves.
func (r *Rendezvous) CloseDHT() error {
	r.mu.Lock()
	for ns, cancel := range r.members {
		cancel()
		delete(r.members, ns)
	}
	r.mu.Unlock()

	return r.kad.Close()
}

func (r *Rendezvous) advertiseLoop(ctx context.Context, ns string) {
	dutil.Advertise(ctx, r.disc, ns)
	ticker := time.NewTicker(readvertiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dutil.Advertise(ctx, r.disc, ns)
		}
	}
}

func (r *Rendezvous) dialOnce(ctx context.Context, ns string) (network.Stream, peer.AddrInfo, error) {
	peerCh, err := r.disc.FindPeers(ctx, ns)
	if err != nil {
		return nil, peer.AddrInfo{}, fmt.Errorf("find peers: %w", err)
	}
	for pi := range peerCh {
		if pi.ID == r.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		s, err := r.host.NewStream(ctx, pi.ID, ProtocolID)
		if err != nil {
			r.logger.Debug("dial candidate failed", zap.String("peer", pi.ID.String()), zap.Error(err))
			continue
		}
		return s, pi, nil
	}
	return nil, peer.AddrInfo{}, fmt.Errorf("no reachable peer found for topic %s", ns)
}

// topicNamespace turns a 32-byte DHT rendezvous key into the string
// namespace routing-discovery advertises/finds under.
func topicNamespace(topic [32]byte) string {
	return hex.EncodeToString(topic[:])
}
