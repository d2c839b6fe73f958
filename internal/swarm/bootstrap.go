package swarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BootstrapConfig secures a private discovery directory with a
// per-nickname bearer token, generalized from the teacher's
// internal/node/server.go Config. It is not the authorization layer
// for wopr messaging, only a way to seed a DHT routing table on a
// private swarm with no public bootstrap nodes reachable.
type BootstrapConfig struct {
	Peers map[string]string // nickname -> token
}

type directoryPeer struct {
	nickname string
	peerID   peer.ID
	addrs    []multiaddr.Multiaddr
}

// Directory is an optional bootstrap-peer rendezvous: peers register
// by nickname and bearer token and receive the current roster, then
// are pushed join/leave events for as long as their stream stays
// open. Adapted from the teacher's internal/node.Server registration
// dance, minus the HPKE key exchange that protocol carried.
type Directory struct {
	host   host.Host
	config *BootstrapConfig
	logger *zap.Logger

	mu      sync.RWMutex
	online  map[string]*directoryPeer
	streams map[string]network.Stream
}

// NewDirectory registers the bootstrap stream handler on h and starts
// serving registrations.
func NewDirectory(h host.Host, cfg *BootstrapConfig, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		host:    h,
		config:  cfg,
		logger:  logger,
		online:  make(map[string]*directoryPeer),
		streams: make(map[string]network.Stream),
	}
	h.SetStreamHandler(BootstrapProtocolID, d.handleStream)
	return d
}

func (d *Directory) handleStream(s network.Stream) {
	defer s.Close()

	typ, payload, err := readMsg(s)
	if err != nil || typ != msgRegister {
		return
	}
	reg, err := decodeRegister(payload)
	if err != nil {
		d.sendFail(s, "invalid register message")
		return
	}

	expected, ok := d.config.Peers[reg.Nickname]
	if !ok || reg.Token != expected {
		d.sendFail(s, "unknown nickname or bad token")
		return
	}

	d.mu.Lock()
	if _, exists := d.online[reg.Nickname]; exists {
		d.mu.Unlock()
		d.sendFail(s, "nickname already online")
		return
	}
	peerID := s.Conn().RemotePeer()
	addrs := d.host.Peerstore().Addrs(peerID)
	np := &directoryPeer{nickname: reg.Nickname, peerID: peerID, addrs: addrs}
	list := d.buildList()
	d.online[reg.Nickname] = np
	d.streams[reg.Nickname] = s
	d.mu.Unlock()

	if err := writeMsg(s, msgRegisterOK, encodeRegisterOK(&bootstrapRegisterOK{PeerID: peerID})); err != nil {
		d.remove(reg.Nickname)
		return
	}
	if err := writeMsg(s, msgPeerList, encodePeerList(&bootstrapPeerList{Peers: list})); err != nil {
		d.remove(reg.Nickname)
		return
	}
	d.broadcastJoined(np)

	buf := make([]byte, 1)
	for {
		if _, err := s.Read(buf); err != nil {
			break
		}
	}

	d.remove(reg.Nickname)
	d.broadcastLeft(reg.Nickname)
}

func (d *Directory) sendFail(s network.Stream, reason string) {
	_ = writeMsg(s, msgRegisterFail, encodeRegisterFail(&bootstrapRegisterFail{Reason: reason}))
}

func (d *Directory) buildList() []bootstrapPeerInfo {
	var list []bootstrapPeerInfo
	for _, p := range d.online {
		list = append(list, bootstrapPeerInfo{Nickname: p.nickname, PeerID: p.peerID, Addrs: p.addrs})
	}
	return list
}

func (d *Directory) remove(nickname string) {
	d.mu.Lock()
	delete(d.online, nickname)
	delete(d.streams, nickname)
	d.mu.Unlock()
}

func (d *Directory) broadcastJoined(p *directoryPeer) {
	encoded := encodePeerJoined(&bootstrapPeerInfo{Nickname: p.nickname, PeerID: p.peerID, Addrs: p.addrs})
	d.mu.RLock()
	targets := make(map[string]network.Stream, len(d.streams))
	for nickname, s := range d.streams {
		if nickname != p.nickname {
			targets[nickname] = s
		}
	}
	d.mu.RUnlock()

	var g errgroup.Group
	for nickname, s := range targets {
		nickname, s := nickname, s
		g.Go(func() error {
			if err := writeMsg(s, msgPeerJoined, encoded); err != nil {
				return fmt.Errorf("notify %s: %w", nickname, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Debug("broadcast join", zap.Error(err))
	}
}

func (d *Directory) broadcastLeft(nickname string) {
	encoded := encodePeerLeft(&bootstrapPeerLeft{Nickname: nickname})
	d.mu.RLock()
	targets := make(map[string]network.Stream, len(d.streams))
	for n, s := range d.streams {
		targets[n] = s
	}
	d.mu.RUnlock()

	var g errgroup.Group
	for n, s := range targets {
		n, s := n, s
		g.Go(func() error {
			if err := writeMsg(s, msgPeerLeft, encoded); err != nil {
				return fmt.Errorf("notify %s: %w", n, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Debug("broadcast leave", zap.Error(err))
	}
}

// OnlineCount returns the number of peers currently registered.
func (d *Directory) OnlineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.online)
}

// RegisterWithDirectory dials a bootstrap directory peer, registers
// under nickname/token, and returns the current peer roster as
// connectable AddrInfo for seeding a Rendezvous's DHT routing table.
// On success the registration stream is left open, so the node stays
// listed in the directory until that stream or h is closed.
func RegisterWithDirectory(ctx context.Context, h host.Host, directory peer.AddrInfo, nickname, token string) ([]peer.AddrInfo, error) {
	if err := h.Connect(ctx, directory); err != nil {
		return nil, fmt.Errorf("connect to bootstrap directory: %w", err)
	}
	s, err := h.NewStream(ctx, directory.ID, BootstrapProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open bootstrap stream: %w", err)
	}
	registered := false
	defer func() {
		if !registered {
			s.Close()
		}
	}()

	if err := writeMsg(s, msgRegister, encodeRegister(&bootstrapRegister{Nickname: nickname, Token: token})); err != nil {
		return nil, err
	}

	typ, payload, err := readMsg(s)
	if err != nil {
		return nil, err
	}
	if typ == msgRegisterFail {
		fail := decodeRegisterFail(payload)
		return nil, fmt.Errorf("bootstrap directory rejected registration: %s", fail.Reason)
	}
	if typ != msgRegisterOK {
		return nil, fmt.Errorf("unexpected bootstrap reply type %d", typ)
	}

	typ, payload, err = readMsg(s)
	if err != nil {
		return nil, err
	}
	if typ != msgPeerList {
		return nil, fmt.Errorf("expected peer list, got type %d", typ)
	}
	list, err := decodePeerList(payload)
	if err != nil {
		return nil, err
	}

	infos := make([]peer.AddrInfo, 0, len(list.Peers))
	for _, p := range list.Peers {
		infos = append(infos, peer.AddrInfo{ID: p.PeerID, Addrs: p.Addrs})
	}
	registered = true
	return infos, nil
}
