package trust

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/store"
)

const (
	bucketPeers  = "peers"
	bucketGrants = "grants"

	ed25519PubSize = 32
)

// ErrNotFound is returned by NamePeer/RevokePeer when no matching
// record exists.
var ErrNotFound = errors.New("trust: not found")

// Store is the process-wide trust store. All mutating operations are
// serialized through a single mutex: the spec only requires
// per-record linearizability, but grant/revoke/rotation touch more
// than one record (grant + denormalized peer) so a single lock keeps
// those pairs atomic relative to readers.
type Store struct {
	mu  sync.RWMutex
	kv  store.KV
	now func() time.Time
}

func New(kv store.KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

func (s *Store) loadPeers() (map[string]*Peer, error) {
	raw, err := s.kv.All(bucketPeers)
	if err != nil {
		return nil, errors.Wrap(err, "trust: load peers")
	}
	out := make(map[string]*Peer, len(raw))
	for k, v := range raw {
		var p Peer
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, errors.Wrapf(err, "trust: decode peer %q", k)
		}
		out[k] = &p
	}
	return out, nil
}

func (s *Store) loadGrants() (map[string]*AccessGrant, error) {
	raw, err := s.kv.All(bucketGrants)
	if err != nil {
		return nil, errors.Wrap(err, "trust: load grants")
	}
	out := make(map[string]*AccessGrant, len(raw))
	for k, v := range raw {
		var g AccessGrant
		if err := json.Unmarshal(v, &g); err != nil {
			return nil, errors.Wrapf(err, "trust: decode grant %q", k)
		}
		out[k] = &g
	}
	return out, nil
}

func (s *Store) savePeer(p *Peer) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "trust: encode peer")
	}
	return s.kv.Put(bucketPeers, keyOf(p.SignPub), b)
}

func (s *Store) saveGrant(g *AccessGrant) error {
	b, err := json.Marshal(g)
	if err != nil {
		return errors.Wrap(err, "trust: encode grant")
	}
	return s.kv.Put(bucketGrants, keyOf(g.PeerSignPub), b)
}

// AddPeer upserts a peer record, merging sessions and caps as unions.
func (s *Store) AddPeer(signPub []byte, sessions, caps []string, kxPub []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.findPeer(signPub)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &Peer{
			ID:      identity.ShortID(signPub),
			SignPub: signPub,
			Added:   s.now(),
		}
	}
	existing.Sessions = unionStrings(existing.Sessions, sessions)
	existing.Caps = unionStrings(existing.Caps, caps)
	if len(kxPub) > 0 {
		existing.KxPub = kxPub
	}
	return s.savePeer(existing)
}

func (s *Store) findPeer(signPub []byte) (*Peer, error) {
	raw, err := s.kv.Get(bucketPeers, keyOf(signPub))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "trust: get peer")
	}
	var p Peer
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "trust: decode peer")
	}
	return &p, nil
}

func (s *Store) findGrant(signPub []byte) (*AccessGrant, error) {
	raw, err := s.kv.Get(bucketGrants, keyOf(signPub))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "trust: get grant")
	}
	var g AccessGrant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, errors.Wrap(err, "trust: decode grant")
	}
	return &g, nil
}

// resolveRef accepts either a raw 32-byte Ed25519 public key or, for
// a value of any other length, treats it as a short id or display name and
// resolves it against known peers.
func (s *Store) resolveRef(ref []byte) ([]byte, error) {
	if len(ref) == ed25519PubSize {
		return ref, nil
	}
	peers, err := s.loadPeers()
	if err != nil {
		return nil, err
	}
	idOrName := string(ref)
	for _, p := range peers {
		if p.ID == idOrName || p.DisplayName == idOrName {
			return p.SignPub, nil
		}
	}
	return nil, ErrNotFound
}

// GrantAccess upserts an active grant, merging sessions and caps as
// unions per spec.md's "subsequent grants merge" rule. ref is either a
// raw signing public key or, failing that, resolved as a short id or
// display name against known peers.
func (s *Store) GrantAccess(ref []byte, sessions, caps []string, kxPub []byte) (*AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	signPub, err := s.resolveRef(ref)
	if err != nil {
		return nil, err
	}

	g, err := s.findGrant(signPub)
	if err != nil {
		return nil, err
	}
	if g == nil {
		g = &AccessGrant{
			ID:          identity.ShortID(signPub),
			PeerSignPub: signPub,
			Created:     s.now(),
		}
	}
	g.Sessions = unionStrings(g.Sessions, sessions)
	g.Caps = unionStrings(g.Caps, caps)
	g.Revoked = false
	if len(kxPub) > 0 {
		g.PeerKxPub = kxPub
	}
	if err := s.saveGrant(g); err != nil {
		return nil, err
	}

	p, err := s.findPeer(signPub)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Peer{ID: g.ID, SignPub: signPub, Added: s.now()}
	}
	p.Sessions = unionStrings(p.Sessions, sessions)
	p.Caps = unionStrings(p.Caps, caps)
	if len(kxPub) > 0 {
		p.KxPub = kxPub
	}
	if err := s.savePeer(p); err != nil {
		return nil, err
	}
	return g, nil
}

// NamePeer sets a peer's display name. idOrKey may be a short id or
// a hex-encoded signPub.
func (s *Store) NamePeer(idOrKey string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.loadPeers()
	if err != nil {
		return err
	}
	for _, p := range peers {
		if p.ID == idOrKey || keyOf(p.SignPub) == idOrKey {
			p.DisplayName = name
			if err := s.savePeer(p); err != nil {
				return err
			}
			if g, err := s.findGrant(p.SignPub); err == nil && g != nil {
				g.PeerDisplayName = name
				return s.saveGrant(g)
			}
			return nil
		}
	}
	return ErrNotFound
}

// RevokePeer marks the matching active grant revoked=true. Fails with
// ErrNotFound if no active grant matches idOrName (a short id,
// display name, or hex-encoded signPub).
func (s *Store) RevokePeer(idOrName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants, err := s.loadGrants()
	if err != nil {
		return err
	}
	peers, err := s.loadPeers()
	if err != nil {
		return err
	}

	for _, g := range grants {
		if g.Revoked {
			continue
		}
		p := peers[keyOf(g.PeerSignPub)]
		matches := keyOf(g.PeerSignPub) == idOrName || g.PeerDisplayName == idOrName ||
			(p != nil && (p.ID == idOrName || p.DisplayName == idOrName))
		if matches {
			g.Revoked = true
			return s.saveGrant(g)
		}
	}
	return ErrNotFound
}

// IsAuthorized implements spec.md 4.B's authorization algorithm.
func (s *Store) IsAuthorized(senderSignPub []byte, session string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants, err := s.loadGrants()
	if err != nil {
		return false, err
	}
	now := s.now()

	if g, ok := grants[keyOf(senderSignPub)]; ok && !g.Revoked {
		if hasSession(g.Sessions, session) && hasAny(g.Caps, CapMessage, CapInject) {
			return true, nil
		}
	}

	for _, g := range grants {
		if g.Revoked {
			continue
		}
		for _, h := range g.KeyHistory {
			if keyOf(h.SignPub) == keyOf(senderSignPub) && h.ValidUntil.After(now) {
				return true, nil
			}
		}
	}
	return false, nil
}

// GrantFor returns the active grant for signPub, or nil if none
// exists. Used to resolve a legacy static peerKxPub for decryption.
func (s *Store) GrantFor(signPub []byte) (*AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findGrant(signPub)
}

// ActiveGrants returns every non-revoked grant, for callers (e.g. a
// key rotation) that need to reach every peer currently authorized
// against this node rather than one peer in particular.
func (s *Store) ActiveGrants() ([]*AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants, err := s.loadGrants()
	if err != nil {
		return nil, err
	}
	out := make([]*AccessGrant, 0, len(grants))
	for _, g := range grants {
		if !g.Revoked {
			out = append(out, g)
		}
	}
	return out, nil
}

// ProcessPeerRotation verifies r and, if valid, rewrites the matching
// active grant's peerSignPub/peerKxPub and appends a key-history
// entry. The grant and peer records move to the new key; the old key
// then authorizes only through that history entry. Returns true iff a
// record was updated.
func (s *Store) ProcessPeerRotation(r *identity.KeyRotation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !identity.VerifyRotation(r) {
		return false, nil
	}

	grants, err := s.loadGrants()
	if err != nil {
		return false, err
	}
	var target *AccessGrant
	for _, g := range grants {
		if !g.Revoked && keyOf(g.PeerSignPub) == keyOf(r.OldSignPub) {
			target = g
			break
		}
	}
	if target == nil {
		return false, nil
	}

	validUntil := r.EffectiveAt.Add(time.Duration(r.GracePeriodMs) * time.Millisecond)
	target.KeyHistory = append(target.KeyHistory, KeyHistoryEntry{
		SignPub:    target.PeerSignPub,
		KxPub:      target.PeerKxPub,
		ValidFrom:  target.Created,
		ValidUntil: validUntil,
		Reason:     string(r.Reason),
	})
	target.PeerSignPub = r.NewSignPub
	target.PeerKxPub = r.NewKxPub
	if err := s.saveGrant(target); err != nil {
		return false, err
	}
	rekeyed := keyOf(r.NewSignPub) != keyOf(r.OldSignPub)
	if rekeyed {
		if err := s.kv.Delete(bucketGrants, keyOf(r.OldSignPub)); err != nil {
			return false, errors.Wrap(err, "trust: drop old-key grant")
		}
	}

	if p, err := s.findPeer(r.OldSignPub); err == nil && p != nil {
		p.KeyHistory = append(p.KeyHistory, KeyHistoryEntry{
			SignPub:    p.SignPub,
			KxPub:      p.KxPub,
			ValidFrom:  target.Created,
			ValidUntil: validUntil,
			Reason:     string(r.Reason),
		})
		p.SignPub = r.NewSignPub
		p.KxPub = r.NewKxPub
		p.ID = identity.ShortID(r.NewSignPub)
		if err := s.savePeer(p); err != nil {
			return false, err
		}
		if rekeyed {
			if err := s.kv.Delete(bucketPeers, keyOf(r.OldSignPub)); err != nil {
				return false, errors.Wrap(err, "trust: drop old-key peer")
			}
		}
	}

	return true, nil
}

// CleanupExpiredHistory drops key-history entries whose ValidUntil has
// elapsed, across every grant and peer record.
func (s *Store) CleanupExpiredHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	grants, err := s.loadGrants()
	if err != nil {
		return err
	}
	for _, g := range grants {
		kept := g.KeyHistory[:0]
		for _, h := range g.KeyHistory {
			if h.ValidUntil.IsZero() || h.ValidUntil.After(now) {
				kept = append(kept, h)
			}
		}
		if len(kept) != len(g.KeyHistory) {
			g.KeyHistory = kept
			if err := s.saveGrant(g); err != nil {
				return err
			}
		}
	}

	peers, err := s.loadPeers()
	if err != nil {
		return err
	}
	for _, p := range peers {
		kept := p.KeyHistory[:0]
		for _, h := range p.KeyHistory {
			if h.ValidUntil.IsZero() || h.ValidUntil.After(now) {
				kept = append(kept, h)
			}
		}
		if len(kept) != len(p.KeyHistory) {
			p.KeyHistory = kept
			if err := s.savePeer(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// AllKeysOf returns signPub plus every historical key on record for
// it, via either its own grant or peer record's key history.
func (s *Store) AllKeysOf(signPub []byte) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := [][]byte{signPub}
	if g, err := s.findGrant(signPub); err == nil && g != nil {
		for _, h := range g.KeyHistory {
			out = append(out, h.SignPub)
		}
	}
	if p, err := s.findPeer(signPub); err == nil && p != nil {
		for _, h := range p.KeyHistory {
			out = append(out, h.SignPub)
		}
	}
	return out, nil
}
