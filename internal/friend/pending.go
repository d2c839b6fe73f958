package friend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/wopr-network/wopr-core/internal/store"
)

const (
	bucketPending  = "friend-pending"  // incoming requests awaiting a decision
	bucketOutgoing = "friend-outgoing" // requests this node sent, awaiting an accept
)

// ErrNotFound is returned when a lookup by From/requestSig misses.
var ErrNotFound = errors.New("friend: not found")

// Store holds pending-incoming friend requests and this node's own
// sent-but-unanswered requests, both durable per spec.md §6.
type Store struct {
	mu sync.Mutex
	kv store.KV
}

func New(kv store.KV) *Store {
	return &Store{kv: kv}
}

// AddPending records an incoming request, keyed by its From name. A
// second request from the same name overwrites the first.
func (s *Store) AddPending(r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "friend: encode pending request")
	}
	return s.kv.Put(bucketPending, r.From, data)
}

// ListPending returns every incoming request awaiting a decision.
func (s *Store) ListPending() ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.All(bucketPending)
	if err != nil {
		return nil, errors.Wrap(err, "friend: list pending")
	}
	out := make([]*Request, 0, len(raw))
	for k, v := range raw {
		var r Request
		if err := json.Unmarshal(v, &r); err != nil {
			return nil, errors.Wrapf(err, "friend: decode pending %q", k)
		}
		out = append(out, &r)
	}
	return out, nil
}

// RemovePending drops a pending incoming request once it has been
// accepted or rejected.
func (s *Store) RemovePending(from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(bucketPending, from)
}

// AddOutgoing remembers a request this node sent, so a later
// FRIEND_ACCEPT can be matched back to it by requestSig.
func (s *Store) AddOutgoing(r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "friend: encode outgoing request")
	}
	return s.kv.Put(bucketOutgoing, sigKey(r.Sig), data)
}

// MatchAccept finds the outgoing request a's requestSig answers.
func (s *Store) MatchAccept(a *Accept) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.kv.Get(bucketOutgoing, sigKey(a.RequestSig))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "friend: match accept")
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "friend: decode outgoing request")
	}
	return &r, nil
}

// ClearOutgoing drops the remembered outgoing request once its accept
// has been consumed.
func (s *Store) ClearOutgoing(sig []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(bucketOutgoing, sigKey(sig))
}

func sigKey(sig []byte) string { return base64.StdEncoding.EncodeToString(sig) }

// MatchesAutoAccept reports whether name matches any auto-accept
// pattern: an exact username, the wildcard "*", or a pipe-delimited
// alternation "a|b|c".
func MatchesAutoAccept(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		for _, alt := range strings.Split(p, "|") {
			if alt == name {
				return true
			}
		}
	}
	return false
}

// SessionNameFor derives the deterministic session name a newly
// accepted friend is granted: friend:p2p:<name>(<first-6-hex-of-signPub>).
func SessionNameFor(name string, signPub []byte) string {
	n := signPub
	if len(n) > 3 {
		n = n[:3]
	}
	return fmt.Sprintf("friend:p2p:%s(%x)", name, n)
}

// DefaultCaps is the initial capability set granted to a newly
// accepted friend, per spec.md §4.F.
var DefaultCaps = []string{"message"}
