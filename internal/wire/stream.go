package wire

import (
	"io"
	"time"
)

// Stream is the bidirectional byte channel the protocol engine runs
// over (spec.md §4.E): a plain TCP net.Conn and a libp2p
// network.Stream both satisfy it, so internal/swarm can hand either
// to a Listener/Dialer without this package importing libp2p.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}
