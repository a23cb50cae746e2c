package cmcp

import (
	"errors"
	"time"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// Role selects whether an endpoint binds (listens) or connects (dials) an
// address.
type Role int

const (
	Bind Role = iota
	Connect
)

// ErrRecvTimeout is returned by SubEndpoint.Receive when no datagram
// arrives before the endpoint's receive timeout elapses. The reception
// loop treats it as transient and simply continues.
var ErrRecvTimeout = errors.New("cmcp: receive timeout")

// PubEndpoint is a node's publishing side of the transport.
//
// Send transfers ownership of buf to the transport: the caller must not
// read or write buf after Send returns. The garbage collector makes an
// explicit release call unnecessary on the receive side too (see
// SubEndpoint.Receive), so the hand-off rule is documented here rather
// than modeled in the type system.
type PubEndpoint interface {
	Send(buf []byte) error
	Close() error
}

// SubEndpoint is a node's subscribing side of the transport. The filter is
// a fixed-width prefix match on the first two bytes of each datagram,
// which is exactly the wire layout of Message.Topic.
type SubEndpoint interface {
	SetRecvTimeout(d time.Duration) error
	Subscribe(topic nodeid.ID) error
	Unsubscribe(topic nodeid.ID) error
	// Receive blocks for at most the configured receive timeout. On
	// timeout it returns ErrRecvTimeout, not a zero-length buffer.
	Receive() ([]byte, error)
	Close() error
}

// Transport opens the publish and subscribe endpoints a Node needs. A
// server binds both addresses; a client connects both.
type Transport interface {
	OpenPub(addr string, role Role) (PubEndpoint, error)
	OpenSub(addr string, role Role) (SubEndpoint, error)
}
