//go:build zmq

package cmcp

import (
	"fmt"
	"time"

	czmq "github.com/zeromq/goczmq"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// TransportZMQ is a Transport backed by ZeroMQ PUB/SUB sockets via
// github.com/zeromq/goczmq. A SUB socket's subscription is a native
// byte-prefix filter over the raw message, which matches the node's
// two-byte topic prefix directly.
//
// It is built behind the "zmq" tag: libzmq must be present on the build
// host, so the pure Go default build does not pull it in.
type TransportZMQ struct{}

// NewTransportZMQ returns a ZeroMQ-backed Transport.
func NewTransportZMQ() *TransportZMQ { return &TransportZMQ{} }

func (t *TransportZMQ) OpenPub(addr string, role Role) (PubEndpoint, error) {
	sock, err := czmq.NewSock(czmq.Pub)
	if err != nil {
		return nil, fmt.Errorf("new pub socket: %w", err)
	}
	if err := bindOrConnect(sock, addr, role); err != nil {
		sock.Destroy()
		return nil, err
	}
	return &zmqPub{sock: sock}, nil
}

func (t *TransportZMQ) OpenSub(addr string, role Role) (SubEndpoint, error) {
	sock, err := czmq.NewSock(czmq.Sub)
	if err != nil {
		return nil, fmt.Errorf("new sub socket: %w", err)
	}
	if err := bindOrConnect(sock, addr, role); err != nil {
		sock.Destroy()
		return nil, err
	}
	return &zmqSub{sock: sock}, nil
}

func bindOrConnect(sock *czmq.Sock, addr string, role Role) error {
	if role == Bind {
		if _, err := sock.Bind(addr); err != nil {
			return fmt.Errorf("bind %s: %w", addr, err)
		}
		return nil
	}
	if err := sock.Connect(addr); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	return nil
}

type zmqPub struct {
	sock *czmq.Sock
}

func (p *zmqPub) Send(buf []byte) error {
	if err := p.sock.SendFrame(buf, czmq.FlagNone); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (p *zmqPub) Close() error {
	p.sock.Destroy()
	return nil
}

// zmqSub wraps a ZeroMQ SUB socket. Subscribe/Unsubscribe use the SUB
// socket's native prefix filter: a subscribed two-byte prefix matches
// exactly the wire layout of Message.Topic, so no client-side filtering is
// needed, unlike TransportWS.
type zmqSub struct {
	sock    *czmq.Sock
	timeout time.Duration
}

func (s *zmqSub) SetRecvTimeout(d time.Duration) error {
	s.timeout = d
	return nil
}

func (s *zmqSub) Subscribe(topic nodeid.ID) error {
	s.sock.SetSubscribe(string(topicPrefix(topic)))
	return nil
}

func (s *zmqSub) Unsubscribe(topic nodeid.ID) error {
	s.sock.SetUnsubscribe(string(topicPrefix(topic)))
	return nil
}

func (s *zmqSub) Receive() ([]byte, error) {
	poller, err := czmq.NewPoller(s.sock)
	if err != nil {
		return nil, fmt.Errorf("%w: new poller: %v", ErrTransport, err)
	}
	defer poller.Destroy()

	timeoutMs := int(s.timeout / time.Millisecond)
	ready, err := poller.Wait(timeoutMs)
	if err != nil {
		return nil, fmt.Errorf("%w: poll: %v", ErrTransport, err)
	}
	if ready == nil {
		return nil, ErrRecvTimeout
	}

	frame, _, err := ready.RecvFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: recv: %v", ErrTransport, err)
	}
	return frame, nil
}

func (s *zmqSub) Close() error {
	s.sock.Destroy()
	return nil
}

// topicPrefix renders a topic as its two little-endian wire bytes, the
// prefix ZeroMQ's SUB filter matches against.
func topicPrefix(topic nodeid.ID) []byte {
	return []byte{byte(topic), byte(topic >> 8)}
}
