package cmcp

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// MemTransport is an in-process pub/sub bus. It requires no native
// dependency and backs every unit test plus the cmcp-demo CLI's default
// mode; TransportZMQ and TransportWS are the real, networked backends.
// Addresses are opaque bus names: "tcp://..." strings work as well as
// plain names since MemTransport never dials a socket.
type MemTransport struct {
	mu    sync.Mutex
	buses map[string]*memBus
}

// NewMemTransport returns a Transport with no buses yet created; buses are
// created lazily on first OpenPub/OpenSub for a given address.
func NewMemTransport() *MemTransport {
	return &MemTransport{buses: make(map[string]*memBus)}
}

func (t *MemTransport) bus(addr string) *memBus {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buses[addr]
	if !ok {
		b = &memBus{}
		t.buses[addr] = b
	}
	return b
}

// OpenPub returns a publish endpoint for addr. Role is accepted for
// interface conformance; MemTransport has no bind/connect distinction.
func (t *MemTransport) OpenPub(addr string, _ Role) (PubEndpoint, error) {
	return &memPub{bus: t.bus(addr)}, nil
}

// OpenSub returns a subscribe endpoint for addr, registered with the bus
// immediately (subscriptions are filtered client-side via Subscribe).
func (t *MemTransport) OpenSub(addr string, _ Role) (SubEndpoint, error) {
	s := &memSub{
		ch:      make(chan []byte, 64),
		topics:  make(map[nodeid.ID]bool),
		timeout: 0,
	}
	t.bus(addr).register(s)
	return s, nil
}

// memBus fans out published buffers to every subscriber whose topic
// filter matches the first two bytes of the buffer.
type memBus struct {
	mu   sync.Mutex
	subs []*memSub
}

func (b *memBus) register(s *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *memBus) publish(buf []byte) {
	if len(buf) < 2 {
		return
	}
	topic := nodeid.ID(binary.LittleEndian.Uint16(buf[0:2]))

	b.mu.Lock()
	subs := make([]*memSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if !s.matches(topic) {
			continue
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		select {
		case s.ch <- cp:
		default:
			// best-effort delivery: a full subscriber channel drops the message
		}
	}
}

type memPub struct {
	bus *memBus
}

func (p *memPub) Send(buf []byte) error {
	p.bus.publish(buf)
	return nil
}

func (p *memPub) Close() error { return nil }

type memSub struct {
	ch      chan []byte
	mu      sync.Mutex
	topics  map[nodeid.ID]bool
	timeout time.Duration
}

func (s *memSub) matches(topic nodeid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

func (s *memSub) SetRecvTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	return nil
}

func (s *memSub) Subscribe(topic nodeid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
	return nil
}

func (s *memSub) Unsubscribe(topic nodeid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	return nil
}

func (s *memSub) Receive() ([]byte, error) {
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()

	if timeout <= 0 {
		return <-s.ch, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case buf := <-s.ch:
		return buf, nil
	case <-timer.C:
		return nil, ErrRecvTimeout
	}
}

func (s *memSub) Close() error { return nil }
