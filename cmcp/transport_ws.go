package cmcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// TransportWS is a Transport backed by a single-hub websocket relay per
// address (github.com/coder/websocket). Unlike ZeroMQ's SUB socket, a
// plain websocket frame carries no native subscription filter, so
// TransportWS matches the two-byte topic prefix on the receiving side
// after each frame arrives.
//
// A bound address ("pub" side) is an HTTP server broadcasting every frame
// passed to PubEndpoint.Send to all connected peers. A bound address ("sub"
// side) is an HTTP server collecting frames written by connecting peers
// into one local queue. Connect dials the peer's bound address as a
// websocket client.
type TransportWS struct{}

// NewTransportWS returns a websocket-relay Transport.
func NewTransportWS() *TransportWS { return &TransportWS{} }

func (t *TransportWS) OpenPub(addr string, role Role) (PubEndpoint, error) {
	if role == Bind {
		return newWSBroadcastHub(addr)
	}
	return dialWSPub(addr)
}

func (t *TransportWS) OpenSub(addr string, role Role) (SubEndpoint, error) {
	if role == Bind {
		return newWSCollectHub(addr)
	}
	return dialWSSub(addr)
}

// wsBroadcastHub is a Bind-role PubEndpoint: an HTTP server that keeps a
// registry of connected peers and fans Send out to all of them.
type wsBroadcastHub struct {
	ln   net.Listener
	srv  *http.Server
	mu   sync.Mutex
	conn map[*websocket.Conn]struct{}
}

func newWSBroadcastHub(addr string) (*wsBroadcastHub, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	h := &wsBroadcastHub{ln: ln, conn: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handle)
	h.srv = &http.Server{Handler: mux}

	go h.srv.Serve(ln)
	return h, nil
}

func (h *wsBroadcastHub) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.conn[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conn, c)
		h.mu.Unlock()
		c.CloseNow()
	}()

	// Drain any (unused) frames the peer sends on this channel so the
	// connection does not dead-lock on a full read buffer.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *wsBroadcastHub) Send(buf []byte) error {
	h.mu.Lock()
	peers := make([]*websocket.Conn, 0, len(h.conn))
	for c := range h.conn {
		peers = append(peers, c)
	}
	h.mu.Unlock()

	for _, c := range peers {
		_ = c.Write(context.Background(), websocket.MessageBinary, buf)
	}
	return nil
}

func (h *wsBroadcastHub) Close() error {
	h.srv.Close()
	return h.ln.Close()
}

// wsCollectHub is a Bind-role SubEndpoint: an HTTP server that appends
// every frame written by a connecting peer to one local queue.
type wsCollectHub struct {
	ln      net.Listener
	srv     *http.Server
	ch      chan []byte
	mu      sync.Mutex
	topics  map[nodeid.ID]bool
	timeout time.Duration
}

func newWSCollectHub(addr string) (*wsCollectHub, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	h := &wsCollectHub{ln: ln, ch: make(chan []byte, 64), topics: make(map[nodeid.ID]bool)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handle)
	h.srv = &http.Server{Handler: mux}

	go h.srv.Serve(ln)
	return h, nil
}

func (h *wsCollectHub) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	for {
		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		select {
		case h.ch <- data:
		default:
		}
	}
}

func (h *wsCollectHub) matches(topic nodeid.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topics[topic]
}

func (h *wsCollectHub) SetRecvTimeout(d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = d
	return nil
}

func (h *wsCollectHub) Subscribe(topic nodeid.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics[topic] = true
	return nil
}

func (h *wsCollectHub) Unsubscribe(topic nodeid.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics, topic)
	return nil
}

func (h *wsCollectHub) Receive() ([]byte, error) {
	h.mu.Lock()
	timeout := h.timeout
	h.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		var remaining time.Duration
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrRecvTimeout
			}
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if timeout > 0 {
			timer = time.NewTimer(remaining)
			timerC = timer.C
		}

		select {
		case buf := <-h.ch:
			if timer != nil {
				timer.Stop()
			}
			if len(buf) < 2 || !h.matches(nodeid.ID(binary.LittleEndian.Uint16(buf[0:2]))) {
				continue
			}
			return buf, nil
		case <-timerC:
			return nil, ErrRecvTimeout
		}
	}
}

func (h *wsCollectHub) Close() error {
	h.srv.Close()
	return h.ln.Close()
}

// wsPubConn is a Connect-role PubEndpoint: a single dialed websocket
// connection peers write frames to.
type wsPubConn struct {
	conn *websocket.Conn
}

func dialWSPub(addr string) (*wsPubConn, error) {
	c, _, err := websocket.Dial(context.Background(), "ws://"+addr+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &wsPubConn{conn: c}, nil
}

func (p *wsPubConn) Send(buf []byte) error {
	return p.conn.Write(context.Background(), websocket.MessageBinary, buf)
}

func (p *wsPubConn) Close() error {
	return p.conn.CloseNow()
}

// wsSubConn is a Connect-role SubEndpoint: a single dialed websocket
// connection this node reads broadcast frames from.
type wsSubConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	topics  map[nodeid.ID]bool
	timeout time.Duration
}

func dialWSSub(addr string) (*wsSubConn, error) {
	c, _, err := websocket.Dial(context.Background(), "ws://"+addr+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &wsSubConn{conn: c, topics: make(map[nodeid.ID]bool)}, nil
}

func (s *wsSubConn) matches(topic nodeid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

func (s *wsSubConn) SetRecvTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	return nil
}

func (s *wsSubConn) Subscribe(topic nodeid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
	return nil
}

func (s *wsSubConn) Unsubscribe(topic nodeid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	return nil
}

func (s *wsSubConn) Receive() ([]byte, error) {
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrRecvTimeout
			}
			return nil, fmt.Errorf("ws read: %w", err)
		}
		if len(data) < 2 || !s.matches(nodeid.ID(binary.LittleEndian.Uint16(data[0:2]))) {
			continue
		}
		return data, nil
	}
}

func (s *wsSubConn) Close() error {
	return s.conn.CloseNow()
}
