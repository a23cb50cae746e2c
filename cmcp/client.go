package cmcp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// Client connection states. These track the handshake with the server,
// not the Node lifecycle states in node.go: a Client can be StateRunning
// at the Node level while still Disconnected here, waiting for its first
// server heartbeat.
const (
	Disconnected = iota
	TryingToConnect
	HeartbeatReceived
	Connected
)

type clientConfig struct {
	transport         Transport
	logger            *slog.Logger
	heartbeatInterval time.Duration
	connectionTimeout time.Duration
	rand              *rand.Rand

	onMessage func(command Command, params *DataList)
}

// ClientOption configures a Client at construction.
type ClientOption func(*clientConfig)

// WithClientTransport selects the Transport Client.Connect opens endpoints on.
func WithClientTransport(t Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// WithClientHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithClientHeartbeatInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.heartbeatInterval = d }
}

// WithClientConnectionTimeout overrides DefaultConnectionTimeout as the
// period without hearing from the server after which it is presumed lost.
func WithClientConnectionTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.connectionTimeout = d }
}

// WithClientRandSource overrides the PRNG used for nonce and id generation.
func WithClientRandSource(r *rand.Rand) ClientOption {
	return func(c *clientConfig) { c.rand = r }
}

// WithClientOnMessage sets the callback invoked for a DATA message
// received while Connected.
func WithClientOnMessage(fn func(command Command, params *DataList)) ClientOption {
	return func(c *clientConfig) { c.onMessage = fn }
}

// Client is a Node that discovers a server via its heartbeat broadcast,
// announces itself with a nonce, and tracks the server's liveness.
//
// connState and everything it guards (serverID, nonce, livenessDeadline)
// are written only from the reception goroutine; the application reads
// State and writes only via Connect/Send/Close, matching Node's own
// single-writer discipline.
type Client struct {
	node *Node

	connState *StateCell

	serverID         nodeid.ID
	nonce            []byte
	livenessDeadline time.Time

	connectionTimeout time.Duration
	randSrc           *rand.Rand

	onMessage func(command Command, params *DataList)

	logger *slog.Logger

	mu sync.Mutex // guards serverID for the benefit of Send, called from the application goroutine
}

// NewClient constructs a Client. Its Node is created with class Client.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		transport:         NewMemTransport(),
		logger:            slog.Default(),
		heartbeatInterval: DefaultHeartbeatInterval,
		connectionTimeout: DefaultConnectionTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		connState:         NewStateCell(Disconnected),
		serverID:          nodeid.ServerBroadcast,
		connectionTimeout: cfg.connectionTimeout,
		randSrc:           cfg.rand,
		onMessage:         cfg.onMessage,
		logger:            cfg.logger,
	}

	node, err := NewNode(nodeid.Client, c.handleMessage, c.handleRegular,
		WithTransport(cfg.transport),
		WithLogger(cfg.logger),
		WithHeartbeatInterval(cfg.heartbeatInterval),
		WithRandSource(cfg.rand),
	)
	if err != nil {
		return nil, err
	}
	c.node = node

	return c, nil
}

// ID returns the client's node id.
func (c *Client) ID() nodeid.ID { return c.node.ID() }

// State returns the client's connection state: one of Disconnected,
// TryingToConnect, HeartbeatReceived, Connected.
func (c *Client) State() int { return c.connState.Get() }

// Connect opens the transport endpoints, starts the reception goroutine,
// and blocks until the handshake with a server reaches Connected or
// timeout elapses. It may be called again after the connection is lost
// (liveness timeout or server NACK): the endpoints stay open across
// attempts, and the call re-arms the handshake gate so the next server
// heartbeat restarts it.
func (c *Client) Connect(pubAddr, subAddr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if c.node.State() == StateUninitialized {
		if err := c.node.Connect(pubAddr, subAddr); err != nil {
			return err
		}
	}

	c.connState.CompareAndSet(Disconnected, TryingToConnect)

	if c.node.State() == StateInitialized {
		if err := c.node.Start(); err != nil {
			return err
		}
	}

	c.connState.Lock()
	result := c.connState.AwaitState(Connected, deadline)
	c.connState.Unlock()

	if result == DeadlineReached {
		return fmt.Errorf("cmcp: connect: %w: handshake did not complete", ErrNotConnected)
	}
	return nil
}

// Close sends a final CLIENT_DISCONNECT to the server if connected, then
// stops the reception goroutine and releases the transport endpoints.
func (c *Client) Close() error {
	if c.connState.Get() == Connected {
		_ = c.node.BuildAndSend(Control, c.currentServerID(), c.ID(), ClientDisconnect, nil)
	}
	return c.node.Close()
}

// Send publishes a DATA message to the server. Requires Connected.
//
// The topic is the client's own id, not the server's: the server
// subscribes to every registered client's id (see register in server.go)
// and receives the message there, rather than the client addressing the
// server's own id channel.
func (c *Client) Send(command Command, params *DataList) error {
	if c.connState.Get() != Connected {
		return fmt.Errorf("cmcp: send: %w", ErrNotConnected)
	}
	return c.node.BuildAndSend(Data, c.ID(), c.ID(), command, params)
}

// handleRegular checks the liveness deadline. It runs on the reception
// goroutine only, and acts only once the handshake has completed: until
// Connected there is no deadline to enforce, and the handshake itself is
// bounded by Connect's own deadline instead.
func (c *Client) handleRegular() {
	if c.connState.Get() != Connected {
		return
	}
	if time.Now().After(c.livenessDeadline) {
		c.logger.Info("server presumed lost", "server_id", c.serverID)
		c.mu.Lock()
		c.serverID = nodeid.ServerBroadcast
		c.mu.Unlock()
		c.connState.Set(Disconnected)
	}
}

// handleMessage drives the handshake and liveness state machine over
// incoming server traffic.
func (c *Client) handleMessage(msg *Message) {
	if msg.Sender.Class() != nodeid.Server {
		return
	}

	// Any traffic from the connected server counts as liveness, heartbeat
	// or not.
	if c.connState.Get() == Connected && msg.Sender == c.currentServerID() {
		c.livenessDeadline = time.Now().Add(c.connectionTimeout)
	}

	switch msg.Type {
	case Control:
		c.handleControl(msg)
	case Data:
		c.handleData(msg)
	}
}

func (c *Client) handleControl(msg *Message) {
	switch msg.Command {
	case ServerHeartbeat:
		c.handleHeartbeat(msg)
	case ServerAckClient:
		c.handleAck(msg)
	case ServerNackClient:
		c.handleNack(msg)
	}
}

func (c *Client) handleHeartbeat(msg *Message) {
	// The handshake starts only from TryingToConnect, the gate Connect
	// sets when the application asks to (re)connect. Any other state,
	// including Disconnected, drops the heartbeat: a client that has lost
	// its server stays lost until the application calls Connect again.
	if c.connState.Get() != TryingToConnect {
		return
	}

	c.mu.Lock()
	c.serverID = msg.Sender
	c.mu.Unlock()

	c.connState.Set(HeartbeatReceived)
	c.sendAnnounce(msg.Sender)
}

func (c *Client) currentServerID() nodeid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

func (c *Client) sendAnnounce(serverID nodeid.ID) {
	nonce := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonce, c.randSrc64())
	c.nonce = nonce

	params := NewDataList()
	params.Add(ParamNonce, nonce)
	if err := c.node.BuildAndSend(Control, serverID, c.ID(), ClientAnnounce, params); err != nil {
		c.logger.Error("announce send failed", "server_id", serverID, "err", err)
	}
}

func (c *Client) randSrc64() uint64 {
	if c.randSrc != nil {
		return c.randSrc.Uint64()
	}
	return rand.Uint64()
}

func (c *Client) handleAck(msg *Message) {
	if c.connState.Get() != HeartbeatReceived {
		return
	}
	if msg.Sender != c.currentServerID() {
		return
	}
	nonce, err := msg.Params.Find(ParamNonce, 8)
	if err != nil || !bytes.Equal(nonce, c.nonce) {
		return
	}
	c.livenessDeadline = time.Now().Add(c.connectionTimeout)
	c.connState.Set(Connected)
	c.logger.Info("connected", "server_id", msg.Sender)
}

func (c *Client) handleNack(msg *Message) {
	if c.connState.Get() != HeartbeatReceived {
		return
	}
	if msg.Sender != c.currentServerID() {
		return
	}
	nonce, err := msg.Params.Find(ParamNonce, 8)
	if err != nil || !bytes.Equal(nonce, c.nonce) {
		return
	}

	// The server has rejected this id; future attempts must use a new one.
	// Move the receive filter to the fresh id, go back to Disconnected, and
	// stay there; no automatic retry. The application restarts the
	// handshake by calling Connect again.
	oldID := c.ID()
	_ = c.node.Unsubscribe(oldID)
	newID := c.node.GenerateID()
	if err := c.node.Subscribe(newID); err != nil {
		c.logger.Error("subscribe to regenerated id failed", "new_id", newID, "err", err)
	}

	c.mu.Lock()
	c.serverID = nodeid.ServerBroadcast
	c.mu.Unlock()
	c.connState.Set(Disconnected)
	c.logger.Info("rejected by server, drew new id", "server_id", msg.Sender, "new_id", newID)
}

func (c *Client) handleData(msg *Message) {
	if c.connState.Get() != Connected {
		return
	}
	if msg.Topic != c.ID() {
		return
	}
	if msg.Sender != c.currentServerID() {
		return
	}
	if c.onMessage != nil {
		c.onMessage(msg.Command, msg.Params)
	}
}
