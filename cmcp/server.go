package cmcp

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// DefaultConnectionTimeout is the period without receiving from a peer
// after which it is considered lost.
const DefaultConnectionTimeout = 10 * time.Second

// DefaultMaxPeers is the reference bound on the server's client registry.
const DefaultMaxPeers = 64

// clientRecord is a Server registry entry.
type clientRecord struct {
	id          nodeid.ID
	nextTimeout time.Time
}

type serverConfig struct {
	transport         Transport
	logger            *slog.Logger
	heartbeatInterval time.Duration
	connectionTimeout time.Duration
	maxPeers          int
	rand              *rand.Rand

	onAnnouncement func(clientID nodeid.ID) bool
	onDisconnect   func(clientID nodeid.ID)
	onMessage      func(clientID nodeid.ID, command Command, params *DataList)
}

// ServerOption configures a Server at construction.
type ServerOption func(*serverConfig)

// WithServerTransport selects the Transport Server.Bind opens endpoints on.
func WithServerTransport(t Transport) ServerOption {
	return func(c *serverConfig) { c.transport = t }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithServerHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithServerHeartbeatInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.heartbeatInterval = d }
}

// WithConnectionTimeout overrides DefaultConnectionTimeout.
func WithConnectionTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.connectionTimeout = d }
}

// WithMaxPeers overrides DefaultMaxPeers.
func WithMaxPeers(n int) ServerOption {
	return func(c *serverConfig) { c.maxPeers = n }
}

// WithOnAnnouncement sets the callback invoked when a client announces
// itself. Returning true accepts the client; false rejects it.
func WithOnAnnouncement(fn func(clientID nodeid.ID) bool) ServerOption {
	return func(c *serverConfig) { c.onAnnouncement = fn }
}

// WithOnDisconnect sets the callback invoked when a client is removed from
// the registry, whether by explicit disconnect or timeout.
func WithOnDisconnect(fn func(clientID nodeid.ID)) ServerOption {
	return func(c *serverConfig) { c.onDisconnect = fn }
}

// WithOnMessage sets the callback invoked for a DATA message from a
// registered client.
func WithOnMessage(fn func(clientID nodeid.ID, command Command, params *DataList)) ServerOption {
	return func(c *serverConfig) { c.onMessage = fn }
}

// Server is a Node with a client registry, an announcement handshake
// responder, and per-client timeout tracking.
//
// The registry is read and written only from the reception goroutine (all
// of register/deregister/handleRegular run there); application code must
// treat it as owned by that goroutine and reach it only through Send,
// which never touches it.
type Server struct {
	node *Node

	registry []clientRecord

	connectionTimeout time.Duration
	maxPeers          int

	onAnnouncement func(clientID nodeid.ID) bool
	onDisconnect   func(clientID nodeid.ID)
	onMessage      func(clientID nodeid.ID, command Command, params *DataList)

	logger *slog.Logger
}

// NewServer constructs a Server. Its Node is created with class Server.
func NewServer(opts ...ServerOption) (*Server, error) {
	cfg := serverConfig{
		transport:         NewMemTransport(),
		logger:            slog.Default(),
		heartbeatInterval: DefaultHeartbeatInterval,
		connectionTimeout: DefaultConnectionTimeout,
		maxPeers:          DefaultMaxPeers,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		connectionTimeout: cfg.connectionTimeout,
		maxPeers:          cfg.maxPeers,
		onAnnouncement:    cfg.onAnnouncement,
		onDisconnect:      cfg.onDisconnect,
		onMessage:         cfg.onMessage,
		logger:            cfg.logger,
	}

	node, err := NewNode(nodeid.Server, s.handleMessage, s.handleRegular,
		WithTransport(cfg.transport),
		WithLogger(cfg.logger),
		WithHeartbeatInterval(cfg.heartbeatInterval),
		WithRandSource(cfg.rand),
	)
	if err != nil {
		return nil, err
	}
	s.node = node

	return s, nil
}

// ID returns the server's node id.
func (s *Server) ID() nodeid.ID { return s.node.ID() }

// Bind opens the transport endpoints and starts the reception goroutine:
// Node.Connect followed by Node.Start.
func (s *Server) Bind(pubAddr, subAddr string) error {
	if err := s.node.Connect(pubAddr, subAddr); err != nil {
		return err
	}
	return s.node.Start()
}

// Close stops the reception goroutine and releases the transport endpoints.
func (s *Server) Close() error {
	return s.node.Close()
}

// Send publishes a DATA message to clientID. It does not consult the
// registry; the caller is responsible for having learned clientID from a
// prior on_message/on_announcement callback.
func (s *Server) Send(clientID nodeid.ID, command Command, params *DataList) error {
	return s.node.BuildAndSend(Data, clientID, s.ID(), command, params)
}

// handleRegular scans the registry for expired clients and deregisters
// them. It runs on the reception goroutine only.
func (s *Server) handleRegular() {
	now := time.Now()

	var expired []nodeid.ID
	for _, rec := range s.registry {
		if now.After(rec.nextTimeout) {
			expired = append(expired, rec.id)
		}
	}
	for _, id := range expired {
		s.deregister(id)
	}
}

// handleMessage validates incoming client traffic, refreshes the sender's
// deadline, and routes control and data messages.
func (s *Server) handleMessage(msg *Message) {
	if msg.Sender.Class() != nodeid.Client {
		return // server-to-server is out of scope
	}

	if idx := s.indexOf(msg.Sender); idx >= 0 {
		s.registry[idx].nextTimeout = time.Now().Add(s.connectionTimeout)
	}

	switch msg.Type {
	case Control:
		s.handleControl(msg)
	case Data:
		s.handleData(msg)
	}
}

func (s *Server) handleControl(msg *Message) {
	if msg.Topic != nodeid.ServerBroadcast && msg.Topic != s.ID() {
		return
	}

	switch msg.Command {
	case ClientAnnounce:
		nonce, err := msg.Params.Find(ParamNonce, 8)
		if err != nil {
			return
		}
		s.register(msg.Sender, nonce)

	case ClientDisconnect:
		s.deregister(msg.Sender)
	}
}

func (s *Server) handleData(msg *Message) {
	if msg.Topic != nodeid.ServerBroadcast && msg.Topic.Class() != nodeid.Client {
		return
	}
	if s.indexOf(msg.Sender) < 0 {
		return
	}
	if s.onMessage != nil {
		s.onMessage(msg.Sender, msg.Command, msg.Params)
	}
}

func (s *Server) indexOf(clientID nodeid.ID) int {
	for i, rec := range s.registry {
		if rec.id == clientID {
			return i
		}
	}
	return -1
}

// register answers a client announcement: it admits the client to the
// registry and ACKs, or NACKs when the id is taken, the registry is full,
// or the application rejects. Either reply echoes the announce nonce so
// the client can correlate.
func (s *Server) register(clientID nodeid.ID, nonce []byte) {
	accept := false

	switch {
	case s.indexOf(clientID) >= 0:
		accept = false
	case len(s.registry) >= s.maxPeers:
		accept = false
	case s.onAnnouncement != nil:
		accept = s.onAnnouncement(clientID)
	default:
		accept = true
	}

	command := ServerNackClient
	if accept {
		s.registry = append(s.registry, clientRecord{
			id:          clientID,
			nextTimeout: time.Now().Add(s.connectionTimeout),
		})
		if err := s.node.Subscribe(clientID); err != nil {
			s.logger.Error("subscribe to new client failed", "client_id", clientID, "err", err)
		}
		command = ServerAckClient
	}

	params := NewDataList()
	params.Add(ParamNonce, nonce)
	if err := s.node.BuildAndSend(Control, clientID, s.ID(), command, params); err != nil {
		s.logger.Error("announcement reply failed", "client_id", clientID, "err", err)
	}

	s.logger.Info("client announcement", "client_id", clientID, "accepted", accept)
}

// deregister swap-removes the client from the registry, unsubscribes its
// topic, and notifies the application.
func (s *Server) deregister(clientID nodeid.ID) {
	idx := s.indexOf(clientID)
	if idx < 0 {
		return
	}

	last := len(s.registry) - 1
	s.registry[idx] = s.registry[last]
	s.registry = s.registry[:last]

	if err := s.node.Unsubscribe(clientID); err != nil {
		s.logger.Error("unsubscribe from client failed", "client_id", clientID, "err", err)
	}

	if s.onDisconnect != nil {
		s.onDisconnect(clientID)
	}

	s.logger.Info("client deregistered", "client_id", clientID)
}

