// Package cmcp implements the Client/Messaging Communication Protocol: a
// lightweight, topic-filtered publish/subscribe layer with heartbeat
// discovery, a nonce-based handshake, and framed command messages.
//
// Node is the engine shared by Server and Client: it owns the transport
// endpoints, the reception goroutine, heartbeat emission, and
// subscriptions. Server and Client each wrap a Node and supply their own
// dispatch functions as its message/regular callbacks.
package cmcp

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// Node lifecycle states. Only the transitions documented on each method
// are legal; StateCell enforces none of this itself, it is just a number
// with a condition variable attached.
const (
	StateUninitialized = iota
	StateInitialized
	StateStarting
	StateRunning
	StateStopping
)

// DefaultHeartbeatInterval is the heartbeat period and the receive
// timeout for a node's subscribe endpoint.
const DefaultHeartbeatInterval = 500 * time.Millisecond

// MessageCallback is invoked from the reception goroutine for every
// dispatched message. No two invocations for the same Node overlap.
type MessageCallback func(*Message)

// RegularCallback is invoked once per reception loop iteration, before the
// blocking receive. Server uses it to scan client deadlines; Client uses
// it to check its own liveness deadline.
type RegularCallback func()

type nodeConfig struct {
	transport         Transport
	logger            *slog.Logger
	heartbeatInterval time.Duration
	rand              *rand.Rand
}

// NodeOption configures a Node at construction.
type NodeOption func(*nodeConfig)

// WithTransport selects the Transport a Node's Connect opens endpoints on.
// Defaults to NewMemTransport().
func WithTransport(t Transport) NodeOption {
	return func(c *nodeConfig) { c.transport = t }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) NodeOption {
	return func(c *nodeConfig) { c.logger = l }
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) NodeOption {
	return func(c *nodeConfig) { c.heartbeatInterval = d }
}

// WithRandSource overrides the PRNG used for id generation. Defaults to a
// process-global source.
func WithRandSource(r *rand.Rand) NodeOption {
	return func(c *nodeConfig) { c.rand = r }
}

// Node is the transport lifecycle, reception goroutine, heartbeat emitter,
// and subscription manager shared by Server and Client.
type Node struct {
	class   nodeid.Class
	idMu    sync.Mutex
	id      nodeid.ID
	randSrc *rand.Rand

	state *StateCell

	transport Transport
	pub       PubEndpoint
	sub       SubEndpoint

	heartbeatInterval time.Duration
	nextHeartbeat     time.Time // owned by the reception goroutine only

	messageCB MessageCallback
	regularCB RegularCallback

	logger *slog.Logger

	wg sync.WaitGroup
}

// NewNode allocates a Node of the given class, generates a class-conforming
// id, and wires callbacks. messageCB is mandatory; regularCB may be nil.
func NewNode(class nodeid.Class, messageCB MessageCallback, regularCB RegularCallback, opts ...NodeOption) (*Node, error) {
	if messageCB == nil {
		return nil, fmt.Errorf("cmcp: NewNode: %w: messageCB is required", ErrInvalidArgument)
	}

	cfg := nodeConfig{
		transport:         NewMemTransport(),
		logger:            slog.Default(),
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	n := &Node{
		class:             class,
		randSrc:           cfg.rand,
		state:             NewStateCell(StateUninitialized),
		transport:         cfg.transport,
		heartbeatInterval: cfg.heartbeatInterval,
		messageCB:         messageCB,
		regularCB:         regularCB,
		logger:            cfg.logger,
	}
	n.id = nodeid.Generate(class, n.randSrc)

	return n, nil
}

// GenerateID re-draws a class-conforming, non-broadcast id and returns
// it. The Client draws a fresh id after a server NACK; callers are
// responsible for moving any id-keyed subscription to the new value.
func (n *Node) GenerateID() nodeid.ID {
	n.idMu.Lock()
	defer n.idMu.Unlock()
	n.id = nodeid.Generate(n.class, n.randSrc)
	return n.id
}

// ID returns the node's current id.
func (n *Node) ID() nodeid.ID {
	n.idMu.Lock()
	defer n.idMu.Unlock()
	return n.id
}

// State returns the node's current lifecycle state.
func (n *Node) State() int {
	return n.state.Get()
}

// Connect opens the transport endpoints at pubAddr and subAddr and
// transitions StateUninitialized -> StateInitialized.
//
// A server node binds both: its own PubEndpoint at pubAddr, its own
// SubEndpoint at subAddr. A client node connects both, but to the
// counterpart of each role: its SubEndpoint connects to pubAddr (where the
// server's PubEndpoint is bound, to receive heartbeats/acks) and its
// PubEndpoint connects to subAddr (where the server's SubEndpoint is
// bound, to send announces/data). Both addresses name the server's
// endpoints, not the caller's, so one pair of addresses is meaningful to
// both classes.
func (n *Node) Connect(pubAddr, subAddr string) error {
	if pubAddr == "" || subAddr == "" {
		return fmt.Errorf("cmcp: connect: %w: empty address", ErrInvalidArgument)
	}
	if !n.state.CompareAndSet(StateUninitialized, StateInitialized) {
		return fmt.Errorf("cmcp: connect: %w", ErrAlreadyInitialized)
	}

	var pub PubEndpoint
	var sub SubEndpoint
	var err error

	if n.class == nodeid.Server {
		pub, err = n.transport.OpenPub(pubAddr, Bind)
		if err != nil {
			n.state.Set(StateUninitialized)
			return fmt.Errorf("cmcp: connect: open pub: %w", err)
		}
		sub, err = n.transport.OpenSub(subAddr, Bind)
		if err != nil {
			pub.Close()
			n.state.Set(StateUninitialized)
			return fmt.Errorf("cmcp: connect: open sub: %w", err)
		}
	} else {
		sub, err = n.transport.OpenSub(pubAddr, Connect)
		if err != nil {
			n.state.Set(StateUninitialized)
			return fmt.Errorf("cmcp: connect: open sub: %w", err)
		}
		pub, err = n.transport.OpenPub(subAddr, Connect)
		if err != nil {
			sub.Close()
			n.state.Set(StateUninitialized)
			return fmt.Errorf("cmcp: connect: open pub: %w", err)
		}
	}

	if err := sub.SetRecvTimeout(n.heartbeatInterval); err != nil {
		pub.Close()
		sub.Close()
		n.state.Set(StateUninitialized)
		return fmt.Errorf("cmcp: connect: set recv timeout: %w", err)
	}

	broadcast := nodeid.BroadcastFor(n.class)
	if err := sub.Subscribe(broadcast); err != nil {
		pub.Close()
		sub.Close()
		n.state.Set(StateUninitialized)
		return fmt.Errorf("cmcp: connect: subscribe broadcast: %w", err)
	}
	if err := sub.Subscribe(n.ID()); err != nil {
		pub.Close()
		sub.Close()
		n.state.Set(StateUninitialized)
		return fmt.Errorf("cmcp: connect: subscribe id: %w", err)
	}

	n.pub = pub
	n.sub = sub

	n.logger.Info("node initialized", "id", n.ID(), "class", n.class, "pub_addr", pubAddr, "sub_addr", subAddr)
	return nil
}

// Subscribe adds topic to the node's receive filter. Requires the node to
// be at least Initialized.
func (n *Node) Subscribe(topic nodeid.ID) error {
	if n.state.Get() == StateUninitialized || n.sub == nil {
		return fmt.Errorf("cmcp: subscribe: %w", ErrInvalidArgument)
	}
	return n.sub.Subscribe(topic)
}

// Unsubscribe removes topic from the node's receive filter.
func (n *Node) Unsubscribe(topic nodeid.ID) error {
	if n.state.Get() == StateUninitialized || n.sub == nil {
		return fmt.Errorf("cmcp: unsubscribe: %w", ErrInvalidArgument)
	}
	return n.sub.Unsubscribe(topic)
}

// Start requires StateInitialized. It transitions to StateStarting, spawns
// the reception goroutine, and blocks until that goroutine has advanced
// the state to StateRunning.
func (n *Node) Start() error {
	if !n.state.CompareAndSet(StateInitialized, StateStarting) {
		return fmt.Errorf("cmcp: start: node is not initialized")
	}

	n.wg.Add(1)
	go n.receptionLoop()

	n.state.Lock()
	n.state.AwaitState(StateRunning, time.Time{})
	n.state.Unlock()
	return nil
}

// Stop requires StateRunning. It writes StateStopping and joins the
// reception goroutine; its postcondition is StateInitialized.
func (n *Node) Stop() error {
	if !n.state.CompareAndSet(StateRunning, StateStopping) {
		return fmt.Errorf("cmcp: stop: node is not running")
	}
	n.wg.Wait()
	return nil
}

// Close tears down the node's transport endpoints. If the node is running
// it is stopped first.
func (n *Node) Close() error {
	if n.state.Get() == StateRunning {
		if err := n.Stop(); err != nil {
			return err
		}
	}
	if n.pub != nil {
		n.pub.Close()
	}
	if n.sub != nil {
		n.sub.Close()
	}
	return nil
}

// BuildAndSend builds a Message and hands its encoded wire form to the
// publish endpoint. Requires the node to be at least Initialized.
func (n *Node) BuildAndSend(typ MessageType, topic, sender nodeid.ID, command Command, params *DataList) error {
	if n.state.Get() == StateUninitialized || n.pub == nil {
		return fmt.Errorf("cmcp: send: %w", ErrInvalidArgument)
	}

	msg, err := Build(typ, topic, sender, command, params)
	if err != nil {
		return err
	}

	buf := make([]byte, msg.EncodedLen())
	msg.Encode(buf)

	if err := n.pub.Send(buf); err != nil {
		return fmt.Errorf("cmcp: send: %w: %v", ErrTransport, err)
	}
	return nil
}

// heartbeatCommand returns this node's own heartbeat command (what it
// announces itself with) and the class-broadcast topic its heartbeat is
// published to (the *peer* class's broadcast topic).
func (n *Node) heartbeatCommand() (Command, nodeid.ID) {
	if n.class == nodeid.Server {
		return ServerHeartbeat, nodeid.ClientBroadcast
	}
	return ClientHeartbeat, nodeid.ServerBroadcast
}

// receptionLoop is the Node's single auxiliary goroutine: it emits
// heartbeats, runs the regular callback, blocks on receive, and dispatches
// parsed messages.
func (n *Node) receptionLoop() {
	defer n.wg.Done()

	n.state.Set(StateRunning)
	n.nextHeartbeat = time.Now()

	for n.state.Get() == StateRunning {
		now := time.Now()
		if !now.Before(n.nextHeartbeat) {
			command, topic := n.heartbeatCommand()
			if err := n.BuildAndSend(Control, topic, n.ID(), command, nil); err != nil {
				n.logger.Error("heartbeat send failed", "err", err)
			}
			n.nextHeartbeat = now.Add(n.heartbeatInterval)
		}

		if n.regularCB != nil {
			n.regularCB()
		}

		buf, err := n.sub.Receive()
		if err != nil {
			// Receive timeout and other transport-level receive failures
			// are transient; log anything but a timeout at Debug and loop.
			if err != ErrRecvTimeout {
				n.logger.Debug("receive failed", "err", err)
			}
			continue
		}

		msg, err := ParseMessage(buf)
		if err != nil {
			n.logger.Debug("dropping unparsable datagram", "len", len(buf), "err", err)
			continue
		}

		if msg.Sender.IsBroadcast() {
			continue
		}

		n.messageCB(msg)
	}

	n.state.Set(StateInitialized)
}
