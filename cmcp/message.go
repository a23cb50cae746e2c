package cmcp

import (
	"encoding/binary"
	"fmt"

	"github.com/jellysheep/vesper-libs/nodeid"
)

// headerLen is the fixed 6-byte Message header: topic(2) sender(2) command(2).
const headerLen = 6

// MessageType is the one-bit tag carried in the low bit of the wire
// command field.
type MessageType int

const (
	Control MessageType = 0
	Data    MessageType = 1
)

func (t MessageType) String() string {
	if t == Control {
		return "control"
	}
	return "data"
}

// Command is a 15-bit application or control command id. Its String()
// falls back to a numeric rendering for values it does not name.
type Command uint16

// Reserved control commands driving heartbeats and the handshake.
const (
	ServerHeartbeat  Command = 0
	ServerAckClient  Command = 1
	ServerNackClient Command = 2
	ClientHeartbeat  Command = 3
	ClientAnnounce   Command = 4
	ClientDisconnect Command = 5
)

var commandNames = map[Command]string{
	ServerHeartbeat:  "ServerHeartbeat",
	ServerAckClient:  "ServerAckClient",
	ServerNackClient: "ServerNackClient",
	ClientHeartbeat:  "ClientHeartbeat",
	ClientAnnounce:   "ClientAnnounce",
	ClientDisconnect: "ClientDisconnect",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint16(c))
}

// ParamNonce is the reserved parameter id carrying the 8-byte handshake
// nonce in CLIENT_ANNOUNCE, SERVER_ACK_CLIENT and SERVER_NACK_CLIENT.
const ParamNonce uint16 = 1

// maxCommand is the largest command id that fits the 15 bits left by the
// type tag.
const maxCommand = 1<<15 - 1

// Message is the (type, topic, sender, command, parameters) 5-tuple
// exchanged between nodes. A Message built with Build borrows params and
// does not free it; a Message returned by Parse owns its DataList.
type Message struct {
	Type    MessageType
	Topic   nodeid.ID
	Sender  nodeid.ID
	Command Command
	Params  *DataList
}

// Build constructs a send-message. It fails with ErrInvalidArgument if
// command does not fit 15 bits.
func Build(typ MessageType, topic, sender nodeid.ID, command Command, params *DataList) (*Message, error) {
	if command > maxCommand {
		return nil, ErrInvalidArgument
	}
	return &Message{
		Type:    typ,
		Topic:   topic,
		Sender:  sender,
		Command: command,
		Params:  params,
	}, nil
}

// EncodedLen returns the number of bytes Encode will write: 6 plus the
// encoded length of Params (nil Params counts as zero parameters).
func (m *Message) EncodedLen() int {
	n := headerLen
	if m.Params != nil {
		n += m.Params.EncodedLen()
	}
	return n
}

// Encode writes the wire form of m into buf, which must be at least
// EncodedLen() bytes.
func (m *Message) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(m.Topic))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(m.Sender))
	binary.LittleEndian.PutUint16(buf[4:6], encodeCommand(m.Command, m.Type))

	if m.Params != nil {
		m.Params.Encode(buf[headerLen:])
	}
}

// ParseMessage reads a received datagram into a Message. It fails with
// ErrInvalidArgument if buf is shorter than the 6-byte header. The returned
// Message owns a DataList built with ParseDataList over buf's remainder,
// so buf must outlive the Message.
func ParseMessage(buf []byte) (*Message, error) {
	if len(buf) < headerLen {
		return nil, ErrInvalidArgument
	}

	topic := nodeid.ID(binary.LittleEndian.Uint16(buf[0:2]))
	sender := nodeid.ID(binary.LittleEndian.Uint16(buf[2:4]))
	wireCommand := binary.LittleEndian.Uint16(buf[4:6])

	typ, command := decodeCommand(wireCommand)

	return &Message{
		Type:    typ,
		Topic:   topic,
		Sender:  sender,
		Command: command,
		Params:  ParseDataList(buf[headerLen:]),
	}, nil
}

func encodeCommand(c Command, t MessageType) uint16 {
	wire := uint16(c) << 1
	if t == Data {
		wire |= 1
	}
	return wire
}

func decodeCommand(wire uint16) (MessageType, Command) {
	typ := Control
	if wire&1 != 0 {
		typ = Data
	}
	return typ, Command(wire >> 1)
}
