// Package nodeid implements the 16-bit node and topic identifiers shared by
// CMCP servers and clients. An ID's class (server or client) is packed
// into its low bit.
package nodeid

import "math/rand/v2"

// ID is a CMCP node or topic identifier. Servers hold even values, clients
// hold odd values; the class is the value's low bit.
type ID uint16

// Class identifies whether an ID belongs to the server or client namespace.
type Class int

const (
	Server Class = iota
	Client
)

// ServerBroadcast and ClientBroadcast are the reserved class-broadcast
// topics. They are never assigned to a node as its own id, which also
// makes them usable as "no peer known" sentinels. ServerBroadcast is
// nonzero so an all-zero datagram prefix never addresses every server.
const (
	ServerBroadcast ID = 2
	ClientBroadcast ID = 1
)

// Class returns the namespace (server or client) the id belongs to.
func (id ID) Class() Class {
	if id&1 == 0 {
		return Server
	}
	return Client
}

// IsBroadcast reports whether id is one of the two reserved class-broadcast
// topics.
func (id ID) IsBroadcast() bool {
	return id == ServerBroadcast || id == ClientBroadcast
}

// BroadcastFor returns the reserved class-broadcast topic for class.
func BroadcastFor(class Class) ID {
	if class == Server {
		return ServerBroadcast
	}
	return ClientBroadcast
}

// Generate draws a random id belonging to class, excluding the class's
// broadcast reserved value. It is safe to call repeatedly, e.g. to pick a
// fresh id after a server NACK.
func Generate(class Class, src *rand.Rand) ID {
	broadcast := BroadcastFor(class)
	for {
		v := ID(randUint16(src))
		if v.Class() != class {
			continue
		}
		if v == broadcast {
			continue
		}
		return v
	}
}

func randUint16(src *rand.Rand) uint16 {
	if src == nil {
		return uint16(rand.Uint32())
	}
	return uint16(src.Uint32())
}
