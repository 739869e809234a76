package packet

// Well-known type tags the engine itself interprets. Everything else is
// routed to the consumer untouched.
const (
	// TypeHello carries the Capabilities mapping; the connecting side
	// sends it first.
	TypeHello = "hello"

	// TypeChallenge is optionally sent by the accepting side before its
	// own hello when authentication is required. The engine routes it to
	// the consumer; challenge/response logic lives above the engine.
	TypeChallenge = "challenge"

	// TypeEnd requests graceful bilateral termination. Used on network
	// connections and on RPC-bridge pipes alike.
	TypeEnd = "end"

	// TypePing and TypePingEcho are the conventional liveness probe pair.
	// The engine does not answer pings itself; servers register a handler.
	TypePing     = "ping"
	TypePingEcho = "ping_echo"
)

// Synthetic type tags: generated locally by the engine and delivered to
// the packet handler, never sent on the wire. A peer transmitting one of
// these is violating the protocol.
const (
	// TypeConnectionLost is delivered exactly once, after the last real
	// packet, when the connection reaches its terminal state. Args:
	// (reason string).
	TypeConnectionLost = "connection-lost"

	// TypeGibberish is delivered when a structurally valid frame carries
	// an undecodable payload. Args: (message string, data []byte).
	TypeGibberish = "gibberish"

	// TypeInvalid is delivered when a payload decodes but is not a valid
	// packet (e.g. a non-string type tag). Args: (message string,
	// data []byte).
	TypeInvalid = "invalid"
)

// IsHandshake reports whether ptype is accepted before negotiation
// completes.
func IsHandshake(ptype string) bool {
	return ptype == TypeHello || ptype == TypeChallenge
}

// IsSynthetic reports whether ptype is engine-generated and therefore
// illegal on the wire.
func IsSynthetic(ptype string) bool {
	switch ptype {
	case TypeConnectionLost, TypeGibberish, TypeInvalid:
		return true
	}
	return false
}
