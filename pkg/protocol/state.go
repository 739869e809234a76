package protocol

// State is the lifecycle state of a Protocol.
type State int32

const (
	StateHandshake State = iota // capabilities not yet exchanged
	StateActive                 // negotiated, full packet flow
	StateClosing                // draining, no new sends accepted
	StateClosed                 // terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Role selects which side of the handshake a Protocol plays.
type Role uint8

const (
	RoleClient Role = iota // connecting side, sends hello first
	RoleServer             // accepting side, replies to hello
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// CloseReason classifies why a connection ended. It labels metrics and
// the synthetic connection-lost packet.
type CloseReason uint8

const (
	ReasonNone        CloseReason = iota
	ReasonLocal                   // explicit local close
	ReasonRemote                  // peer sent end
	ReasonEOF                     // peer closed the stream
	ReasonFraming                 // wire-level violation
	ReasonNegotiation             // no common codec
	ReasonTransport               // read/write failure
	ReasonTimeout                 // handshake or assembly timeout
)

// String returns the string representation of the close reason.
func (cr CloseReason) String() string {
	switch cr {
	case ReasonNone:
		return "none"
	case ReasonLocal:
		return "local"
	case ReasonRemote:
		return "remote end"
	case ReasonEOF:
		return "eof"
	case ReasonFraming:
		return "framing"
	case ReasonNegotiation:
		return "negotiation"
	case ReasonTransport:
		return "transport"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
