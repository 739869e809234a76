package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrProtocolClosed is returned by Send once the connection is
	// closing or closed; the packet was dropped.
	ErrProtocolClosed = errors.New("protocol: connection closed")

	// ErrHandshakeState rejects handshake operations after the
	// handshake completed.
	ErrHandshakeState = errors.New("protocol: not in handshake")

	// ErrSyntheticType rejects attempts to send the engine's synthetic
	// packet types; they exist only on the local dispatch path.
	ErrSyntheticType = errors.New("protocol: synthetic packet types cannot be sent")

	// ErrSendTooLarge rejects a packet whose serialized form exceeds
	// the packet size cap. The send fails; the connection stays up.
	ErrSendTooLarge = errors.New("protocol: serialized packet exceeds max packet size")

	// ErrHandshakeTimeout fails a connection that never completed the
	// hello exchange within Config.HandshakeTimeout.
	ErrHandshakeTimeout = errors.New("protocol: handshake timed out")

	// ErrHelloRejected wraps a non-nil error from Config.OnHello; the
	// connection fails with a negotiation cause.
	ErrHelloRejected = errors.New("protocol: hello rejected")
)

// FramingError wraps a fatal wire-level violation: malformed header,
// size cap exceeded, chunk sequence violation, or an undecodable
// payload. Never retried; the connection is closed.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return "protocol: framing: " + e.Err.Error()
}

func (e *FramingError) Unwrap() error { return e.Err }

// NegotiationError reports that the capability exchange found no common
// codec. It is a distinct type so callers can present "incompatible
// peers" instead of a generic I/O failure.
type NegotiationError struct {
	What   string // "serializer" or "compressor"
	Local  []string
	Remote []string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("protocol: no common %s: local %v, remote %v",
		e.What, e.Local, e.Remote)
}

// TransportError wraps a read or write failure of the underlying
// Connection.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return "protocol: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
