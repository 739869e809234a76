// Package protocol implements the packet engine's orchestrator: one
// Protocol instance drives one duplex connection, owns its reader and
// writer goroutines, negotiates serializers and compressors during the
// hello handshake, and dispatches every fully decoded packet to a
// registered handler.
//
// # Lifecycle
//
// A Protocol moves through four states:
//
//	HANDSHAKE → ACTIVE → CLOSING → CLOSED
//
// It is constructed in HANDSHAKE and becomes ACTIVE once a local hello
// has been enqueued and a remote hello processed; challenge exchanges
// stay in HANDSHAKE. Any framing violation, negotiation failure, I/O
// error, or close request moves it through CLOSING to the terminal
// CLOSED state, at which point Done() is closed, queued sends are
// notified with ErrProtocolClosed, and the handler receives exactly one
// synthetic connection-lost packet carrying the close reason.
//
// # Handshake and negotiation
//
// The connecting side (RoleClient) sends hello first; the accepting
// side (RoleServer) replies with its own hello, optionally preceded by
// a challenge when its OnHello callback implements authentication.
// Hello and challenge packets are always encoded with the bootstrap
// serializer and no compression, so they are decodable without prior
// agreement. Each side picks the first entry of its own preference
// list that the peer also supports; an empty intersection fails the
// connection with a NegotiationError rather than falling back silently.
//
// # Concurrency contract
//
// Send never blocks: it appends to an unbounded FIFO and returns. The
// writer goroutine drains the queue in order, optionally coalescing
// consecutive small packets into a single write when the sender hinted
// more are coming. The reader goroutine decodes frames, reassembles
// chunked packets, and invokes the handler serially in decode order.
// Reads never block writes and vice versa. Close is idempotent and safe
// from any goroutine, including from inside a packet handler.
//
// # Consumers
//
// Consumers see none of the framing, chunking, or compression below
// them: they call Send with a type tag and positional arguments, and
// register a handler that receives decoded packets. Handshake packets
// are processed by the engine and also forwarded to the handler, so
// consumers can inspect peer capabilities.
package protocol
