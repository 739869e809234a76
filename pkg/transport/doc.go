// Package transport provides the byte-stream connections the protocol
// engine runs over: TCP and Unix sockets, WebSocket message streams,
// subprocess pipe pairs, and in-memory duplexes for tests.
//
// Every connection type satisfies the engine's Conn contract
// structurally; this package deliberately does not import pkg/protocol,
// so transports can be reused by anything that speaks bytes.
package transport
