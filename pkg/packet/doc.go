// Package packet defines the logical unit of data exchanged between peers:
// a type-tagged, ordered sequence of heterogeneous arguments.
//
// A Packet's type tag is a short ASCII string ("hello", "ping",
// "window-icon"); its arguments are positional values whose shapes are a
// contract between sender and receiver, opaque to the engine. The package
// also defines Capabilities, the string-keyed mapping exchanged during the
// handshake, and the well-known type tags the engine itself interprets.
//
// Because different serializers decode numbers and byte blobs into
// different concrete Go types, consumers should read arguments through the
// coercing Value accessors rather than type-asserting directly:
//
//	pkt := packet.New("ping", 42)
//	ts := pkt.Arg(0).Int() // works whether the codec produced int64, uint64, ...
package packet
