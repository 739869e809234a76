// Package bridge drives local helper subprocesses as full packet
// peers. The caller side spawns the helper and speaks the engine
// protocol over its stdin/stdout pipe pair; the callee side runs
// inside the helper, mapping inbound packets onto a whitelisted set
// of methods and forwarding events back as packets. Both sides reuse
// the exact framing and capability machinery of a network connection,
// so nothing is reimplemented for IPC.
package bridge

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/skylightd/skylight/pkg/compress"
	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/protocol"
)

// Packet types with bridge-level meaning. Every other type tag is a
// method call (caller to callee) or a signal (callee to caller).
const (
	// TypeSignal carries a forwarded OS signal name from the helper.
	// Args: (name string).
	TypeSignal = "signal"

	// TypeError reports a rejected or failed method back to the
	// caller. Args: (message string, method string).
	TypeError = "error"
)

// DefaultStopGrace is how long the supervisor waits for the helper to
// exit after a cooperative end before killing it.
const DefaultStopGrace = 5 * time.Second

// handshakeTimeout bounds the hello exchange over local pipes. A
// helper that cannot say hello in ten seconds is wedged.
const handshakeTimeout = 10 * time.Second

// BridgeError wraps a failure tied to one helper link.
type BridgeError struct {
	Proc string
	Op   string
	Err  error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge: %s %s: %v", e.Op, e.Proc, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// newConfig builds the Protocol configuration both ends use. Local
// pipes are loopback-fast and payloads small, so compression stays
// off.
func newConfig(role protocol.Role, log *slog.Logger) *protocol.Config {
	cfg := protocol.DefaultConfig(role)
	cfg.Compressors = []uint8{compress.IDNone}
	cfg.HandshakeTimeout = handshakeTimeout
	cfg.Features = packet.Capabilities{"bridge": true}
	cfg.Logger = log
	return cfg
}

func sigName(sig os.Signal) string {
	switch sig {
	case os.Interrupt:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return sig.String()
}
