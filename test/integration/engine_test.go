package integration_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/protocol"
	"github.com/skylightd/skylight/pkg/transport"
	"github.com/skylightd/skylight/pkg/wire"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverCfg() *protocol.Config {
	return protocol.DefaultConfig(protocol.RoleServer).WithLogger(quiet())
}

func clientCfg() *protocol.Config {
	return protocol.DefaultConfig(protocol.RoleClient).WithLogger(quiet())
}

// startPeer wires conn into a protocol whose handler feeds every
// dispatched packet, synthetic ones included, into the returned channel.
func startPeer(t *testing.T, conn protocol.Conn, cfg *protocol.Config) (*protocol.Protocol, <-chan *packet.Packet) {
	t.Helper()
	recv := make(chan *packet.Packet, 256)
	p, err := protocol.New(conn, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.SetPacketHandler(func(pkt *packet.Packet) { recv <- pkt })
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		p.Close("test done")
		<-p.Done()
	})
	return p, recv
}

// awaitType drains recv until a packet of the wanted type arrives.
func awaitType(t *testing.T, recv <-chan *packet.Packet, want string) *packet.Packet {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case pkt := <-recv:
			if pkt.Type == want {
				return pkt
			}
		case <-deadline:
			t.Fatalf("no %q packet within 5s", want)
		}
	}
}

// tcpPair returns both ends of a freshly accepted loopback connection.
func tcpPair(t *testing.T) (client, server protocol.Conn) {
	t.Helper()
	ln, err := transport.Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	errc := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errc <- err
			return
		}
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cc, err := transport.Dial(ctx, "tcp://"+ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	select {
	case sc := <-accepted:
		return cc, transport.NewStreamConn(sc)
	case err := <-errc:
		t.Fatalf("Accept() error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
	}
	return nil, nil
}

func TestPingRoundTripTCP(t *testing.T) {
	cc, sc := tcpPair(t)

	server, srecv := startPeer(t, sc, serverCfg())
	client, crecv := startPeer(t, cc, clientCfg())

	// Server side answers pings the way the real server does.
	go func() {
		for {
			select {
			case pkt := <-srecv:
				if pkt.Type == packet.TypePing {
					server.Send(packet.TypePingEcho, pkt.Args...)
				}
			case <-server.Done():
				return
			}
		}
	}()

	if err := client.Send(packet.TypePing, 42); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	echo := awaitType(t, crecv, packet.TypePingEcho)
	if got := echo.Arg(0).Int(); got != 42 {
		t.Errorf("ping_echo arg = %d, want 42", got)
	}

	// Receiving the echo proves the hello exchange settled a codec.
	info := client.Info()
	if info["serializer"] == nil || info["compressor"] == nil {
		t.Errorf("Info() missing negotiated codec: %v", info)
	}
	if info["state"] != protocol.StateActive.String() {
		t.Errorf("state = %v, want %v", info["state"], protocol.StateActive.String())
	}
}

func TestOrderingInMemory(t *testing.T) {
	const n = 100

	tests := []struct {
		name string
		send func(p *protocol.Protocol, i int) error
	}{
		{
			name: "individual sends",
			send: func(p *protocol.Protocol, i int) error {
				return p.Send("seq", i)
			},
		},
		{
			// more-coming only widens the write batch; order and
			// delivery are unchanged.
			name: "more-coming batch",
			send: func(p *protocol.Protocol, i int) error {
				if i < n-1 {
					return p.SendPacket(packet.New("seq", i), protocol.WithMoreComing())
				}
				return p.SendPacket(packet.New("seq", i))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, b := transport.Pair()
			_, recv := startPeer(t, b, serverCfg())
			client, _ := startPeer(t, a, clientCfg())

			for i := 0; i < n; i++ {
				if err := tc.send(client, i); err != nil {
					t.Fatalf("send %d: %v", i, err)
				}
			}

			next := 0
			deadline := time.After(5 * time.Second)
			for next < n {
				select {
				case pkt := <-recv:
					if pkt.Type != "seq" {
						continue
					}
					if got := pkt.Arg(0).Int(); got != int64(next) {
						t.Fatalf("position %d carries seq %d, order broken", next, got)
					}
					next++
				case <-deadline:
					t.Fatalf("timed out after %d of %d packets", next, n)
				}
			}
		})
	}
}

func TestLargePacketTCP(t *testing.T) {
	cc, sc := tcpPair(t)

	_, srecv := startPeer(t, sc, serverCfg())

	limits := wire.Limits{
		MaxSingleFrame:  2048,
		MaxPacketSize:   1 << 20,
		AssemblyTimeout: 5 * time.Second,
	}
	client, _ := startPeer(t, cc, clientCfg().WithLimits(limits))

	blob := make([]byte, 100*1024)
	if _, err := rand.Read(blob); err != nil {
		t.Fatal(err)
	}
	if err := client.Send("blob", "payload", blob); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	pkt := awaitType(t, srecv, "blob")
	if got := pkt.Arg(0).Str(); got != "payload" {
		t.Errorf("blob name = %q, want %q", got, "payload")
	}
	if !bytes.Equal(pkt.Arg(1).Bytes(), blob) {
		t.Errorf("blob payload corrupted across chunked transfer: %d bytes, want %d",
			len(pkt.Arg(1).Bytes()), len(blob))
	}
}

func TestConnectionLostDeliveredOnce(t *testing.T) {
	a, b := transport.Pair()
	server, _ := startPeer(t, b, serverCfg())
	client, crecv := startPeer(t, a, clientCfg())

	// Let the handshake finish before pulling the plug.
	if err := client.Send(packet.TypePing, 1); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	server.Close("going away")

	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not close after peer went away")
	}

	count := 0
	settle := time.After(300 * time.Millisecond)
	for done := false; !done; {
		select {
		case pkt := <-crecv:
			if pkt.Type == packet.TypeConnectionLost {
				count++
			}
		case <-settle:
			done = true
		}
	}
	if count != 1 {
		t.Errorf("connection-lost delivered %d times, want exactly once", count)
	}
}
