package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSConnEcho(t *testing.T) {
	srv := httptest.NewServer(WSHandler(func(c *WSConn) {
		defer c.Close()
		io.Copy(c, c)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if conn.Kind() != "ws" {
		t.Errorf("Kind() = %q, want ws", conn.Kind())
	}
	if !conn.Alive() {
		t.Error("Alive() = false on fresh connection")
	}

	// Large enough that the echo comes back split across several
	// messages, exercising reads that span message boundaries.
	msg := make([]byte, 64<<10)
	rand.Read(msg)
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Error("echoed payload does not match")
	}
}

func TestWSConnReadAcrossMessages(t *testing.T) {
	srv := httptest.NewServer(WSHandler(func(c *WSConn) {
		c.Write([]byte("first"))
		c.Write([]byte("second"))
		c.Close()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "firstsecond" {
		t.Errorf("ReadAll() = %q, want %q", got, "firstsecond")
	}
}

func TestWSConnPeerClose(t *testing.T) {
	srv := httptest.NewServer(WSHandler(func(c *WSConn) {
		c.Close()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("Read() after peer close = %v, want io.EOF", err)
	}
}

func TestWSHandlerRejectsPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(WSHandler(func(c *WSConn) {
		c.Close()
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
