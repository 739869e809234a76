package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skylightd/skylight/pkg/compress"
	"github.com/skylightd/skylight/pkg/encoding"
	"github.com/skylightd/skylight/pkg/protocol"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.Server.HTTPListen != DefaultHTTPListen {
		t.Errorf("Server.HTTPListen = %q, want %q", cfg.Server.HTTPListen, DefaultHTTPListen)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, DefaultLogFormat)
	}
	if len(cfg.Protocol.Serializers) == 0 || cfg.Protocol.Serializers[0] != "native" {
		t.Errorf("Protocol.Serializers = %v, want native first", cfg.Protocol.Serializers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	// Loading a non-existent config must fail.
	if _, err := Load(tmpDir); err == nil {
		t.Error("expected error for missing config")
	}

	configJSON := `{
  "server": {
    "listen": "0.0.0.0:9500",
    "shutdownGrace": "3s"
  },
  "protocol": {
    "serializers": ["cbor", "msgpack"],
    "compressionLevel": 6,
    "maxFrameSize": 2048
  },
  "log": {
    "level": "debug"
  }
}
`
	configPath := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:9500" {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, "0.0.0.0:9500")
	}
	if cfg.Server.ShutdownGrace != "3s" {
		t.Errorf("Server.ShutdownGrace = %q, want %q", cfg.Server.ShutdownGrace, "3s")
	}
	if len(cfg.Protocol.Serializers) != 2 || cfg.Protocol.Serializers[0] != "cbor" {
		t.Errorf("Protocol.Serializers = %v, want [cbor msgpack]", cfg.Protocol.Serializers)
	}
	if cfg.Protocol.CompressionLevel != 6 {
		t.Errorf("Protocol.CompressionLevel = %d, want 6", cfg.Protocol.CompressionLevel)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	// Fields absent from the file keep their defaults.
	if cfg.Server.HTTPListen != DefaultHTTPListen {
		t.Errorf("Server.HTTPListen = %q, want default %q", cfg.Server.HTTPListen, DefaultHTTPListen)
	}
	if len(cfg.Protocol.Compressors) == 0 {
		t.Error("Protocol.Compressors should be defaulted")
	}
	if cfg.Path() != configPath {
		t.Errorf("Path() = %q, want %q", cfg.Path(), configPath)
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	if err := os.WriteFile(configPath, []byte("not valid json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFile(configPath)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "cannot parse") {
		t.Errorf("error = %v, want a parse failure", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadOrDefault(tmpDir)
	if err != nil {
		t.Fatalf("LoadOrDefault() on empty dir error = %v", err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want default %q", cfg.Server.Listen, DefaultListen)
	}

	configPath := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte(`{"server":{"listen":"127.0.0.1:9501"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err = LoadOrDefault(tmpDir)
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9501" {
		t.Errorf("Server.Listen = %q, want file value", cfg.Server.Listen)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	cfg := New()
	cfg.Server.Listen = "0.0.0.0:7000"

	// Save must fail without a load path.
	if err := cfg.Save(); err == nil {
		t.Error("expected error when saving without path")
	}

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	loaded, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if loaded.Server.Listen != "0.0.0.0:7000" {
		t.Errorf("Server.Listen = %q, want %q", loaded.Server.Listen, "0.0.0.0:7000")
	}

	// Save works once the path is known.
	loaded.Server.Listen = "0.0.0.0:7001"
	if err := loaded.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	reloaded, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if reloaded.Server.Listen != "0.0.0.0:7001" {
		t.Errorf("Server.Listen = %q, want %q", reloaded.Server.Listen, "0.0.0.0:7001")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "bad listen address", mutate: func(c *Config) { c.Server.Listen = "no-port" }, wantErr: true},
		{name: "tcp listener off", mutate: func(c *Config) { c.Server.Listen = "off" }, wantErr: false},
		{name: "all listeners off", mutate: func(c *Config) {
			c.Server.Listen = "off"
			c.Server.HTTPListen = "off"
		}, wantErr: true},
		{name: "unknown serializer", mutate: func(c *Config) { c.Protocol.Serializers = []string{"xml"} }, wantErr: true},
		{name: "unknown compressor", mutate: func(c *Config) { c.Protocol.Compressors = []string{"brotli"} }, wantErr: true},
		{name: "compression level too high", mutate: func(c *Config) { c.Protocol.CompressionLevel = 12 }, wantErr: true},
		{name: "frame larger than packet", mutate: func(c *Config) {
			c.Protocol.MaxFrameSize = 1 << 20
			c.Protocol.MaxPacketSize = 4096
		}, wantErr: true},
		{name: "bad assembly timeout", mutate: func(c *Config) { c.Protocol.AssemblyTimeout = "soon" }, wantErr: true},
		{name: "negative handshake timeout", mutate: func(c *Config) { c.Protocol.HandshakeTimeout = "-1s" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := New()
	cfg.Protocol.Serializers = []string{"cbor"}
	cfg.Protocol.Compressors = []string{"zlib", "none"}
	cfg.Protocol.MaxFrameSize = 2048
	cfg.Protocol.MaxPacketSize = 1 << 20
	cfg.Protocol.AssemblyTimeout = "250ms"
	cfg.Protocol.HandshakeTimeout = "2s"
	cfg.Protocol.LogFilter = []string{"damage"}

	pc, err := cfg.EngineConfig(protocol.RoleServer)
	if err != nil {
		t.Fatalf("EngineConfig() error = %v", err)
	}

	if !bytes.Equal(pc.Serializers, []uint8{encoding.IDCBOR}) {
		t.Errorf("Serializers = %v, want [cbor id]", pc.Serializers)
	}
	if !bytes.Equal(pc.Compressors, []uint8{compress.IDZlib, compress.IDNone}) {
		t.Errorf("Compressors = %v, want [zlib none]", pc.Compressors)
	}
	if pc.Limits.MaxSingleFrame != 2048 {
		t.Errorf("Limits.MaxSingleFrame = %d, want 2048", pc.Limits.MaxSingleFrame)
	}
	if pc.Limits.MaxPacketSize != 1<<20 {
		t.Errorf("Limits.MaxPacketSize = %d, want %d", pc.Limits.MaxPacketSize, 1<<20)
	}
	if pc.Limits.AssemblyTimeout != 250*time.Millisecond {
		t.Errorf("Limits.AssemblyTimeout = %v, want 250ms", pc.Limits.AssemblyTimeout)
	}
	if pc.HandshakeTimeout != 2*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 2s", pc.HandshakeTimeout)
	}
	if len(pc.LogFilter) != 1 || pc.LogFilter[0] != "damage" {
		t.Errorf("LogFilter = %v, want [damage]", pc.LogFilter)
	}
	if pc.Role != protocol.RoleServer {
		t.Errorf("Role = %v, want RoleServer", pc.Role)
	}

	cfg.Protocol.Serializers = []string{"xml"}
	if _, err := cfg.EngineConfig(protocol.RoleServer); err == nil {
		t.Error("EngineConfig() with unknown serializer should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
		{in: "WARN", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLogHandler(t *testing.T) {
	cfg := New()

	h, err := cfg.LogHandler(io.Discard)
	if err != nil {
		t.Fatalf("LogHandler() error = %v", err)
	}
	if _, ok := h.(*slog.TextHandler); !ok {
		t.Errorf("handler = %T, want *slog.TextHandler", h)
	}

	cfg.Log.Format = "json"
	cfg.Log.Level = "debug"
	h, err = cfg.LogHandler(io.Discard)
	if err != nil {
		t.Fatalf("LogHandler() error = %v", err)
	}
	if _, ok := h.(*slog.JSONHandler); !ok {
		t.Errorf("handler = %T, want *slog.JSONHandler", h)
	}

	cfg.Log.Format = "xml"
	if _, err := cfg.LogHandler(io.Discard); err == nil {
		t.Error("LogHandler() with unknown format should fail")
	}
}

func TestShutdownTimeout(t *testing.T) {
	cfg := New()
	if got := cfg.ShutdownTimeout(); got != 10*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 10s", got)
	}

	cfg.Server.ShutdownGrace = "3s"
	if got := cfg.ShutdownTimeout(); got != 3*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 3s", got)
	}
}

func TestListenerToggles(t *testing.T) {
	cfg := New()
	if !cfg.TCPEnabled() || !cfg.HTTPEnabled() {
		t.Error("both listeners should be enabled by default")
	}

	cfg.Server.Listen = "off"
	if cfg.TCPEnabled() {
		t.Error("TCPEnabled() should be false for \"off\"")
	}
	if !cfg.HTTPEnabled() {
		t.Error("HTTPEnabled() should stay true")
	}
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()

	if Exists(tmpDir) {
		t.Error("Exists should be false for empty directory")
	}

	configPath := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	if !Exists(tmpDir) {
		t.Error("Exists should be true after creating config")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.Protocol.CompressionLevel != compress.DefaultLevel {
		t.Errorf("Protocol.CompressionLevel = %d, want %d", cfg.Protocol.CompressionLevel, compress.DefaultLevel)
	}
	if cfg.Protocol.AssemblyTimeout != "5s" {
		t.Errorf("Protocol.AssemblyTimeout = %q, want %q", cfg.Protocol.AssemblyTimeout, "5s")
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, DefaultLogFormat)
	}

	// An explicitly empty log filter survives; nil gets the default.
	empty := &Config{Protocol: ProtocolConfig{LogFilter: []string{}}}
	empty.applyDefaults()
	if len(empty.Protocol.LogFilter) != 0 {
		t.Errorf("LogFilter = %v, want empty", empty.Protocol.LogFilter)
	}
}

func TestItoa(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{1, "1"},
		{10, "10"},
		{123, "123"},
		{67108864, "67108864"},
		{-1, "-1"},
		{-100, "-100"},
	}

	for _, tt := range tests {
		got := itoa(tt.n)
		if got != tt.want {
			t.Errorf("itoa(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
