package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skylightd/skylight/internal/errors"
	"github.com/skylightd/skylight/pkg/compress"
	"github.com/skylightd/skylight/pkg/encoding"
	"github.com/skylightd/skylight/pkg/protocol"
	"github.com/skylightd/skylight/pkg/wire"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "skylight.json"

	// DefaultListen is the default address of the raw TCP packet listener.
	DefaultListen = "127.0.0.1:14500"

	// DefaultHTTPListen is the default address of the HTTP server that
	// carries the WebSocket endpoint, metrics, and health checks.
	DefaultHTTPListen = "127.0.0.1:14600"

	// DefaultShutdownGrace is the default drain window on shutdown.
	DefaultShutdownGrace = "10s"

	// DefaultLogLevel is the default log verbosity.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log output format.
	DefaultLogFormat = "text"
)

// Config represents the complete skylight.json configuration.
type Config struct {
	// Server contains listener configuration.
	Server ServerConfig `json:"server,omitempty"`

	// Protocol contains packet engine configuration.
	Protocol ProtocolConfig `json:"protocol,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains the listener addresses.
type ServerConfig struct {
	// Listen is the host:port of the raw TCP packet listener.
	// Set to "off" to disable it.
	Listen string `json:"listen,omitempty"`

	// HTTPListen is the host:port of the HTTP server serving the
	// WebSocket endpoint, Prometheus metrics, and the health check.
	// Set to "off" to disable it.
	HTTPListen string `json:"httpListen,omitempty"`

	// ShutdownGrace is how long open connections get to drain on
	// shutdown (e.g. "10s").
	ShutdownGrace string `json:"shutdownGrace,omitempty"`
}

// ProtocolConfig contains packet engine settings. Codecs are named;
// names are resolved against the registered serializers and
// compressors when the config is validated.
type ProtocolConfig struct {
	// Serializers is the serializer preference order, most-preferred
	// first (e.g. ["native", "msgpack", "cbor"]).
	Serializers []string `json:"serializers,omitempty"`

	// Compressors is the compressor preference order, most-preferred
	// first. Include "none" to accept uncompressed peers.
	Compressors []string `json:"compressors,omitempty"`

	// CompressionLevel is passed to the negotiated compressor (1..9).
	CompressionLevel int `json:"compressionLevel,omitempty"`

	// MaxFrameSize is the largest payload in bytes sent as a single
	// frame; larger packets are chunked.
	MaxFrameSize int `json:"maxFrameSize,omitempty"`

	// MaxPacketSize is the hard cap in bytes on one reassembled packet.
	MaxPacketSize int `json:"maxPacketSize,omitempty"`

	// AssemblyTimeout bounds chunk reassembly (e.g. "5s"). "0s"
	// disables the timeout.
	AssemblyTimeout string `json:"assemblyTimeout,omitempty"`

	// HandshakeTimeout fails connections that do not finish the hello
	// exchange in time (e.g. "10s"). "0s" disables the timer.
	HandshakeTimeout string `json:"handshakeTimeout,omitempty"`

	// LogFilter lists packet types excluded from per-packet debug
	// logging.
	LogFilter []string `json:"logFilter,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", or "error".
	Level string `json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        DefaultListen,
			HTTPListen:    DefaultHTTPListen,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Protocol: ProtocolConfig{
			Serializers:      encoding.Names(encoding.DefaultIDs()),
			Compressors:      compress.Names(compress.DefaultIDs()),
			CompressionLevel: compress.DefaultLevel,
			MaxFrameSize:     wire.DefaultMaxSingleFrame,
			MaxPacketSize:    wire.DefaultMaxPacketSize,
			AssemblyTimeout:  "5s",
			HandshakeTimeout: "10s",
			LogFilter:        []string{"ping", "ping_echo"},
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for skylight.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CategoryConfig, "cannot read "+ConfigFileName).
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path)).
				WithSuggestion("Pass --config with an explicit path, or run without a config file to use the built-in defaults")
		}
		return nil, errors.New(errors.CategoryConfig, "cannot read "+ConfigFileName).Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CategoryConfig, "cannot parse "+ConfigFileName).
			WithDetail(err.Error()).
			WithSuggestion("Check that " + ConfigFileName + " is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// LoadOrDefault reads configuration from the specified directory when a
// config file exists there and returns the built-in defaults otherwise.
// The server runs fine without a file.
func LoadOrDefault(dir string) (*Config, error) {
	if !Exists(dir) {
		return New(), nil
	}
	return Load(dir)
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New(errors.CategoryConfig, "cannot encode "+ConfigFileName).Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CategoryConfig, "cannot write "+ConfigFileName).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.HTTPListen == "" {
		c.Server.HTTPListen = DefaultHTTPListen
	}
	if c.Server.ShutdownGrace == "" {
		c.Server.ShutdownGrace = DefaultShutdownGrace
	}

	if len(c.Protocol.Serializers) == 0 {
		c.Protocol.Serializers = encoding.Names(encoding.DefaultIDs())
	}
	if len(c.Protocol.Compressors) == 0 {
		c.Protocol.Compressors = compress.Names(compress.DefaultIDs())
	}
	if c.Protocol.CompressionLevel == 0 {
		c.Protocol.CompressionLevel = compress.DefaultLevel
	}
	if c.Protocol.MaxFrameSize == 0 {
		c.Protocol.MaxFrameSize = wire.DefaultMaxSingleFrame
	}
	if c.Protocol.MaxPacketSize == 0 {
		c.Protocol.MaxPacketSize = wire.DefaultMaxPacketSize
	}
	if c.Protocol.AssemblyTimeout == "" {
		c.Protocol.AssemblyTimeout = "5s"
	}
	if c.Protocol.HandshakeTimeout == "" {
		c.Protocol.HandshakeTimeout = "10s"
	}
	// A present-but-empty list is a deliberate "log everything".
	if c.Protocol.LogFilter == nil {
		c.Protocol.LogFilter = []string{"ping", "ping_echo"}
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	addrs := []struct {
		name  string
		value string
	}{
		{"server.listen", c.Server.Listen},
		{"server.httpListen", c.Server.HTTPListen},
	}
	enabled := 0
	for _, a := range addrs {
		if a.value == "off" {
			continue
		}
		enabled++
		if _, _, err := net.SplitHostPort(a.value); err != nil {
			return errors.Newf(errors.CategoryConfig, "invalid %s address %q", a.name, a.value).
				WithDetail(err.Error()).
				WithSuggestion(`Use host:port form, e.g. "127.0.0.1:14500", or "off" to disable the listener`)
		}
	}
	if enabled == 0 {
		return errors.New(errors.CategoryConfig, "all listeners are disabled").
			WithSuggestion("Enable server.listen or server.httpListen")
	}

	if _, err := encoding.IDsByName(c.Protocol.Serializers); err != nil {
		return errors.New(errors.CategoryConfig, "unknown serializer in protocol.serializers").
			WithDetail(err.Error()).
			WithSuggestion("Known serializers: " + strings.Join(encoding.Names(encoding.DefaultIDs()), ", "))
	}
	if _, err := compress.IDsByName(c.Protocol.Compressors); err != nil {
		return errors.New(errors.CategoryConfig, "unknown compressor in protocol.compressors").
			WithDetail(err.Error()).
			WithSuggestion("Known compressors: " + strings.Join(compress.Names(compress.DefaultIDs()), ", "))
	}
	if c.Protocol.CompressionLevel < 1 || c.Protocol.CompressionLevel > 9 {
		return errors.Newf(errors.CategoryConfig, "compression level %d out of range", c.Protocol.CompressionLevel).
			WithSuggestion("Use a level between 1 (fastest) and 9 (smallest)")
	}

	limits, err := c.limits()
	if err != nil {
		return errors.New(errors.CategoryConfig, "invalid protocol.assemblyTimeout").
			WithDetail(err.Error()).
			WithSuggestion(`Use a duration string such as "5s" or "500ms"`)
	}
	if err := limits.Validate(); err != nil {
		return errors.New(errors.CategoryConfig, "invalid protocol size limits").
			WithDetail(err.Error()).
			WithSuggestion("maxFrameSize must fit inside maxPacketSize, and maxPacketSize may not exceed " + itoa(wire.HardMaxPacketSize) + " bytes")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"protocol.handshakeTimeout", c.Protocol.HandshakeTimeout},
		{"server.shutdownGrace", c.Server.ShutdownGrace},
	} {
		if _, err := parseTimeout(d.value); err != nil {
			return errors.Newf(errors.CategoryConfig, "invalid %s", d.name).
				WithDetail(err.Error()).
				WithSuggestion(`Use a duration string such as "10s"`)
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return errors.New(errors.CategoryConfig, "invalid log.level").
			WithDetail(err.Error()).
			WithSuggestion("Use debug, info, warn, or error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Newf(errors.CategoryConfig, "unknown log.format %q", c.Log.Format).
			WithSuggestion(`Use "text" or "json"`)
	}

	return nil
}

// EngineConfig translates the file configuration into a packet engine
// configuration for the given role. Codec names are resolved to their
// registered ids; unresolvable names surface here as well as in
// Validate.
func (c *Config) EngineConfig(role protocol.Role) (*protocol.Config, error) {
	pc := protocol.DefaultConfig(role)

	sers, err := encoding.IDsByName(c.Protocol.Serializers)
	if err != nil {
		return nil, err
	}
	comps, err := compress.IDsByName(c.Protocol.Compressors)
	if err != nil {
		return nil, err
	}
	pc.Serializers = sers
	pc.Compressors = comps
	pc.CompressionLevel = c.Protocol.CompressionLevel

	limits, err := c.limits()
	if err != nil {
		return nil, err
	}
	pc.Limits = &limits

	hs, err := parseTimeout(c.Protocol.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	pc.HandshakeTimeout = hs
	pc.LogFilter = append([]string(nil), c.Protocol.LogFilter...)

	return pc, nil
}

// TCPEnabled reports whether the raw TCP listener is configured on.
func (c *Config) TCPEnabled() bool {
	return c.Server.Listen != "off"
}

// HTTPEnabled reports whether the HTTP/WebSocket listener is configured
// on.
func (c *Config) HTTPEnabled() bool {
	return c.Server.HTTPListen != "off"
}

// ShutdownTimeout returns the parsed drain window for shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := parseTimeout(c.Server.ShutdownGrace)
	if err != nil || d == 0 {
		return 10 * time.Second
	}
	return d
}

// LogHandler builds the slog handler described by the log section.
func (c *Config) LogHandler(w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.FromError(err, errors.CategoryConfig)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Log.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text", "":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, errors.Newf(errors.CategoryConfig, "unknown log format %q", c.Log.Format).
		WithSuggestion(`Use "text" or "json"`)
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// limits builds the wire limits from the configured sizes and timeout.
func (c *Config) limits() (wire.Limits, error) {
	l := wire.DefaultLimits()
	if c.Protocol.MaxFrameSize > 0 {
		l.MaxSingleFrame = c.Protocol.MaxFrameSize
	}
	if c.Protocol.MaxPacketSize > 0 {
		l.MaxPacketSize = c.Protocol.MaxPacketSize
	}
	d, err := parseTimeout(c.Protocol.AssemblyTimeout)
	if err != nil {
		return wire.Limits{}, err
	}
	l.AssemblyTimeout = d
	return l, nil
}

// parseTimeout parses a duration string; empty means zero (disabled).
func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// itoa converts int to string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	// Reverse
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
