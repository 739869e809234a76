package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/skylightd/skylight/pkg/compress"
	"github.com/skylightd/skylight/pkg/encoding"
	"github.com/skylightd/skylight/pkg/wire"
)

func TestDefaultConfigValid(t *testing.T) {
	for _, role := range []Role{RoleClient, RoleServer} {
		cfg := DefaultConfig(role)
		if err := cfg.Validate(); err != nil {
			t.Errorf("DefaultConfig(%v).Validate() error = %v", role, err)
		}
	}
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := (&Config{Role: RoleServer}).withDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("withDefaults().Validate() error = %v", err)
	}
	if cfg.Limits == nil {
		t.Fatal("Limits not defaulted")
	}
	if cfg.CompressionLevel != DefaultCompressionLevel {
		t.Errorf("CompressionLevel = %d, want %d", cfg.CompressionLevel, DefaultCompressionLevel)
	}
	if cfg.MinCompressSize != DefaultMinCompressSize {
		t.Errorf("MinCompressSize = %d, want %d", cfg.MinCompressSize, DefaultMinCompressSize)
	}
	if cfg.CloseFlushTimeout != DefaultCloseFlushTimeout {
		t.Errorf("CloseFlushTimeout = %v, want %v", cfg.CloseFlushTimeout, DefaultCloseFlushTimeout)
	}
	if len(cfg.Serializers) == 0 || len(cfg.Compressors) == 0 {
		t.Error("codec preference lists not defaulted")
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	in := &Config{
		Role:             RoleClient,
		Serializers:      []uint8{encoding.IDCBOR},
		CompressionLevel: 9,
		HandshakeTimeout: 2 * time.Second,
	}
	cfg := in.withDefaults()
	if len(cfg.Serializers) != 1 || cfg.Serializers[0] != encoding.IDCBOR {
		t.Errorf("Serializers = %v, want [cbor]", cfg.Serializers)
	}
	if cfg.CompressionLevel != 9 {
		t.Errorf("CompressionLevel = %d, want 9", cfg.CompressionLevel)
	}
	if cfg.HandshakeTimeout != 2*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 2s", cfg.HandshakeTimeout)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	base := func() *Config { return DefaultConfig(RoleClient) }
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error // nil means any error
	}{
		{
			name:   "bad_role",
			mutate: func(c *Config) { c.Role = Role(99) },
		},
		{
			name:   "nil_limits",
			mutate: func(c *Config) { c.Limits = nil },
		},
		{
			name:    "unknown_serializer",
			mutate:  func(c *Config) { c.Serializers = []uint8{42} },
			wantErr: encoding.ErrUnknownSerializer,
		},
		{
			name:    "unknown_compressor",
			mutate:  func(c *Config) { c.Compressors = []uint8{42} },
			wantErr: compress.ErrUnknownCompressor,
		},
		{
			name:   "empty_serializers",
			mutate: func(c *Config) { c.Serializers = []uint8{} },
		},
		{
			name:   "level_too_high",
			mutate: func(c *Config) { c.CompressionLevel = 10 },
		},
		{
			name:   "level_too_low",
			mutate: func(c *Config) { c.CompressionLevel = -1 },
		},
		{
			name:   "negative_retries",
			mutate: func(c *Config) { c.WriteRetries = -1 },
		},
		{
			name:   "tiny_coalesce_limit",
			mutate: func(c *Config) { c.CoalesceLimit = wire.HeaderSize - 1 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestConfigCloneIndependent(t *testing.T) {
	orig := DefaultConfig(RoleServer).
		WithSerializers(encoding.IDNative, encoding.IDMsgpack).
		WithFeatures(map[string]any{"feature": true})
	clone := orig.Clone()

	clone.Serializers[0] = encoding.IDCBOR
	clone.Features["feature"] = false
	clone.Limits.MaxPacketSize = 4096

	if orig.Serializers[0] != encoding.IDNative {
		t.Error("Clone() shares the serializer slice")
	}
	if orig.Features["feature"] != true {
		t.Error("Clone() shares the features map")
	}
	if orig.Limits.MaxPacketSize == 4096 {
		t.Error("Clone() shares the limits struct")
	}
}

func TestConfigChainedSetters(t *testing.T) {
	limits := wire.Limits{MaxSingleFrame: 2048, MaxPacketSize: 1 << 20, AssemblyTimeout: time.Second}
	cfg := DefaultConfig(RoleClient).
		WithLimits(limits).
		WithCompressors(compress.IDNone).
		WithHandshakeTimeout(time.Second)

	if cfg.Limits.MaxSingleFrame != 2048 {
		t.Errorf("Limits.MaxSingleFrame = %d, want 2048", cfg.Limits.MaxSingleFrame)
	}
	if len(cfg.Compressors) != 1 || cfg.Compressors[0] != compress.IDNone {
		t.Errorf("Compressors = %v, want [none]", cfg.Compressors)
	}
	if cfg.HandshakeTimeout != time.Second {
		t.Errorf("HandshakeTimeout = %v, want 1s", cfg.HandshakeTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
