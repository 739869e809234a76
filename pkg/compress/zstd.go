package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

func init() {
	Register(&zstdCompressor{encoders: map[zstd.EncoderLevel]*zstd.Encoder{}})
}

// zstdCompressor caches one stateless encoder per level and shares a
// single decoder; EncodeAll/DecodeAll are safe for concurrent use.
type zstdCompressor struct {
	mu       sync.Mutex
	encoders map[zstd.EncoderLevel]*zstd.Encoder

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

func (*zstdCompressor) ID() uint8    { return IDZstd }
func (*zstdCompressor) Name() string { return "zstd" }

func (c *zstdCompressor) encoder(level int) (*zstd.Encoder, error) {
	el := zstd.EncoderLevelFromZstd(level)
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[el]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(el))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	c.encoders[el] = enc
	return enc, nil
}

func (c *zstdCompressor) decoder() (*zstd.Decoder, error) {
	c.decOnce.Do(func() {
		// The hard memory bound protects against hostile window sizes;
		// the per-call maxSize check below enforces the engine's own cap.
		c.dec, c.decErr = zstd.NewReader(nil,
			zstd.WithDecoderMaxMemory(maxDecodedSize),
		)
	})
	return c.dec, c.decErr
}

// maxDecodedSize bounds any single zstd decode regardless of the caller's
// limit.
const maxDecodedSize = 64 * 1024 * 1024

func (c *zstdCompressor) Compress(src []byte, level int) ([]byte, error) {
	enc, err := c.encoder(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2+64)), nil
}

func (c *zstdCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	if len(out) > maxSize {
		return nil, ErrDecompressedTooLarge
	}
	return out, nil
}
