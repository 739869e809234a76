package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

func init() {
	Register(zlibCompressor{})
}

type zlibCompressor struct{}

func (zlibCompressor) ID() uint8    { return IDZlib }
func (zlibCompressor) Name() string { return "zlib" }

func (zlibCompressor) Compress(src []byte, level int) ([]byte, error) {
	if level < zlib.BestSpeed {
		level = zlib.BestSpeed
	} else if level > zlib.BestCompression {
		level = zlib.BestCompression
	}

	var buf bytes.Buffer
	buf.Grow(len(src)/2 + 64)
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("compress: zlib: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("compress: zlib: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: zlib: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("compress: zlib: %w", err)
	}
	defer r.Close()
	return readBounded(r, maxSize, "zlib")
}

// readBounded drains r into memory, failing once the output exceeds
// maxSize (zip-bomb guard shared by the stream-based codecs).
func readBounded(r io.Reader, maxSize int, name string) ([]byte, error) {
	limited := io.LimitedReader{R: r, N: int64(maxSize) + 1}
	var out bytes.Buffer
	if _, err := out.ReadFrom(&limited); err != nil {
		return nil, fmt.Errorf("compress: %s: %w", name, err)
	}
	if out.Len() > maxSize {
		return nil, ErrDecompressedTooLarge
	}
	return out.Bytes(), nil
}
