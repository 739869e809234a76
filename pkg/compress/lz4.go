package compress

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

func init() {
	Register(lz4Compressor{})
}

// lz4Compressor uses the lz4 frame format. Low levels map to the fast
// path; 4 and above use the high-compression match finder.
type lz4Compressor struct{}

func (lz4Compressor) ID() uint8    { return IDLZ4 }
func (lz4Compressor) Name() string { return "lz4" }

func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 3:
		return lz4.Fast
	case level == 4:
		return lz4.Level4
	case level == 5:
		return lz4.Level5
	case level == 6:
		return lz4.Level6
	case level == 7:
		return lz4.Level7
	case level == 8:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

func (lz4Compressor) Compress(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(src)/2 + 64)
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	return readBounded(lz4.NewReader(bytes.NewReader(src)), maxSize, "lz4")
}
