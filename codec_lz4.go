package pargzip

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

type lz4Codec struct{}

func init() { registerCodec(lz4Codec{}) }

func (lz4Codec) Name() string  { return "lz4" }
func (lz4Codec) Magic() []byte { return []byte{0x04, 0x22, 0x4d, 0x18} }

func (lz4Codec) CheckLevel(level int) error {
	return checkLevelRange("lz4", level, 0, len(lz4Levels)-1)
}

func (c lz4Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if err := c.CheckLevel(level); err != nil {
		return nil, err
	}
	if level == -1 {
		level = 0
	}
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
		return nil, err
	}
	return zw, nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
