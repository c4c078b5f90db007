package pargzip

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct{}

func init() { registerCodec(zstdCodec{}) }

func (zstdCodec) Name() string  { return "zstd" }
func (zstdCodec) Magic() []byte { return []byte{0x28, 0xb5, 0x2f, 0xfd} }

func (zstdCodec) CheckLevel(level int) error {
	return checkLevelRange("zstd", level, 1, 22)
}

func (c zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if err := c.CheckLevel(level); err != nil {
		return nil, err
	}
	encoderLevel := zstd.SpeedDefault
	if level != -1 {
		encoderLevel = zstd.EncoderLevelFromZstd(level)
	}
	// Zero frames keep empty shards non-empty, so they still carry the magic.
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
