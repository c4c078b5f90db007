package pargzip

import (
	"io"

	"github.com/klauspost/compress/s2"
)

type s2Codec struct{}

func init() { registerCodec(s2Codec{}) }

func (s2Codec) Name() string { return "s2" }

// Stream identifier chunk: type 0xff, length 6, "S2sTwO".
func (s2Codec) Magic() []byte { return []byte("\xff\x06\x00\x00S2sTwO") }

// 1 is the default speed, 2 better compression, 3 best compression.
func (s2Codec) CheckLevel(level int) error {
	return checkLevelRange("s2", level, 1, 3)
}

func (c s2Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if err := c.CheckLevel(level); err != nil {
		return nil, err
	}
	opts := []s2.WriterOption{s2.WriterConcurrency(1)}
	switch level {
	case 2:
		opts = append(opts, s2.WriterBetterCompression())
	case 3:
		opts = append(opts, s2.WriterBestCompression())
	}
	return s2.NewWriter(w, opts...), nil
}

func (s2Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(r)), nil
}
