package pargzip

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
)

// Each pgzip writer compresses in the background on its own; keep the
// read-ahead of every shard small since there are already W of them.
const (
	gzipConcurrencyBlock = 1 << 20
	gzipConcurrency      = 2
)

type gzipCodec struct{}

func init() { registerCodec(gzipCodec{}) }

func (gzipCodec) Name() string  { return "gzip" }
func (gzipCodec) Magic() []byte { return []byte{0x1f, 0x8b} }

func (gzipCodec) CheckLevel(level int) error {
	return checkLevelRange("gzip", level, pgzip.NoCompression, pgzip.BestCompression)
}

func (c gzipCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if err := c.CheckLevel(level); err != nil {
		return nil, err
	}
	gz, err := pgzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, err
	}
	if err := gz.SetConcurrency(gzipConcurrencyBlock, gzipConcurrency); err != nil {
		return nil, err
	}
	return gz, nil
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}
