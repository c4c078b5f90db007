package pargzip

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// DetectCodec looks at the first bytes of a compressed stream and returns
// the registered codec whose magic matches. The returned reader yields the
// whole stream, the sniffed bytes included, and should be used in place of
// r from then on.
//
// The container header does not record the codec, so this is how a
// decompressor finds out how the shards were written.
func DetectCodec(r io.Reader) (Codec, io.Reader, error) {
	buf := bufio.NewReader(r)
	for _, name := range CodecNames() {
		c := codecs[name]
		magic := c.Magic()
		head, err := buf.Peek(len(magic))
		if err != nil && len(head) < len(magic) {
			continue
		}
		if bytes.Equal(head, magic) {
			return c, buf, nil
		}
	}
	head, _ := buf.Peek(4)
	return nil, buf, fmt.Errorf("%w: stream starts with % x", ErrUnknownCodec, head)
}
