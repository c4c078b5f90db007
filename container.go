package pargzip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCorrupt is returned when a container does not hold what its header
// says it holds, or when a shard fails to decode.
var ErrCorrupt = errors.New("corrupt container")

const fixedHeaderSize = 8

// Header is the container header. All fields are little-endian on disk:
//
//	int32 Workers
//	int32 BlockSize
//	int64 ShardLengths[Workers]   (only when Workers > 1)
//
// The payload follows immediately. With a single worker it is one codec
// stream running to the end of the file; otherwise it is the shards
// concatenated in worker order, ShardLengths[i] bytes each.
type Header struct {
	Workers      int32
	BlockSize    int32
	ShardLengths []int64
}

// Size is the encoded length of the header in bytes.
func (h *Header) Size() int64 {
	if h.Workers > 1 {
		return fixedHeaderSize + 8*int64(h.Workers)
	}
	return fixedHeaderSize
}

// PayloadSize is the sum of the shard lengths. It is meaningless for a
// single-worker header, which has no length table.
func (h *Header) PayloadSize() int64 {
	var total int64
	for _, l := range h.ShardLengths {
		total += l
	}
	return total
}

func (h *Header) Validate() error {
	if h.Workers < 1 || h.Workers > MaxWorkers {
		return fmt.Errorf("%w: worker count %d", ErrCorrupt, h.Workers)
	}
	if h.BlockSize <= 0 || h.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size %d", ErrCorrupt, h.BlockSize)
	}
	if h.Workers == 1 {
		if len(h.ShardLengths) != 0 {
			return fmt.Errorf("%w: single worker header with a length table", ErrCorrupt)
		}
		return nil
	}
	if len(h.ShardLengths) != int(h.Workers) {
		return fmt.Errorf("%w: %d shard lengths for %d workers", ErrCorrupt, len(h.ShardLengths), h.Workers)
	}
	for i, l := range h.ShardLengths {
		if l < 0 {
			return fmt.Errorf("%w: shard %d has negative length %d", ErrCorrupt, i, l)
		}
	}
	return nil
}

// WriteHeader encodes h to w.
func WriteHeader(w io.Writer, h *Header) error {
	if err := h.Validate(); err != nil {
		return err
	}
	fixed := [2]int32{h.Workers, h.BlockSize}
	if err := binary.Write(w, binary.LittleEndian, fixed); err != nil {
		return err
	}
	if h.Workers > 1 {
		return binary.Write(w, binary.LittleEndian, h.ShardLengths)
	}
	return nil
}

// ReadHeader decodes a header from r and checks it against size, the total
// length of the container. A header whose length table does not account for
// exactly the bytes that follow it is rejected with ErrCorrupt. A negative
// size skips the length checks.
func ReadHeader(r io.Reader, size int64) (*Header, error) {
	var fixed [2]int32
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}
	h := &Header{Workers: fixed[0], BlockSize: fixed[1]}
	if h.Workers < 1 || h.Workers > MaxWorkers {
		return nil, fmt.Errorf("%w: worker count %d", ErrCorrupt, h.Workers)
	}
	if size >= 0 && h.Size() > size {
		return nil, fmt.Errorf("%w: header needs %d bytes, container has %d", ErrCorrupt, h.Size(), size)
	}

	if h.Workers > 1 {
		h.ShardLengths = make([]int64, h.Workers)
		if err := binary.Read(r, binary.LittleEndian, h.ShardLengths); err != nil {
			return nil, fmt.Errorf("%w: reading shard lengths: %v", ErrCorrupt, err)
		}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	if size >= 0 && h.Workers > 1 {
		remaining := size - h.Size()
		var total int64
		for i, l := range h.ShardLengths {
			if l > remaining-total {
				return nil, fmt.Errorf("%w: shard %d runs past the end of the container", ErrCorrupt, i)
			}
			total += l
		}
		if total != remaining {
			return nil, fmt.Errorf("%w: shards cover %d bytes, payload is %d", ErrCorrupt, total, remaining)
		}
	}
	return h, nil
}

// concatShards appends the shard files to w in order, checking that each
// one is exactly as long as recorded.
func concatShards(w io.Writer, paths []string, lengths []int64) error {
	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(w, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("appending shard %d: %w", i, err)
		}
		if n != lengths[i] {
			return fmt.Errorf("shard %d is %d bytes, expected %d", i, n, lengths[i])
		}
	}
	return nil
}

// splitShards deals the payload following a header out of r to the decode
// workers: inbox i receives exactly lengths[i] bytes in chunks of at most
// the pool's size, then the end-of-stream sentinel. Every inbox is closed
// on return, also when the payload turns out to be short or ctx is
// cancelled.
func splitShards(ctx context.Context, r io.Reader, inboxes []*Slot, lengths []int64, pool *bufferPool) error {
	next := 0
	defer func() {
		for ; next < len(inboxes); next++ {
			inboxes[next].Close()
		}
	}()

	for ; next < len(inboxes); next++ {
		inbox := inboxes[next]
		remaining := lengths[next]
		for remaining > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf := pool.get()
			if int64(len(buf)) > remaining {
				buf = buf[:remaining]
			}
			n, err := io.ReadFull(r, buf)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				pool.put(buf)
				return fmt.Errorf("%w: shard %d truncated, %d bytes missing", ErrCorrupt, next, remaining-int64(n))
			}
			if err != nil {
				pool.put(buf)
				return fmt.Errorf("extracting shard %d: %w", next, err)
			}
			remaining -= int64(n)
			inbox.Send(buf)
		}
		inbox.Close()
	}
	return nil
}
