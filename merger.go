package pargzip

import (
	"context"
	"fmt"
	"io"
	"os"
)

// readAhead streams the file at path into out in chunks of the pool's
// block size, then closes out. out is closed on every return path.
func readAhead(path string, out *Slot, pool *bufferPool) error {
	defer out.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		buf := pool.get()
		n, err := readBlock(f, buf)
		if err != nil {
			pool.put(buf)
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if n == 0 {
			pool.put(buf)
			return nil
		}
		out.Send(buf[:n])
		if n < len(buf) {
			return nil
		}
	}
}

// mergeShards rebuilds the original stream from the decompressed shards.
//
// Shard i holds blocks i, i+W, i+2W... of the input back to back, and every
// one of them is a full block except the last block of the whole input. So
// taking one block-sized chunk from each shard in ascending order, round
// after round, yields the blocks in their original order. A shard that runs
// out is skipped from then on; the shards that run out first are always the
// highest ones of the final round.
//
// If writing to w fails or ctx is cancelled, mergeShards stops writing but
// keeps draining every slot so that the readers can finish, and returns the
// error.
func mergeShards(ctx context.Context, w io.Writer, slots []*Slot, pool *bufferPool) (int, int64, error) {
	done := make([]bool, len(slots))
	remaining := len(slots)
	var (
		chunks  int
		written int64
		werr    error
	)

	for remaining > 0 {
		for i, slot := range slots {
			if done[i] {
				continue
			}
			chunk, ok := slot.Receive()
			if !ok {
				done[i] = true
				remaining--
				continue
			}
			if werr == nil {
				werr = ctx.Err()
			}
			if werr == nil {
				var n int
				n, werr = w.Write(chunk)
				written += int64(n)
				if werr == nil && n < len(chunk) {
					werr = io.ErrShortWrite
				}
				chunks++
			}
			pool.put(chunk)
		}
	}
	return chunks, written, werr
}

// checkPartSizes verifies that decoded shards of the given sizes are what
// dealing ceil(total/blockSize) blocks round-robin produces, which the
// merger relies on.
func checkPartSizes(sizes []int64, blockSize int64) error {
	var total int64
	for _, s := range sizes {
		total += s
	}
	w := int64(len(sizes))
	blocks := (total + blockSize - 1) / blockSize
	for i, s := range sizes {
		n := blocks / w
		if int64(i) < blocks%w {
			n++
		}
		want := n * blockSize
		if blocks > 0 && int64(i) == (blocks-1)%w {
			want -= blocks*blockSize - total
		}
		if s != want {
			return fmt.Errorf("%w: shard %d decodes to %d bytes, expected %d", ErrCorrupt, i, s, want)
		}
	}
	return nil
}
