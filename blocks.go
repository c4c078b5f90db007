package pargzip

import (
	"context"
	"io"
	"sync"
)

const (
	// DefaultBlockSize is one MiB.
	DefaultBlockSize = 1 << 20

	// MaxBlockSize bounds the block size accepted from options and from
	// container headers, since every worker keeps a few blocks in memory.
	MaxBlockSize = 1 << 30
)

// bufferPool recycles block buffers between the scheduler and the workers.
// A buffer belongs to whoever last received it; the receiver puts it back
// when done.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (bp *bufferPool) get() []byte {
	return (*bp.pool.Get().(*[]byte))[:bp.size]
}

func (bp *bufferPool) put(b []byte) {
	if cap(b) < bp.size {
		return
	}
	b = b[:bp.size]
	bp.pool.Put(&b)
}

// readBlock fills buf from r. It only returns a short block at the end of
// the stream, and never returns io.EOF or io.ErrUnexpectedEOF.
func readBlock(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

// scatterBlocks reads r in blocks of len(pool) bytes and deals them to the
// inboxes round-robin: block k goes to inboxes[k%len(inboxes)]. Once the
// input is exhausted every inbox in turn receives the end-of-stream
// sentinel. It returns the number of blocks sent.
//
// On a read error or a cancelled context all inboxes still open are closed,
// so that every worker terminates, and the error is returned.
func scatterBlocks(ctx context.Context, r io.Reader, inboxes []*Slot, pool *bufferPool) (int, error) {
	closed := make([]bool, len(inboxes))
	open := len(inboxes)
	blocks := 0
	eof := false

	closeAll := func() {
		for i, inbox := range inboxes {
			if !closed[i] {
				closed[i] = true
				inbox.Close()
			}
		}
	}

	for open > 0 {
		for i, inbox := range inboxes {
			if closed[i] {
				continue
			}
			if err := ctx.Err(); err != nil {
				closeAll()
				return blocks, err
			}

			n := 0
			var buf []byte
			if !eof {
				buf = pool.get()
				var err error
				n, err = readBlock(r, buf)
				if err != nil {
					pool.put(buf)
					closeAll()
					return blocks, err
				}
				eof = n < len(buf)
			}
			if n == 0 {
				if buf != nil {
					pool.put(buf)
				}
				closed[i] = true
				open--
				inbox.Close()
				continue
			}
			blocks++
			inbox.Send(buf[:n])
		}
	}
	return blocks, nil
}

type countWriter struct {
	io.Writer
	off int64
}

func (cw *countWriter) Write(data []byte) (int, error) {
	n, err := cw.Writer.Write(data)
	cw.off += int64(n)
	return n, err
}
