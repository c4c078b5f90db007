package pargzip

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// ShardStats records what one compression worker did.
type ShardStats struct {
	Blocks   int
	BytesIn  int64
	BytesOut int64
}

// compressWorker compresses every block arriving on inbox into one codec
// stream written to shard, in the order the blocks arrive. It returns once
// the inbox is closed.
//
// After a failure the worker keeps taking blocks off its inbox and drops
// them, so the scheduler is never left waiting on it.
func compressWorker(inbox *Slot, shard io.Writer, codec Codec, level int, pool *bufferPool) (ShardStats, error) {
	var stats ShardStats
	cw := &countWriter{Writer: shard}

	zw, err := codec.NewWriter(cw, level)
	if err != nil {
		drain(inbox, pool)
		return stats, fmt.Errorf("creating %s writer: %w", codec.Name(), err)
	}

	for {
		block, ok := inbox.Receive()
		if !ok {
			break
		}
		_, err = zw.Write(block)
		pool.put(block)
		if err != nil {
			drain(inbox, pool)
			zw.Close()
			return stats, fmt.Errorf("compressing block: %w", err)
		}
		stats.Blocks++
		stats.BytesIn += int64(len(block))
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("closing %s stream: %w", codec.Name(), err)
	}
	stats.BytesOut = cw.off
	return stats, nil
}

func drain(s *Slot, pool *bufferPool) {
	for {
		p, ok := s.Receive()
		if !ok {
			return
		}
		if pool != nil {
			pool.put(p)
		}
	}
}

// decodeWorker receives one compressed shard on inbox, stores it at shard,
// and once the shard is complete decodes it into part. A nil codec is
// detected from the shard contents.
func decodeWorker(ctx context.Context, inbox *Slot, shard, part string, codec Codec, pool *bufferPool) (Codec, int64, error) {
	f, err := os.Create(shard)
	if err != nil {
		drain(inbox, pool)
		return nil, 0, err
	}
	for {
		chunk, ok := inbox.Receive()
		if !ok {
			break
		}
		if err == nil {
			_, err = f.Write(chunk)
		}
		pool.put(chunk)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, 0, fmt.Errorf("storing shard: %w", err)
	}

	codec, n, err := decompressShard(ctx, shard, part, codec)
	if err != nil {
		return codec, n, err
	}
	return codec, n, os.Remove(shard)
}

// decompressShard decodes the shard file at src completely into dst, giving
// up once ctx is cancelled.
func decompressShard(ctx context.Context, src, dst string, codec Codec) (Codec, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, 0, err
	}

	codec, n, err := decodeStream(&ctxWriter{ctx: ctx, w: out}, in, codec)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return codec, n, err
}

// decodeStream copies the decompressed form of r into w and returns the
// codec it used. A nil codec is detected from the first bytes of r; an
// empty r decodes to nothing. Failures coming from the decoder are reported
// as ErrCorrupt, failures writing w are not.
func decodeStream(w io.Writer, r io.Reader, codec Codec) (Codec, int64, error) {
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err == io.EOF {
		return codec, 0, nil
	} else if err != nil {
		return codec, 0, err
	}

	var src io.Reader = br
	if codec == nil {
		var err error
		codec, src, err = DetectCodec(br)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	zr, err := codec.NewReader(src)
	if err != nil {
		return codec, 0, fmt.Errorf("%w: %s header: %v", ErrCorrupt, codec.Name(), err)
	}
	defer zr.Close()

	n, err := io.Copy(w, &corruptReader{r: zr})
	return codec, n, err
}

// corruptReader tags read errors of a decoder as ErrCorrupt.
type corruptReader struct {
	r io.Reader
}

func (cr *corruptReader) Read(data []byte) (int, error) {
	n, err := cr.r.Read(data)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, err
}

// ctxWriter fails every write once ctx is done.
type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (cw *ctxWriter) Write(data []byte) (int, error) {
	if err := cw.ctx.Err(); err != nil {
		return 0, err
	}
	return cw.w.Write(data)
}
