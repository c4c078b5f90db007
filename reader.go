package pargzip

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// splitChunkSize caps the chunks the splitter hands to decode workers,
// whatever block size the header declares.
const splitChunkSize = 1 << 20

// Decompress reads a container of size bytes from r and writes the original
// data to w. The worker count and block size are taken from the header; a
// header that does not match size is rejected with ErrCorrupt.
//
// Every shard is decoded by its own worker into an intermediate file. The
// intermediate files are then merged back into the original order, one
// block from each shard in turn.
func Decompress(ctx context.Context, r io.Reader, size int64, w io.Writer, opts Options) (*Result, error) {
	run := newRun("decompress", &opts)
	if err := ctx.Err(); err != nil {
		return nil, run.fail(err)
	}

	h, err := ReadHeader(r, size)
	if err != nil {
		return nil, run.fail(err)
	}
	run.log.Info("container",
		"workers", h.Workers,
		"block_size", humanize.IBytes(uint64(h.BlockSize)))

	res := &Result{
		Workers:      int(h.Workers),
		BlockSize:    int(h.BlockSize),
		BytesIn:      size,
		ShardLengths: h.ShardLengths,
	}
	if h.Workers == 1 {
		err = decompressSingle(ctx, run, r, w, &opts, res)
	} else {
		err = decompressSharded(ctx, run, r, w, h, &opts, res)
	}
	if err != nil {
		return nil, run.fail(err)
	}

	run.log.Info("decompressed",
		"codec", res.Codec,
		"out", humanize.IBytes(uint64(res.BytesOut)))
	return run.done(res), nil
}

// decompressSingle decodes the rest of r as one stream; there is nothing to
// split or merge.
func decompressSingle(ctx context.Context, run *run, r io.Reader, w io.Writer, opts *Options, res *Result) error {
	run.enter(StateWorkersStarted)
	run.enter(StateProducing)
	if err := ctx.Err(); err != nil {
		return err
	}
	codec, n, err := decodeStream(&ctxWriter{ctx: ctx, w: w}, r, opts.Codec)
	if err != nil {
		return err
	}
	run.enter(StateDraining)
	run.enter(StateFinalizing)
	if codec != nil {
		res.Codec = codec.Name()
	}
	res.Blocks = blockCount(n, res.BlockSize)
	res.BytesOut = n
	return nil
}

func decompressSharded(ctx context.Context, run *run, r io.Reader, w io.Writer, h *Header, opts *Options, res *Result) error {
	wd, err := newWorkDir(opts.TempDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := wd.Remove(); err != nil {
			run.log.Warn("removing working directory", "path", wd.path, "err", err)
		}
	}()
	run.log.Debug("working directory", "path", wd.path)

	n := int(h.Workers)
	chunkPool := newBufferPool(min(int(h.BlockSize), splitChunkSize))
	inboxes := make([]*Slot, n)
	sizes := make([]int64, n)
	used := make([]Codec, n)
	var g errgroup.Group
	for i := range n {
		inboxes[i] = NewSlot()
		g.Go(func() error {
			var err error
			used[i], sizes[i], err = decodeWorker(ctx, inboxes[i], wd.shardPath(i), wd.partPath(i), opts.Codec, chunkPool)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	run.enter(StateWorkersStarted)

	run.enter(StateProducing)
	serr := splitShards(ctx, r, inboxes, h.ShardLengths, chunkPool)

	run.enter(StateDraining)
	werr := g.Wait()
	if serr != nil {
		return serr
	}
	if werr != nil {
		return werr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPartSizes(sizes, int64(h.BlockSize)); err != nil {
		return err
	}

	codec, err := sameCodec(used)
	if err != nil {
		return err
	}
	if codec != nil {
		res.Codec = codec.Name()
	}

	run.enter(StateFinalizing)
	pool := newBufferPool(int(h.BlockSize))
	slots := make([]*Slot, n)
	var readers errgroup.Group
	for i := range n {
		slots[i] = NewSlot()
		readers.Go(func() error {
			return readAhead(wd.partPath(i), slots[i], pool)
		})
	}
	chunks, written, merr := mergeShards(ctx, w, slots, pool)
	rerr := readers.Wait()
	if rerr != nil {
		return rerr
	}
	if merr != nil {
		if ctx.Err() != nil {
			return merr
		}
		return fmt.Errorf("writing output: %w", merr)
	}

	var total int64
	for _, s := range sizes {
		total += s
	}
	if written != total {
		return fmt.Errorf("merged %d bytes, shards hold %d", written, total)
	}
	res.Blocks = chunks
	res.BytesOut = written
	return nil
}

// sameCodec returns the codec the shards were decoded with, nil when all of
// them were empty. Shards of one container never mix codecs.
func sameCodec(used []Codec) (Codec, error) {
	var first Codec
	for i, c := range used {
		if c == nil {
			continue
		}
		if first == nil {
			first = c
		} else if c.Name() != first.Name() {
			return nil, fmt.Errorf("%w: shard %d is %s, earlier shards are %s", ErrCorrupt, i, c.Name(), first.Name())
		}
	}
	return first, nil
}

func blockCount(n int64, blockSize int) int {
	return int((n + int64(blockSize) - 1) / int64(blockSize))
}

// DecompressFile decompresses the container at src into a new file at dst.
// On failure dst is removed.
func DecompressFile(ctx context.Context, src, dst string, opts Options) (*Result, error) {
	in, out, err := openPair(src, dst)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		out.Close()
		os.Remove(dst)
		return nil, err
	}
	res, err := Decompress(ctx, in, info.Size(), out, opts)
	return finishOutput(out, res, err)
}
