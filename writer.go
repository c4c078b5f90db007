package pargzip

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// Compress splits r into blocks of opts.BlockSize bytes, compresses them on
// opts.Workers workers and writes the resulting container to w.
//
// Block k is compressed by worker k mod Workers, so every worker produces
// one shard holding every Workers-th block of the input. With a single
// worker the container is just the fixed header followed by one codec
// stream, and no working directory is used.
func Compress(ctx context.Context, r io.Reader, w io.Writer, opts Options) (*Result, error) {
	run := newRun("compress", &opts)
	if err := opts.Validate(); err != nil {
		return nil, run.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, run.fail(err)
	}

	res := &Result{
		Workers:   opts.Workers,
		BlockSize: opts.BlockSize,
		Codec:     opts.codec().Name(),
	}
	var err error
	if opts.Workers == 1 {
		err = compressSingle(ctx, run, r, w, &opts, res)
	} else {
		err = compressSharded(ctx, run, r, w, &opts, res)
	}
	if err != nil {
		return nil, run.fail(err)
	}

	run.log.Info("compressed",
		"workers", res.Workers,
		"blocks", res.Blocks,
		"in", humanize.IBytes(uint64(res.BytesIn)),
		"out", humanize.IBytes(uint64(res.BytesOut)))
	return run.done(res), nil
}

func compressSingle(ctx context.Context, run *run, r io.Reader, w io.Writer, opts *Options, res *Result) error {
	h := &Header{Workers: 1, BlockSize: int32(opts.BlockSize)}
	if err := WriteHeader(w, h); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	pool := newBufferPool(opts.BlockSize)
	inbox := NewSlot()
	var stats ShardStats
	var g errgroup.Group
	g.Go(func() error {
		var err error
		stats, err = compressWorker(inbox, w, opts.codec(), opts.Level, pool)
		return err
	})
	run.enter(StateWorkersStarted)

	run.enter(StateProducing)
	blocks, serr := scatterBlocks(ctx, r, []*Slot{inbox}, pool)

	run.enter(StateDraining)
	werr := g.Wait()
	if serr != nil {
		return fmt.Errorf("reading input: %w", serr)
	}
	if werr != nil {
		return werr
	}

	run.enter(StateFinalizing)
	res.Blocks = blocks
	res.BytesIn = stats.BytesIn
	res.BytesOut = h.Size() + stats.BytesOut
	return nil
}

func compressSharded(ctx context.Context, run *run, r io.Reader, w io.Writer, opts *Options, res *Result) error {
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

	n := opts.Workers
	paths := wd.shardPaths(n)
	files := make([]*os.File, 0, n)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, path := range paths {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	pool := newBufferPool(opts.BlockSize)
	inboxes := make([]*Slot, n)
	stats := make([]ShardStats, n)
	var g errgroup.Group
	for i := range n {
		inboxes[i] = NewSlot()
		g.Go(func() error {
			var err error
			stats[i], err = compressWorker(inboxes[i], files[i], opts.codec(), opts.Level, pool)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	run.enter(StateWorkersStarted)

	run.enter(StateProducing)
	blocks, serr := scatterBlocks(ctx, r, inboxes, pool)

	run.enter(StateDraining)
	werr := g.Wait()
	if serr != nil {
		return fmt.Errorf("reading input: %w", serr)
	}
	if werr != nil {
		return werr
	}
	for i, f := range files {
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing shard %d: %w", i, err)
		}
	}
	files = files[:0]

	if err := ctx.Err(); err != nil {
		return err
	}

	run.enter(StateFinalizing)
	h := &Header{
		Workers:      int32(n),
		BlockSize:    int32(opts.BlockSize),
		ShardLengths: make([]int64, n),
	}
	for i, st := range stats {
		h.ShardLengths[i] = st.BytesOut
		res.BytesIn += st.BytesIn
		run.log.Debug("shard",
			"worker", i,
			"blocks", st.Blocks,
			"in", humanize.IBytes(uint64(st.BytesIn)),
			"out", humanize.IBytes(uint64(st.BytesOut)))
	}
	if err := WriteHeader(w, h); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := concatShards(w, paths, h.ShardLengths); err != nil {
		return err
	}

	res.Blocks = blocks
	res.ShardLengths = h.ShardLengths
	res.BytesOut = h.Size() + h.PayloadSize()
	return nil
}

// CompressFile compresses the file at src into a new container at dst.
// On failure dst is removed.
func CompressFile(ctx context.Context, src, dst string, opts Options) (*Result, error) {
	in, out, err := openPair(src, dst)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	res, err := Compress(ctx, in, out, opts)
	return finishOutput(out, res, err)
}

// openPair opens src for reading and creates dst, refusing to write a file
// over itself.
func openPair(src, dst string) (*os.File, *os.File, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	inInfo, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if !inInfo.Mode().IsRegular() {
		in.Close()
		return nil, nil, fmt.Errorf("%w: %s is not a regular file", ErrConfig, src)
	}
	if outInfo, err := os.Stat(dst); err == nil && os.SameFile(inInfo, outInfo) {
		in.Close()
		return nil, nil, fmt.Errorf("%w: %s and %s are the same file", ErrConfig, src, dst)
	}

	out, err := os.Create(dst)
	if err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return in, out, nil
}

func finishOutput(out *os.File, res *Result, err error) (*Result, error) {
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", ErrFailed, cerr)
	}
	if err != nil {
		os.Remove(out.Name())
		return nil, err
	}
	return res, nil
}
