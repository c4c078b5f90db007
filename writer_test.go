package pargzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func testOptions(t *testing.T, workers, blockSize int) Options {
	opts := DefaultOptions()
	opts.Workers = workers
	opts.BlockSize = blockSize
	opts.TempDir = t.TempDir()
	return opts
}

func compressBytes(t *testing.T, data []byte, opts Options) ([]byte, *Result) {
	t.Helper()
	var out bytes.Buffer
	res, err := Compress(context.Background(), bytes.NewReader(data), &out, opts)
	if err != nil {
		t.Fatal(err)
	}
	return out.Bytes(), res
}

func decompressBytes(t *testing.T, container []byte, opts Options) ([]byte, *Result) {
	t.Helper()
	var out bytes.Buffer
	res, err := Decompress(context.Background(), bytes.NewReader(container), int64(len(container)), &out, opts)
	if err != nil {
		t.Fatal(err)
	}
	return out.Bytes(), res
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("left behind in %s: %s", dir, e.Name())
	}
}

func TestRoundTrip(t *testing.T) {
	for _, blockSize := range []int{1, 7, 4096} {
		for _, workers := range []int{1, 2, 3, 4, 8} {
			for _, size := range []int{0, 1, blockSize - 1, blockSize, blockSize + 1, 3 * blockSize, 7*blockSize + 13} {
				data := randomBytes(t, size)
				opts := testOptions(t, workers, blockSize)

				container, cres := compressBytes(t, data, opts)
				got, dres := decompressBytes(t, container, Options{TempDir: opts.TempDir})

				if digest(got) != digest(data) {
					t.Fatalf("W=%d B=%d size=%d: round trip differs", workers, blockSize, size)
				}
				want := (size + blockSize - 1) / blockSize
				if cres.Blocks != want || dres.Blocks != want {
					t.Errorf("W=%d B=%d size=%d: blocks %d/%d, want %d", workers, blockSize, size, cres.Blocks, dres.Blocks, want)
				}
				if cres.BytesIn != int64(size) || cres.BytesOut != int64(len(container)) {
					t.Errorf("W=%d B=%d size=%d: compress counted %d in, %d out", workers, blockSize, size, cres.BytesIn, cres.BytesOut)
				}
				if dres.BytesOut != int64(size) {
					t.Errorf("W=%d B=%d size=%d: decompress counted %d out", workers, blockSize, size, dres.BytesOut)
				}
				assertDirEmpty(t, opts.TempDir)
			}
		}
	}
}

func TestRoundTripCodecs(t *testing.T) {
	data := bytes.Repeat(randomBytes(t, 3000), 20)
	for _, name := range CodecNames() {
		c, err := CodecByName(name)
		if err != nil {
			t.Fatal(err)
		}
		for _, workers := range []int{1, 4} {
			opts := testOptions(t, workers, 5000)
			opts.Codec = c

			container, res := compressBytes(t, data, opts)
			if res.Codec != name {
				t.Errorf("result codec %q, want %q", res.Codec, name)
			}
			got, dres := decompressBytes(t, container, Options{TempDir: opts.TempDir})
			if !bytes.Equal(got, data) {
				t.Fatalf("%s W=%d: round trip differs", name, workers)
			}
			if dres.Codec != name {
				t.Errorf("%s W=%d: detected %q", name, workers, dres.Codec)
			}
		}
	}
}

func TestHeaderMatchesShards(t *testing.T) {
	data := randomBytes(t, 100000)
	for _, workers := range []int{2, 3, 5} {
		container, res := compressBytes(t, data, testOptions(t, workers, 4096))

		h, err := ReadHeader(bytes.NewReader(container), int64(len(container)))
		if err != nil {
			t.Fatal(err)
		}
		if int(h.Workers) != workers || h.BlockSize != 4096 {
			t.Errorf("header %d/%d", h.Workers, h.BlockSize)
		}
		if h.PayloadSize() != int64(len(container))-h.Size() {
			t.Errorf("shard lengths sum to %d, payload is %d", h.PayloadSize(), int64(len(container))-h.Size())
		}
		var off int64 = h.Size()
		for i, l := range h.ShardLengths {
			if l != res.ShardLengths[i] {
				t.Errorf("shard %d: header %d, result %d", i, l, res.ShardLengths[i])
			}
			if !bytes.HasPrefix(container[off:], []byte{0x1f, 0x8b}) {
				t.Errorf("shard %d does not start with a gzip header", i)
			}
			off += l
		}
	}
}

func TestSingleWorkerContainer(t *testing.T) {
	data := randomBytes(t, 10000)
	container, res := compressBytes(t, data, testOptions(t, 1, 1024))

	if binary.LittleEndian.Uint32(container[0:4]) != 1 {
		t.Errorf("worker count %d", binary.LittleEndian.Uint32(container[0:4]))
	}
	if binary.LittleEndian.Uint32(container[4:8]) != 1024 {
		t.Errorf("block size %d", binary.LittleEndian.Uint32(container[4:8]))
	}
	// The codec stream starts right after the fixed header.
	if !bytes.HasPrefix(container[8:], []byte{0x1f, 0x8b}) {
		t.Errorf("payload starts with % x", container[8:10])
	}
	if res.ShardLengths != nil {
		t.Errorf("single worker result has shard lengths %v", res.ShardLengths)
	}

	got, _ := decompressBytes(t, container, Options{})
	if !bytes.Equal(got, data) {
		t.Fatal("round trip differs")
	}
}

func TestScenarioTenMiB(t *testing.T) {
	if testing.Short() {
		t.Skip("skip 10 MiB scenario")
	}
	data := randomBytes(t, 10<<20)
	container, _ := compressBytes(t, data, testOptions(t, 4, 1<<20))

	h, err := ReadHeader(bytes.NewReader(container), int64(len(container)))
	if err != nil {
		t.Fatal(err)
	}
	if h.Workers != 4 || h.BlockSize != 1048576 || len(h.ShardLengths) != 4 {
		t.Fatalf("header %+v", h)
	}
	if h.PayloadSize() != int64(len(container))-h.Size() {
		t.Errorf("shard lengths do not cover the payload")
	}

	got, res := decompressBytes(t, container, Options{TempDir: t.TempDir()})
	if digest(got) != digest(data) {
		t.Fatal("round trip differs")
	}
	if res.Blocks != 10 {
		t.Errorf("%d blocks", res.Blocks)
	}
}

// slowCodec delays every write of the first stream it creates, so one
// worker falls far behind the others.
type slowCodec struct {
	Codec
	delay   time.Duration
	streams atomic.Int32
}

type slowWriter struct {
	io.WriteCloser
	delay time.Duration
}

func (sw *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(sw.delay)
	return sw.WriteCloser.Write(p)
}

func (c *slowCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	zw, err := c.Codec.NewWriter(w, level)
	if err != nil || c.streams.Add(1) != 1 {
		return zw, err
	}
	return &slowWriter{WriteCloser: zw, delay: c.delay}, nil
}

func TestOrderWithSlowWorker(t *testing.T) {
	gz, err := CodecByName("gzip")
	if err != nil {
		t.Fatal(err)
	}
	data := randomBytes(t, 64*1024+100)
	opts := testOptions(t, 4, 1024)
	opts.Codec = &slowCodec{Codec: gz, delay: 2 * time.Millisecond}

	container, _ := compressBytes(t, data, opts)
	got, _ := decompressBytes(t, container, Options{})
	if digest(got) != digest(data) {
		t.Fatal("output changed with a slow worker")
	}
}

func TestStates(t *testing.T) {
	for _, workers := range []int{1, 3} {
		var seen []State
		opts := testOptions(t, workers, 64)
		opts.onState = func(s State) { seen = append(seen, s) }

		compressBytes(t, randomBytes(t, 1000), opts)
		want := []State{StateInit, StateWorkersStarted, StateProducing, StateDraining, StateFinalizing, StateDone}
		if len(seen) != len(want) {
			t.Fatalf("W=%d: states %v, want %v", workers, seen, want)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Fatalf("W=%d: states %v, want %v", workers, seen, want)
			}
		}
	}
}

func TestConfigErrors(t *testing.T) {
	for name, mutate := range map[string]func(*Options){
		"no workers":     func(o *Options) { o.Workers = 0 },
		"many workers":   func(o *Options) { o.Workers = MaxWorkers + 1 },
		"no block size":  func(o *Options) { o.BlockSize = 0 },
		"negative block": func(o *Options) { o.BlockSize = -5 },
		"huge block":     func(o *Options) { o.BlockSize = MaxBlockSize + 1 },
		"bad level":      func(o *Options) { o.Level = 42 },
	} {
		opts := testOptions(t, 2, 64)
		mutate(&opts)
		var seen []State
		opts.onState = func(s State) { seen = append(seen, s) }

		_, err := Compress(context.Background(), bytes.NewReader([]byte("data")), io.Discard, opts)
		if !errors.Is(err, ErrConfig) {
			t.Errorf("%s: got %v, want ErrConfig", name, err)
		}
		if errors.Is(err, ErrFailed) {
			t.Errorf("%s: configuration error reported as a run failure", name)
		}
		if len(seen) != 2 || seen[1] != StateFailed {
			t.Errorf("%s: states %v", name, seen)
		}
		assertDirEmpty(t, opts.TempDir)
	}
}

func TestCleanupAfterFailure(t *testing.T) {
	data := randomBytes(t, 50000)

	t.Run("input", func(t *testing.T) {
		opts := testOptions(t, 3, 1000)
		r := &errReader{r: bytes.NewReader(data), err: errBroken}
		_, err := Compress(context.Background(), r, io.Discard, opts)
		if !errors.Is(err, ErrFailed) || !errors.Is(err, errBroken) {
			t.Fatalf("got %v", err)
		}
		assertDirEmpty(t, opts.TempDir)
	})

	t.Run("output", func(t *testing.T) {
		opts := testOptions(t, 3, 1000)
		_, err := Compress(context.Background(), bytes.NewReader(data), &failWriter{left: 100}, opts)
		if !errors.Is(err, ErrFailed) || !errors.Is(err, errBroken) {
			t.Fatalf("got %v", err)
		}
		assertDirEmpty(t, opts.TempDir)
	})

	t.Run("cancelled", func(t *testing.T) {
		opts := testOptions(t, 3, 1000)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Compress(ctx, bytes.NewReader(data), io.Discard, opts)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v", err)
		}
		assertDirEmpty(t, opts.TempDir)
	})
}

func TestCompressFile(t *testing.T) {
	dir := t.TempDir()
	src := dir + "/input.bin"
	packed := dir + "/input.bin.pgz"
	unpacked := dir + "/output.bin"
	data := randomBytes(t, 30000)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	opts := testOptions(t, 3, 4096)
	if _, err := CompressFile(context.Background(), src, packed, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := DecompressFile(context.Background(), packed, unpacked, Options{TempDir: opts.TempDir}); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(unpacked)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("round trip through files differs")
	}

	if _, err := CompressFile(context.Background(), src, src, opts); !errors.Is(err, ErrConfig) {
		t.Errorf("compressing onto itself: %v", err)
	}
	if _, err := CompressFile(context.Background(), dir+"/missing", dir+"/x", opts); !errors.Is(err, ErrConfig) {
		t.Errorf("missing input: %v", err)
	}
	if _, err := os.Stat(dir + "/x"); !os.IsNotExist(err) {
		t.Errorf("output created for a missing input")
	}
}
