package pargzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	h := &Header{Workers: 3, BlockSize: 1 << 20, ShardLengths: []int64{10, 0, 1 << 40}}
	if err := WriteHeader(&buf, h); err != nil {
		t.Fatal(err)
	}

	want := make([]byte, 0, 32)
	want = binary.LittleEndian.AppendUint32(want, 3)
	want = binary.LittleEndian.AppendUint32(want, 1<<20)
	want = binary.LittleEndian.AppendUint64(want, 10)
	want = binary.LittleEndian.AppendUint64(want, 0)
	want = binary.LittleEndian.AppendUint64(want, 1<<40)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("header bytes\n got % x\nwant % x", buf.Bytes(), want)
	}
	if h.Size() != int64(len(want)) {
		t.Errorf("Size() = %d, want %d", h.Size(), len(want))
	}
}

func TestHeaderSingleWorkerHasNoTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, &Header{Workers: 1, BlockSize: 4096}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 8 {
		t.Fatalf("single worker header is %d bytes", buf.Len())
	}

	h, err := ReadHeader(bytes.NewReader(buf.Bytes()), 8)
	if err != nil {
		t.Fatal(err)
	}
	if h.Workers != 1 || h.BlockSize != 4096 || h.ShardLengths != nil {
		t.Errorf("decoded %+v", h)
	}
}

func TestReadHeaderChecksSize(t *testing.T) {
	h := &Header{Workers: 2, BlockSize: 16, ShardLengths: []int64{5, 7}}
	var buf bytes.Buffer
	if err := WriteHeader(&buf, h); err != nil {
		t.Fatal(err)
	}
	exact := h.Size() + 12

	if _, err := ReadHeader(bytes.NewReader(buf.Bytes()), exact); err != nil {
		t.Errorf("exact size rejected: %v", err)
	}
	for _, size := range []int64{exact - 1, exact + 1, h.Size(), 4} {
		if _, err := ReadHeader(bytes.NewReader(buf.Bytes()), size); !errors.Is(err, ErrCorrupt) {
			t.Errorf("size %d: got %v, want ErrCorrupt", size, err)
		}
	}
	if _, err := ReadHeader(bytes.NewReader(buf.Bytes()), -1); err != nil {
		t.Errorf("unknown size: %v", err)
	}
}

func TestReadHeaderRejects(t *testing.T) {
	raw := func(vals ...any) []byte {
		var buf bytes.Buffer
		for _, v := range vals {
			binary.Write(&buf, binary.LittleEndian, v)
		}
		return buf.Bytes()
	}
	for name, data := range map[string][]byte{
		"empty":            {},
		"short":            {1, 0, 0},
		"zero workers":     raw(int32(0), int32(16)),
		"negative workers": raw(int32(-2), int32(16)),
		"zero block size":  raw(int32(1), int32(0)),
		"huge block size":  raw(int32(1), int32(MaxBlockSize+1)),
		"huge table":       raw(int32(1<<30), int32(16)),
		"truncated table":  raw(int32(3), int32(16), int64(1), int64(2)),
		"negative length":  raw(int32(2), int32(16), int64(-1), int64(1)),
		"overflowing":      raw(int32(2), int32(16), int64(1<<62), int64(1<<62)),
	} {
		_, err := ReadHeader(bytes.NewReader(data), int64(len(data)))
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: got %v, want ErrCorrupt", name, err)
		}
	}
}

func TestHeaderValidate(t *testing.T) {
	for _, h := range []Header{
		{Workers: 0, BlockSize: 1},
		{Workers: 1, BlockSize: -1},
		{Workers: 1, BlockSize: 1, ShardLengths: []int64{1}},
		{Workers: 2, BlockSize: 1, ShardLengths: []int64{1}},
		{Workers: 2, BlockSize: 1, ShardLengths: []int64{1, -1}},
	} {
		if err := h.Validate(); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%+v: got %v", h, err)
		}
		if err := WriteHeader(&bytes.Buffer{}, &h); err == nil {
			t.Errorf("%+v: written", h)
		}
	}
}

func TestSplitShards(t *testing.T) {
	payload := []byte("aaaaabbbbbbbcc")
	lengths := []int64{5, 7, 0, 2}
	inboxes := newInboxes(len(lengths))
	pool := newBufferPool(3)
	wait := collect(inboxes, pool)

	if err := splitShards(context.Background(), bytes.NewReader(payload), inboxes, lengths, pool); err != nil {
		t.Fatal(err)
	}
	got := wait()
	for i, want := range []string{"aaaaa", "bbbbbbb", "", "cc"} {
		if s := string(bytes.Join(got[i], nil)); s != want {
			t.Errorf("shard %d: got %q, want %q", i, s, want)
		}
	}
}

func TestSplitShardsTruncated(t *testing.T) {
	inboxes := newInboxes(3)
	pool := newBufferPool(4)
	wait := collect(inboxes, pool)

	err := splitShards(context.Background(), bytes.NewReader([]byte("0123456789")), inboxes, []int64{4, 8, 4}, pool)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
	wait()
}

func TestSplitShardsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inboxes := newInboxes(2)
	pool := newBufferPool(4)
	wait := collect(inboxes, pool)

	err := splitShards(ctx, bytes.NewReader([]byte("0123456789")), inboxes, []int64{6, 4}, pool)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	for i, chunks := range wait() {
		if len(chunks) != 0 {
			t.Errorf("inbox %d received %d chunks after cancellation", i, len(chunks))
		}
	}
}
