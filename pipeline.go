package pargzip

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// MaxWorkers bounds the worker count of options and container headers.
const MaxWorkers = 4096

var (
	// ErrConfig wraps every problem found in Options before a run starts.
	ErrConfig = errors.New("invalid configuration")

	// ErrFailed wraps every fault that happens once workers are running.
	// The underlying cause stays reachable through errors.Is and errors.As.
	ErrFailed = errors.New("operation failed, check available disk space")
)

// Options configures a compression or decompression run. Decompression
// only looks at Codec, TempDir and Logger: the worker count and the block
// size come from the container header.
type Options struct {
	// Workers is the number of compression workers, and therefore the
	// number of shards in the container.
	Workers int
	// BlockSize is the number of input bytes handed to a worker at a time.
	BlockSize int
	// Codec compresses each shard. Nil means gzip when compressing, and
	// detection from the payload when decompressing.
	Codec Codec
	// Level is the codec compression level, -1 for the codec default.
	Level int
	// TempDir is where the working directory is created; empty means
	// os.TempDir.
	TempDir string
	// Logger receives progress messages. Nil discards them.
	Logger *slog.Logger

	onState func(State)
}

// DefaultOptions uses half of the available CPUs, 1 MiB blocks and gzip.
func DefaultOptions() Options {
	return Options{
		Workers:   DefaultWorkers(),
		BlockSize: DefaultBlockSize,
		Level:     -1,
	}
}

// DefaultWorkers is half the number of CPUs, at least one.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()/2)
}

// Validate checks the options used for compression.
func (o *Options) Validate() error {
	if o.Workers < 1 || o.Workers > MaxWorkers {
		return fmt.Errorf("%w: worker count must be in 1..%d, got %d", ErrConfig, MaxWorkers, o.Workers)
	}
	if o.BlockSize <= 0 || o.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size must be in 1..%d, got %d", ErrConfig, MaxBlockSize, o.BlockSize)
	}
	if err := o.codec().CheckLevel(o.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func (o *Options) codec() Codec {
	if o.Codec != nil {
		return o.Codec
	}
	return codecs[DefaultCodec]
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Result describes a finished run.
type Result struct {
	Workers      int
	BlockSize    int
	Codec        string
	Blocks       int
	BytesIn      int64
	BytesOut     int64
	ShardLengths []int64
	Elapsed      time.Duration
}

// State is a step of a run. Runs go through the states in order and can
// fail from any of them.
type State int

const (
	StateInit State = iota
	StateWorkersStarted
	StateProducing
	StateDraining
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:           "init",
	StateWorkersStarted: "workers_started",
	StateProducing:      "producing",
	StateDraining:       "draining",
	StateFinalizing:     "finalizing",
	StateDone:           "done",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// run tracks the state of one compression or decompression.
type run struct {
	op      string
	state   State
	log     *slog.Logger
	started time.Time
	observe func(State)
}

func newRun(op string, opts *Options) *run {
	r := &run{
		op:      op,
		log:     opts.logger().With("op", op),
		started: time.Now(),
		observe: opts.onState,
	}
	r.enter(StateInit)
	return r
}

func (r *run) enter(s State) {
	r.state = s
	r.log.Debug("pipeline state", "state", s)
	if r.observe != nil {
		r.observe(s)
	}
}

// fail moves the run to StateFailed. Faults after the configuration has
// been accepted are wrapped in ErrFailed. The error is only logged at debug
// level: reporting it is up to the caller.
func (r *run) fail(err error) error {
	prev := r.state
	r.enter(StateFailed)
	r.log.Debug("pipeline failed", "state", prev, "err", err)
	if errors.Is(err, ErrConfig) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", r.op, ErrFailed, err)
}

func (r *run) done(res *Result) *Result {
	res.Elapsed = time.Since(r.started)
	r.enter(StateDone)
	return res
}
