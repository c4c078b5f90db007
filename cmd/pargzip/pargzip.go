package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/c2h5oh/datasize"
	"github.com/djherbis/atime"
	"github.com/dustin/go-humanize"
	"github.com/marnagy/pargzip"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"
	"golang.org/x/term"
)

const VERSION = "1.0"

// Suffix is appended to compressed files when no output name is given.
const Suffix = ".pgz"

type Mode int

const (
	ModeCompress Mode = iota
	ModeDecompress
	ModeTest
	ModeHelp
	ModeVersion
	ModeLicense
)

var errUsage = errors.New("invalid arguments")

// Command is a parsed command line.
type Command struct {
	Mode    Mode
	Input   string
	Output  string
	Force   bool
	Verbose bool
	Quiet   bool
	Options pargzip.Options
}

type byteSizeValue datasize.ByteSize

func (b *byteSizeValue) String() string { return datasize.ByteSize(*b).HR() }
func (b *byteSizeValue) Type() string   { return "size" }

func (b *byteSizeValue) Set(s string) error {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	*b = byteSizeValue(v)
	return nil
}

func levelFlagName(level int) string {
	switch level {
	case 1:
		return "fast"
	case 9:
		return "best"
	}
	return strconv.Itoa(level)
}

// ParseArgs understands both the gzip-like form
//
//	pargzip [OPTION]... FILE
//
// and the positional form
//
//	pargzip compress|decompress INPUT OUTPUT [THREADS]
//
// Settings are taken from the defaults, then from the config file (--config
// or $PARGZIP_CONFIG), then from the flags that were given.
func ParseArgs(args []string, getenv func(string) string) (*Command, error) {
	fs := pflag.NewFlagSet("pargzip", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	flagDecompress := fs.BoolP("decompress", "d", false, "decompress")
	flagForce := fs.BoolP("force", "f", false, "force overwrite of output file")
	flagHelp := fs.BoolP("help", "h", false, "give this help")
	flagLicense := fs.BoolP("license", "L", false, "display software license")
	flagTest := fs.BoolP("test", "t", false, "test compressed file integrity")
	flagVersion := fs.BoolP("version", "V", false, "display version number")
	flagVerbose := fs.BoolP("verbose", "v", false, "verbose mode")
	flagQuiet := fs.BoolP("quiet", "q", false, "suppress progress messages")
	flagThreads := fs.IntP("threads", "T", 0, "number of compression workers")
	flagCodec := fs.String("codec", "", "shard codec")
	flagConfig := fs.String("config", "", "YAML config file")
	var flagBlockSize byteSizeValue
	fs.VarP(&flagBlockSize, "block-size", "b", "block size")
	var flagLevels [10]*bool
	for i := range flagLevels {
		flagLevels[i] = fs.BoolP(levelFlagName(i), strconv.Itoa(i), false, "")
	}

	// Flags stop at the mode word of the positional form, so that its
	// arguments, a negative thread count included, are never read as flags.
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	positional := fs.NArg() > 0 && isModeWord(fs.Arg(0))
	if !positional {
		fs.SetInterspersed(true)
		if err := fs.Parse(fs.Args()); err != nil {
			return nil, fmt.Errorf("%w: %w", errUsage, err)
		}
	}

	cmd := &Command{
		Force:   *flagForce,
		Verbose: *flagVerbose,
		Quiet:   *flagQuiet,
		Options: pargzip.DefaultOptions(),
	}
	switch {
	case *flagHelp:
		cmd.Mode = ModeHelp
		return cmd, nil
	case *flagVersion:
		cmd.Mode = ModeVersion
		return cmd, nil
	case *flagLicense:
		cmd.Mode = ModeLicense
		return cmd, nil
	}

	configPath := *flagConfig
	if configPath == "" && getenv != nil {
		configPath = getenv(ConfigEnv)
	}
	if configPath != "" {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Apply(&cmd.Options); err != nil {
			return nil, fmt.Errorf("%s: %w", configPath, err)
		}
	}

	if fs.Changed("threads") {
		cmd.Options.Workers = *flagThreads
	}
	if fs.Changed("block-size") {
		if flagBlockSize > pargzip.MaxBlockSize {
			return nil, fmt.Errorf("%w: block size %s is too large", errUsage, flagBlockSize.String())
		}
		cmd.Options.BlockSize = int(flagBlockSize)
	}
	if fs.Changed("codec") {
		c, err := pargzip.CodecByName(*flagCodec)
		if err != nil {
			return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(pargzip.CodecNames(), ", "))
		}
		cmd.Options.Codec = c
	}
	for i, set := range flagLevels {
		if *set {
			cmd.Options.Level = i
			break
		}
	}

	files := fs.Args()
	switch {
	case positional || len(files) >= 3:
		return cmd, parsePositional(cmd, files)
	case len(files) == 1:
	case len(files) == 0:
		return nil, fmt.Errorf("%w: no input file", errUsage)
	default:
		return nil, fmt.Errorf("%w: too many files", errUsage)
	}

	cmd.Input = files[0]
	switch {
	case *flagTest:
		cmd.Mode = ModeTest
	case *flagDecompress:
		cmd.Mode = ModeDecompress
		if !strings.HasSuffix(cmd.Input, Suffix) || len(cmd.Input) == len(Suffix) {
			return nil, fmt.Errorf("%w: %s: unknown suffix", errUsage, cmd.Input)
		}
		cmd.Output = strings.TrimSuffix(cmd.Input, Suffix)
	default:
		cmd.Mode = ModeCompress
		cmd.Output = cmd.Input + Suffix
	}
	return cmd, nil
}

func isModeWord(s string) bool {
	return s == "compress" || s == "decompress"
}

// parsePositional handles "compress|decompress INPUT OUTPUT [THREADS]".
// The thread count is ignored when decompressing: the container decides.
func parsePositional(cmd *Command, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("%w: expected [compress|decompress] <input> <output> [threads]", errUsage)
	}
	switch args[0] {
	case "compress":
		cmd.Mode = ModeCompress
	case "decompress":
		cmd.Mode = ModeDecompress
	default:
		return fmt.Errorf("%w: unsupported mode %q, choose compress or decompress", errUsage, args[0])
	}
	cmd.Input, cmd.Output = args[1], args[2]
	if len(args) == 4 && cmd.Mode == ModeCompress {
		n, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("%w: thread count %q is not a valid integer", errUsage, args[3])
		}
		if n <= 0 {
			return fmt.Errorf("%w: thread count %q is not a positive integer", errUsage, args[3])
		}
		cmd.Options.Workers = n
	}
	return nil
}

func main() {
	cmd, err := ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		fatal(err)
		if errors.Is(err, errUsage) {
			fmt.Println("Try 'pargzip --help' for more information.")
		}
		os.Exit(1)
	}
	switch cmd.Mode {
	case ModeHelp:
		Usage()
		return
	case ModeVersion:
		fmt.Println("pargzip", VERSION)
		return
	case ModeLicense:
		License()
		return
	}

	level := slog.LevelWarn
	if cmd.Verbose {
		level = slog.LevelDebug
	}
	cmd.Options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := SetSignalHandler()
	defer stop()

	c := &Console{
		In:          bufio.NewReader(os.Stdin),
		Out:         os.Stdout,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	if err := c.Execute(ctx, cmd); err != nil {
		fatal(err)
		stop()
		os.Exit(1)
	}
}

// SetSignalHandler cancels the returned context on SIGINT, SIGTERM or
// SIGHUP. A cancelled run removes its partial output.
func SetSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}

// CopyStat gives dst the permissions, owner and times of src.
func CopyStat(dst, src string) {
	fi, err := os.Stat(src)
	if err != nil {
		return
	}
	os.Chmod(dst, fi.Mode().Perm())
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		os.Chown(dst, int(sys.Uid), int(sys.Gid))
	}
	os.Chtimes(dst, atime.Get(fi), fi.ModTime())
}

func fatal(args ...interface{}) {
	fmt.Print("pargzip: ")
	fmt.Println(args...)
}

// Console is where a command talks to the user.
type Console struct {
	In          *bufio.Reader
	Out         io.Writer
	Interactive bool
}

func (c *Console) printf(cmd *Command, format string, args ...interface{}) {
	if !cmd.Quiet {
		fmt.Fprintf(c.Out, format, args...)
	}
}

// ConfirmOverwrite returns nil when path can be written: it does not exist,
// force is set, or the user agreed to replace it.
func (c *Console) ConfirmOverwrite(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if !c.Interactive {
		return fmt.Errorf("%w: %s already exists (use -f to force)", pargzip.ErrConfig, path)
	}
	fmt.Fprintf(c.Out, "pargzip: %s already exists; do you wish to overwrite (y or n)? ", path)
	input, _ := c.In.ReadString('\n')
	if input == "" || (input[0] != 'y' && input[0] != 'Y') {
		fmt.Fprintln(c.Out, "\tnot overwritten")
		return fmt.Errorf("%w: %s not overwritten", pargzip.ErrConfig, path)
	}
	return nil
}

// Execute runs a compress, decompress or test command.
func (c *Console) Execute(ctx context.Context, cmd *Command) error {
	if _, err := os.Stat(cmd.Input); err != nil {
		return fmt.Errorf("source file %s does not exist", cmd.Input)
	}
	if cmd.Mode == ModeTest {
		return c.test(ctx, cmd)
	}
	if err := c.ConfirmOverwrite(cmd.Output, cmd.Force); err != nil {
		return err
	}

	var res *pargzip.Result
	var err error
	switch cmd.Mode {
	case ModeCompress:
		c.printf(cmd, "Compressing file %s...\n", cmd.Input)
		res, err = pargzip.CompressFile(ctx, cmd.Input, cmd.Output, cmd.Options)
		if err == nil {
			c.printf(cmd, "File has been compressed to %s (%s -> %s, %d workers)\n",
				cmd.Output, humanize.IBytes(uint64(res.BytesIn)), humanize.IBytes(uint64(res.BytesOut)), res.Workers)
		}
	case ModeDecompress:
		c.printf(cmd, "Decompressing file %s...\n", cmd.Input)
		res, err = pargzip.DecompressFile(ctx, cmd.Input, cmd.Output, cmd.Options)
		if err == nil {
			c.printf(cmd, "File has been decompressed to %s (%s)\n", cmd.Output, humanize.IBytes(uint64(res.BytesOut)))
		}
	default:
		return fmt.Errorf("unexpected mode %d", cmd.Mode)
	}
	if err != nil {
		return err
	}
	CopyStat(cmd.Output, cmd.Input)
	return nil
}

// test decodes the whole container without writing it anywhere and prints
// the blake3 digest of the original data.
func (c *Console) test(ctx context.Context, cmd *Command) error {
	f, err := os.Open(cmd.Input)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	h := blake3.New()
	res, err := pargzip.Decompress(ctx, f, fi.Size(), h, cmd.Options)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Input, err)
	}
	c.printf(cmd, "%x  %s (%s, %d workers, %s)\n",
		h.Sum(nil), cmd.Input, humanize.IBytes(uint64(res.BytesOut)), res.Workers, res.Codec)
	return nil
}

func Usage() {
	// Not pflag's usage: it orders options by long name and prints
	// "[=false]" next to every boolean.
	fmt.Printf(`Usage: pargzip [OPTION]... FILE
   or: pargzip compress|decompress INPUT OUTPUT [THREADS]
Compress or uncompress FILE in parallel (by default, compress it to FILE%s).

  -d, --decompress        decompress
  -f, --force             force overwrite of output file
  -h, --help              give this help
  -L, --license           display software license
  -t, --test              test compressed file integrity and print its digest
  -v, --verbose           verbose mode
  -q, --quiet             suppress progress messages
  -V, --version           display version number
  -T, --threads=N         number of compression workers (default: half the CPUs)
  -b, --block-size=SIZE   block size, like 512KB or 4MB (default: 1MB)
      --codec=NAME        shard codec: %s (default: %s)
      --config=FILE       YAML config file (default: $%s)
  -1, --fast              compress faster
  -9, --best              compress better

The input file is never deleted. Decompression uses the worker count and
block size recorded in the file, and recognizes the codec by itself.
`, Suffix, strings.Join(pargzip.CodecNames(), ", "), pargzip.DefaultCodec, ConfigEnv)
}

func License() {
	fmt.Println("pargzip", VERSION)
	fmt.Println("Copyright (C) the pargzip authors.")
	fmt.Println(`
Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.`)
}
