package pargzip

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Codec is the single-stream compressor used for every shard. The pipeline
// treats it as a black box: whatever goes through NewWriter must come back
// byte for byte through NewReader.
type Codec interface {
	// Name is the identifier used on the command line and in config files.
	Name() string
	// Magic is the byte prefix every non-empty stream starts with.
	Magic() []byte
	// CheckLevel reports whether level is acceptable to NewWriter. -1
	// always selects the codec default.
	CheckLevel(level int) error

	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

const DefaultCodec = "gzip"

var (
	ErrUnknownCodec = errors.New("unknown codec")
	errInvalidLevel = errors.New("invalid compression level")
)

var codecs = map[string]Codec{}

func registerCodec(c Codec) {
	codecs[c.Name()] = c
}

// CodecByName returns the registered codec called name.
func CodecByName(name string) (Codec, error) {
	if c, ok := codecs[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// CodecNames lists the registered codecs in alphabetical order.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkLevelRange(name string, level, min, max int) error {
	if level == -1 || (level >= min && level <= max) {
		return nil
	}
	return fmt.Errorf("%w: %s accepts %d..%d, got %d", errInvalidLevel, name, min, max, level)
}
