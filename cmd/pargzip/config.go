package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/marnagy/pargzip"
	"gopkg.in/yaml.v3"
)

// ConfigEnv names a config file used when --config is not given.
const ConfigEnv = "PARGZIP_CONFIG"

// FileConfig is the optional YAML config file. Every field may be left
// out; command line flags win over the file.
//
//	workers: 8
//	block_size: 4MB
//	codec: zstd
//	level: 3
//	temp_dir: /var/tmp
type FileConfig struct {
	Workers   int               `yaml:"workers"`
	BlockSize datasize.ByteSize `yaml:"block_size"`
	Codec     string            `yaml:"codec"`
	Level     *int              `yaml:"level"`
	TempDir   string            `yaml:"temp_dir"`
}

func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Apply copies the values set in the file onto opts.
func (cfg *FileConfig) Apply(opts *pargzip.Options) error {
	if cfg.Workers != 0 {
		opts.Workers = cfg.Workers
	}
	if cfg.BlockSize != 0 {
		if cfg.BlockSize > pargzip.MaxBlockSize {
			return fmt.Errorf("block_size %s is larger than %d bytes", cfg.BlockSize.HR(), pargzip.MaxBlockSize)
		}
		opts.BlockSize = int(cfg.BlockSize.Bytes())
	}
	if cfg.Codec != "" {
		c, err := pargzip.CodecByName(cfg.Codec)
		if err != nil {
			return err
		}
		opts.Codec = c
	}
	if cfg.Level != nil {
		opts.Level = *cfg.Level
	}
	if cfg.TempDir != "" {
		opts.TempDir = cfg.TempDir
	}
	return nil
}
