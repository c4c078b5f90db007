package pargzip

import (
	"fmt"
	"os"
	"path/filepath"
)

// workDir is the scratch directory of one run. It holds the shard and
// intermediate files, each written by exactly one worker.
type workDir struct {
	path string
}

func newWorkDir(parent string) (*workDir, error) {
	path, err := os.MkdirTemp(parent, "pargzip-*")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	return &workDir{path: path}, nil
}

func (wd *workDir) shardPath(i int) string {
	return filepath.Join(wd.path, fmt.Sprintf("shard_%d.z", i))
}

func (wd *workDir) partPath(i int) string {
	return filepath.Join(wd.path, fmt.Sprintf("part_%d.raw", i))
}

func (wd *workDir) shardPaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = wd.shardPath(i)
	}
	return paths
}

// Remove deletes the directory and everything in it. It is safe to call
// more than once.
func (wd *workDir) Remove() error {
	return os.RemoveAll(wd.path)
}
