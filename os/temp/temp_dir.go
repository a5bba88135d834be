// Package temp makes hierarchical temporary directories. Every job gets a
// directory under the node's scratch root and every worker one under its job.
package temp

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

// NewTempDir creates a fresh directory in dir with the given prefix.
func NewTempDir(dir, prefix string) (*TempDir, error) {
	p, err := ioutil.TempDir(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &TempDir{Dir: p}, nil
}

// TempDir is a temporary directory, that may live under other temporary directories.
type TempDir struct {
	Dir string
}

// FixedDir creates (or reuses) a child with a fixed name.
func (d *TempDir) FixedDir(name string) (*TempDir, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("temp.TempDir.FixedDir: Invalid name %v", name)
	}
	p := filepath.Join(d.Dir, name)
	if err := os.MkdirAll(p, 0777); err != nil {
		return nil, err
	}
	return &TempDir{p}, nil
}

// TempDir creates a new temporary directory under d.
func (d *TempDir) TempDir(prefix string) (*TempDir, error) {
	return NewTempDir(d.Dir, prefix)
}

func (d *TempDir) TempFile(prefix string) (*os.File, error) {
	return ioutil.TempFile(d.Dir, prefix)
}

// Path joins rel onto d without letting it escape d.
func (d *TempDir) Path(rel string) (string, error) {
	clean := filepath.Clean(filepath.Join(d.Dir, rel))
	if clean != d.Dir && !strings.HasPrefix(clean, d.Dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("temp.TempDir.Path: %v escapes %v", rel, d.Dir)
	}
	return clean, nil
}

func (d *TempDir) RemoveAll() error {
	return os.RemoveAll(d.Dir)
}

// TempDirDefault creates a TempDir rooted in the default temp dir.
func TempDirDefault() (*TempDir, error) {
	tmpDir, err := ioutil.TempDir("", "grid-tmp-")
	if err != nil {
		return nil, fmt.Errorf("temp.TempDirDefault: couldn't ioutil.TempDir: %v", err)
	}
	return &TempDir{tmpDir}, nil
}

// TempDirIn creates a TempDir under root, or under the default temp dir if root is empty.
func TempDirIn(root string) (*TempDir, error) {
	if root == "" {
		return TempDirDefault()
	}
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, fmt.Errorf("temp.TempDirIn: couldn't create %v: %v", root, err)
	}
	return NewTempDir(root, "grid-tmp-")
}
