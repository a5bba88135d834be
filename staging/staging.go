// Package staging moves a job's files: inputs into each worker's scratch
// directory before it runs, outputs and logs back out after.
package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/scootdev/grid/domain"
)

// Stager is the file-staging side of one job on one node.
type Stager interface {
	// PreStageFiles is the manifest of inputs every worker gets.
	PreStageFiles() []domain.InputFile

	// PostStageFiles are the scratch-relative paths a worker leaves behind as output.
	PostStageFiles() []string

	// OpenInput opens the content of one manifest entry.
	OpenInput(path string) (io.ReadCloser, error)

	// CreateLogFile opens a named log (worker stdout/stderr, a replica's own log).
	CreateLogFile(name string) (io.WriteCloser, error)

	// OutputFile opens the sink for one worker's output file.
	OutputFile(workerID, path string) (io.WriteCloser, error)

	// Stdin opens what a worker reads on stdin, or returns nil if nothing.
	Stdin() (io.ReadCloser, error)
}

// WriteOutputFile copies r into the sink for path.
func WriteOutputFile(s Stager, workerID, path string, r io.Reader) error {
	w, err := s.OutputFile(workerID, path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Hash returns the hex sha256 of everything r yields, and its size.
func Hash(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile hashes the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return Hash(f)
}

// Verify checks that the file at path matches the manifest entry.
func Verify(path string, in domain.InputFile) error {
	hash, size, err := HashFile(path)
	if err != nil {
		return err
	}
	if hash != in.Hash || (in.Size > 0 && size != in.Size) {
		return fmt.Errorf("staged file %s does not match its manifest: hash %s size %d, expected hash %s size %d",
			in.Path, hash, size, in.Hash, in.Size)
	}
	return nil
}
