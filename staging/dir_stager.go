package staging

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/os/temp"
)

// DirStager reads inputs from one directory and writes logs and outputs to
// another. It is the stager of a job on its Primary's node.
type DirStager struct {
	inputs  *temp.TempDir
	outputs *temp.TempDir
	desc    domain.Description
}

func NewDirStager(inputDir, outputDir string, desc domain.Description) (*DirStager, error) {
	if err := os.MkdirAll(outputDir, 0777); err != nil {
		return nil, errors.Wrapf(err, "creating output dir %s", outputDir)
	}
	return &DirStager{
		inputs:  &temp.TempDir{Dir: filepath.Clean(inputDir)},
		outputs: &temp.TempDir{Dir: filepath.Clean(outputDir)},
		desc:    desc,
	}, nil
}

// BuildManifest hashes every path under inputDir into a manifest.
func BuildManifest(inputDir string, paths []string) ([]domain.InputFile, error) {
	dir := &temp.TempDir{Dir: filepath.Clean(inputDir)}
	var manifest []domain.InputFile
	for _, p := range paths {
		full, err := dir.Path(p)
		if err != nil {
			return nil, err
		}
		hash, size, err := HashFile(full)
		if err != nil {
			return nil, errors.Wrapf(err, "hashing input %s", p)
		}
		manifest = append(manifest, domain.InputFile{Path: p, Hash: hash, Size: size})
	}
	return manifest, nil
}

func (s *DirStager) PreStageFiles() []domain.InputFile {
	return s.desc.InputFiles
}

func (s *DirStager) PostStageFiles() []string {
	return s.desc.OutputFiles
}

func (s *DirStager) OpenInput(path string) (io.ReadCloser, error) {
	if !s.inManifest(path) {
		return nil, errors.Errorf("%s is not a staged input", path)
	}
	full, err := s.inputs.Path(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *DirStager) CreateLogFile(name string) (io.WriteCloser, error) {
	return s.create(filepath.Join("logs", filepath.Base(name)))
}

func (s *DirStager) OutputFile(workerID, path string) (io.WriteCloser, error) {
	return s.create(filepath.Join("outputs", workerID, path))
}

func (s *DirStager) Stdin() (io.ReadCloser, error) {
	if s.desc.Stdin == "" {
		return nil, nil
	}
	return ioutil.NopCloser(bytes.NewBufferString(s.desc.Stdin)), nil
}

// OutputDir is where logs and outputs end up.
func (s *DirStager) OutputDir() string {
	return s.outputs.Dir
}

func (s *DirStager) create(rel string) (io.WriteCloser, error) {
	full, err := s.outputs.Path(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0777); err != nil {
		return nil, err
	}
	return os.Create(full)
}

func (s *DirStager) inManifest(path string) bool {
	for _, in := range s.desc.InputFiles {
		if in.Path == path {
			return true
		}
	}
	return false
}
