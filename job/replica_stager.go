package job

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/transport"
)

// replicaStager is the stager of a job on a replica's node. Inputs are
// downloaded from the Primary once and cached, logs and outputs are
// uploaded to the Primary when the writer is closed.
type replicaStager struct {
	r     *Replica
	desc  domain.Description
	cache *temp.TempDir

	mu      sync.Mutex
	fetched map[string]bool
}

func newReplicaStager(r *Replica, desc domain.Description, cache *temp.TempDir) *replicaStager {
	return &replicaStager{r: r, desc: desc, cache: cache, fetched: map[string]bool{}}
}

func (s *replicaStager) PreStageFiles() []domain.InputFile {
	return s.desc.InputFiles
}

func (s *replicaStager) PostStageFiles() []string {
	return s.desc.OutputFiles
}

func (s *replicaStager) OpenInput(path string) (io.ReadCloser, error) {
	for _, in := range s.desc.InputFiles {
		if in.Path != path {
			continue
		}
		if err := s.fetch(in); err != nil {
			return nil, err
		}
		full, err := s.cache.Path(path)
		if err != nil {
			return nil, err
		}
		return os.Open(full)
	}
	return nil, errors.Errorf("%s is not a staged input", path)
}

func (s *replicaStager) CreateLogFile(name string) (io.WriteCloser, error) {
	return &upload{send: func(data []byte) error {
		return s.r.upload(domain.OpCreateLogFile, domain.CreateLogFileRequest{Name: name, Data: data})
	}}, nil
}

func (s *replicaStager) OutputFile(workerID, path string) (io.WriteCloser, error) {
	return &upload{send: func(data []byte) error {
		return s.r.upload(domain.OpGetOutputFile, domain.GetOutputFileRequest{WorkerID: workerID, Path: path, Data: data})
	}}, nil
}

func (s *replicaStager) Stdin() (io.ReadCloser, error) {
	if s.desc.Stdin == "" {
		return nil, nil
	}
	return ioutil.NopCloser(bytes.NewBufferString(s.desc.Stdin)), nil
}

// fetchAll downloads every input not cached yet and reports whether all are.
func (s *replicaStager) fetchAll() bool {
	ok := true
	for _, in := range s.desc.InputFiles {
		if err := s.fetch(in); err != nil {
			s.r.log().WithField("path", in.Path).WithError(err).Warn("Couldn't fetch input")
			ok = false
		}
	}
	return ok
}

func (s *replicaStager) fetch(in domain.InputFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetched[in.Path] {
		return nil
	}
	req, err := transport.NewRequest(s.r.id, domain.PrimaryRole, domain.OpGetInputFile, s.r.self,
		domain.GetInputFileRequest{Path: in.Path})
	if err != nil {
		return err
	}
	var reply domain.GetInputFileReply
	if err := s.r.call(req, &reply); err != nil {
		return err
	}
	full, err := s.cache.Path(in.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0777); err != nil {
		return err
	}
	if err := ioutil.WriteFile(full, reply.Data, 0666); err != nil {
		return err
	}
	if err := staging.Verify(full, in); err != nil {
		os.Remove(full)
		return err
	}
	s.fetched[in.Path] = true
	return nil
}

// upload buffers everything written and sends it on Close.
type upload struct {
	buf  bytes.Buffer
	send func([]byte) error
}

func (u *upload) Write(p []byte) (int, error) {
	return u.buf.Write(p)
}

func (u *upload) Close() error {
	return u.send(u.buf.Bytes())
}
