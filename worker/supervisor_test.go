package worker

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scooterrors "github.com/scootdev/grid/common/errors"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/runner/execer"
	"github.com/scootdev/grid/runner/execer/execers"
	"github.com/scootdev/grid/staging"
)

type fixture struct {
	in, out string
	scratch *temp.TempDir
	clk     *testclock.Clock
	sim     *execers.SimExecer
}

func newFixture(t *testing.T) *fixture {
	root, err := temp.TempDirDefault()
	require.NoError(t, err)
	in := filepath.Join(root.Dir, "in")
	require.NoError(t, os.MkdirAll(in, 0777))
	require.NoError(t, ioutil.WriteFile(filepath.Join(in, "data.txt"), []byte("input"), 0666))
	scratch, err := root.FixedDir("scratch")
	require.NoError(t, err)
	return &fixture{
		in:      in,
		out:     filepath.Join(root.Dir, "out"),
		scratch: scratch,
		clk:     testclock.NewClock(time.Now()),
		sim:     execers.NewSimExecer(),
	}
}

func (f *fixture) worker(t *testing.T, args []string, deadline time.Duration, finished chan<- *Worker) *Worker {
	manifest, err := staging.BuildManifest(f.in, []string{"data.txt"})
	require.NoError(t, err)
	desc := domain.Description{
		Executable:  "#sim",
		Args:        args,
		InputFiles:  manifest,
		OutputFiles: []string{"result.txt"},
	}
	stager, err := staging.NewDirStager(f.in, f.out, desc)
	require.NoError(t, err)
	return New(Config{
		JobID:        "job",
		Description:  desc,
		Stager:       stager,
		Execer:       f.sim,
		Scratch:      f.scratch,
		Deadline:     f.clk.Now().Add(deadline),
		PollInterval: time.Second,
		Clock:        f.clk,
		OnFinish: func(w *Worker) {
			if finished != nil {
				finished <- w
			}
		},
	})
}

func waitDone(t *testing.T, w *Worker) {
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("worker %v did not finish", w)
	}
}

func TestWorkerDone(t *testing.T) {
	f := newFixture(t)
	finished := make(chan *Worker, 1)
	w := f.worker(t, []string{"stdout hello", "write result.txt 42", "complete 0"}, time.Hour, finished)
	w.Start()
	w.Start()
	waitDone(t, w)

	assert.Equal(t, domain.WorkerDone, w.Status())
	assert.Equal(t, 0, w.ExitCode())
	assert.True(t, w.Finished())
	assert.False(t, w.Failed())
	assert.Equal(t, w, <-finished)

	data, err := ioutil.ReadFile(filepath.Join(f.out, "outputs", w.ID(), "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))
	data, err = ioutil.ReadFile(filepath.Join(f.out, "logs", w.ID()+".stdout"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	cmds := f.sim.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "job", cmds[0].EnvVars["GRID_JOB_ID"])
	assert.Equal(t, w.ID(), cmds[0].EnvVars["GRID_WORKER_ID"])
	staged, err := ioutil.ReadFile(filepath.Join(cmds[0].Dir, "data.txt"))
	if err == nil {
		t.Fatalf("scratch dir should be gone after the worker finished, found %q", staged)
	}
}

func TestWorkerUserError(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"complete 3"}, time.Hour, nil)
	w.Start()
	waitDone(t, w)
	assert.Equal(t, domain.WorkerUserError, w.Status())
	assert.Equal(t, 3, w.ExitCode())
	assert.True(t, w.Failed())
}

func TestWorkerKilledAtDeadline(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"pause", "complete 0"}, time.Minute, nil)
	w.Start()

	// The poll loop waits on the clock; moving it past the deadline kills the process.
	require.NoError(t, f.clk.WaitAdvance(time.Minute, 5*time.Second, 1))
	waitDone(t, w)
	assert.Equal(t, domain.WorkerKilled, w.Status())
	assert.Equal(t, int(scooterrors.AbortedExitCode), w.ExitCode())
	assert.False(t, w.Failed())
}

func TestWorkerSignal(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"pause", "complete 0"}, time.Hour, nil)
	w.Start()
	require.NoError(t, f.clk.WaitAdvance(0, 5*time.Second, 1))

	// A later deadline is ignored.
	w.Signal(f.clk.Now().Add(2 * time.Hour))
	assert.Equal(t, f.clk.Now().Add(time.Hour), w.currentDeadline())

	w.Stop()
	waitDone(t, w)
	assert.Equal(t, domain.WorkerKilled, w.Status())
}

func TestWorkerDeadlineBeforeLaunch(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"complete 0"}, 0, nil)
	w.Start()
	waitDone(t, w)
	assert.Equal(t, domain.WorkerKilled, w.Status())
	assert.Empty(t, f.sim.Commands())
}

func TestWorkerPreStageMismatch(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"complete 0"}, time.Hour, nil)
	require.NoError(t, ioutil.WriteFile(filepath.Join(f.in, "data.txt"), []byte("changed"), 0666))
	w.Start()
	waitDone(t, w)
	assert.Equal(t, domain.WorkerError, w.Status())
	assert.Equal(t, int(scooterrors.PreStageFailureExitCode), w.ExitCode())
	assert.Empty(t, f.sim.Commands())
}

func TestWorkerCouldNotExec(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"complete 0"}, time.Hour, nil)
	w.cfg.Execer = &execers.ErrExecer{Err: errors.New("no such file")}
	w.Start()
	waitDone(t, w)
	assert.Equal(t, domain.WorkerFailed, w.Status())
	assert.Equal(t, int(scooterrors.CouldNotExecExitCode), w.ExitCode())
}

func TestWorkerMissingOutputIsNotAnError(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, []string{"complete 0"}, time.Hour, nil)
	w.Start()
	waitDone(t, w)
	assert.Equal(t, domain.WorkerDone, w.Status())
}

var _ execer.Execer = (*execers.SimExecer)(nil)
