// Package worker supervises one execution of a job's executable: it stages
// inputs into a scratch directory, runs the process, enforces the deadline,
// stages outputs back out and classifies how it ended.
package worker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	scooterrors "github.com/scootdev/grid/common/errors"
	"github.com/scootdev/grid/common/log/tags"
	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/runner/execer"
	"github.com/scootdev/grid/staging"
)

const DefaultPollInterval = 250 * time.Millisecond

type Config struct {
	ID          string
	JobID       string
	Node        string
	Description domain.Description
	Stager      staging.Stager
	Execer      execer.Execer

	// Scratch is the job's directory, the worker makes its own under it.
	Scratch      *temp.TempDir
	Deadline     time.Time
	PollInterval time.Duration
	Clock        clock.Clock
	Stats        stats.StatsReceiver

	// OnFinish is called once, after the worker reached a terminal status.
	OnFinish func(*Worker)
}

type Worker struct {
	cfg Config
	tags.LogTags

	mu       sync.Mutex
	status   domain.WorkerStatus
	exitCode scooterrors.ExitCode
	deadline time.Time
	started  bool
	reason   string

	signalCh chan struct{}
	done     chan struct{}
}

func New(cfg Config) *Worker {
	if cfg.ID == "" {
		cfg.ID = domain.NewWorkerID()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NilStatsReceiver()
	}
	if cfg.Deadline.IsZero() {
		cfg.Deadline = cfg.Clock.Now().Add(domain.MaxLifetime)
	}
	return &Worker{
		cfg:      cfg,
		LogTags:  tags.LogTags{JobID: cfg.JobID, WorkerID: cfg.ID, Node: cfg.Node},
		status:   domain.WorkerInit,
		deadline: cfg.Deadline,
		signalCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (w *Worker) ID() string {
	return w.cfg.ID
}

// Start launches the supervision goroutine. Starting twice is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Signal moves the deadline to d if d is earlier. The running process is
// killed once the deadline passes.
func (w *Worker) Signal(d time.Time) {
	w.mu.Lock()
	if !d.Before(w.deadline) {
		w.mu.Unlock()
		return
	}
	w.deadline = d
	w.mu.Unlock()
	select {
	case w.signalCh <- struct{}{}:
	default:
	}
}

// Stop is Signal(now).
func (w *Worker) Stop() {
	w.Signal(w.cfg.Clock.Now())
}

func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.exitCode)
}

func (w *Worker) Info() domain.WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return domain.WorkerInfo{ID: w.cfg.ID, Status: w.status, ExitCode: int(w.exitCode)}
}

// Reason says why a worker did not end DONE, if known.
func (w *Worker) Reason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

func (w *Worker) Finished() bool {
	return w.Status().Finished()
}

func (w *Worker) Failed() bool {
	return w.Status().Failed()
}

// Done is closed once the worker is finished.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) String() string {
	info := w.Info()
	return fmt.Sprintf("worker{%s %v exit:%d}", info.ID, info.Status, info.ExitCode)
}

func (w *Worker) currentDeadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}

func (w *Worker) setStatus(s domain.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

func (w *Worker) log() *log.Entry {
	return w.Entry().WithField("status", w.Status())
}

func (w *Worker) run() {
	latency := w.cfg.Stats.Latency(stats.GridWorkerRunLatency_ms).Time()
	status, code, reason := w.supervise()
	latency.Stop()

	w.mu.Lock()
	w.status = status
	w.exitCode = code
	w.reason = reason
	w.mu.Unlock()

	w.cfg.Stats.Counter(terminalCounter(status)).Inc(1)
	entry := w.log().WithField("exitCode", code)
	if reason != "" {
		entry = entry.WithField("reason", reason)
	}
	entry.Info("Worker finished")

	close(w.done)
	if w.cfg.OnFinish != nil {
		w.cfg.OnFinish(w)
	}
}

// supervise runs the whole lifecycle and never panics; any supervisor-side
// fault ends in WorkerError.
func (w *Worker) supervise() (status domain.WorkerStatus, code scooterrors.ExitCode, reason string) {
	defer func() {
		if r := recover(); r != nil {
			status, code, reason = domain.WorkerError, scooterrors.CouldNotExecExitCode, fmt.Sprintf("panic: %v", r)
		}
	}()

	w.setStatus(domain.WorkerPreStage)
	scratch, err := w.cfg.Scratch.TempDir("worker-" + w.cfg.ID + "-")
	if err != nil {
		return domain.WorkerError, scooterrors.PreStageFailureExitCode, err.Error()
	}
	defer func() {
		if err := scratch.RemoveAll(); err != nil {
			w.log().WithError(err).Warn("Couldn't remove scratch dir")
		}
	}()

	preStage := w.cfg.Stats.Latency(stats.GridPreStageLatency_ms).Time()
	err = w.preStage(scratch)
	preStage.Stop()
	if err != nil {
		return domain.WorkerError, scooterrors.PreStageFailureExitCode, err.Error()
	}

	if !w.cfg.Clock.Now().Before(w.currentDeadline()) {
		return domain.WorkerKilled, scooterrors.AbortedExitCode, "deadline passed before launch"
	}

	cmd, closer, err := w.command(scratch)
	if err != nil {
		return domain.WorkerError, scooterrors.PreStageFailureExitCode, err.Error()
	}
	proc, err := w.cfg.Execer.Exec(cmd)
	if err != nil {
		closer()
		if ec, ok := err.(*scooterrors.ExitCodeError); ok {
			return domain.WorkerFailed, ec.GetExitCode(), err.Error()
		}
		return domain.WorkerFailed, scooterrors.CouldNotExecExitCode, err.Error()
	}
	w.setStatus(domain.WorkerRunning)
	w.cfg.Stats.Counter(stats.GridWorkersStartedCounter).Inc(1)
	w.log().WithField("argv", cmd.Argv).Info("Worker running")

	st, killed := w.poll(proc)
	closer()

	if killed {
		return domain.WorkerKilled, st.ExitCode, st.Error
	}
	if st.State != execer.COMPLETE {
		return domain.WorkerFailed, st.ExitCode, st.Error
	}

	w.setStatus(domain.WorkerPostStage)
	postStage := w.cfg.Stats.Latency(stats.GridPostStageLatency_ms).Time()
	err = w.postStage(scratch)
	postStage.Stop()
	if err != nil {
		return domain.WorkerError, scooterrors.PostStageFailureExitCode, err.Error()
	}
	if st.ExitCode != 0 {
		return domain.WorkerUserError, st.ExitCode, st.Error
	}
	return domain.WorkerDone, 0, ""
}

// poll waits for proc, waking at least every PollInterval and whenever the
// deadline moves, and aborts it once the deadline has passed.
func (w *Worker) poll(proc execer.Process) (execer.ProcessStatus, bool) {
	waitCh := make(chan execer.ProcessStatus, 1)
	go func() {
		waitCh <- proc.Wait()
	}()
	for {
		now := w.cfg.Clock.Now()
		deadline := w.currentDeadline()
		if !now.Before(deadline) {
			w.log().WithField("deadline", deadline).Info("Deadline passed, aborting worker")
			st := proc.Abort()
			// A process that exited on its own before the abort stays COMPLETE.
			return st, st.State != execer.COMPLETE
		}
		wait := deadline.Sub(now)
		if wait > w.cfg.PollInterval {
			wait = w.cfg.PollInterval
		}
		select {
		case st := <-waitCh:
			return st, false
		case <-w.signalCh:
		case <-w.cfg.Clock.After(wait):
		}
	}
}

func (w *Worker) preStage(scratch *temp.TempDir) error {
	for _, in := range w.cfg.Stager.PreStageFiles() {
		dst, err := scratch.Path(in.Path)
		if err != nil {
			return err
		}
		if err := copyInput(w.cfg.Stager, in, dst); err != nil {
			return errors.Wrapf(err, "pre-staging %s", in.Path)
		}
		if err := staging.Verify(dst, in); err != nil {
			return err
		}
	}
	return nil
}

func copyInput(s staging.Stager, in domain.InputFile, dst string) error {
	r, err := s.OpenInput(in.Path)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0777); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Worker) postStage(scratch *temp.TempDir) error {
	for _, path := range w.cfg.Stager.PostStageFiles() {
		src, err := scratch.Path(path)
		if err != nil {
			return err
		}
		f, err := os.Open(src)
		if os.IsNotExist(err) {
			w.log().WithField("path", path).Warn("Declared output file was not produced")
			continue
		} else if err != nil {
			return err
		}
		err = staging.WriteOutputFile(w.cfg.Stager, w.cfg.ID, path, f)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "post-staging %s", path)
		}
	}
	return nil
}

// command builds what to exec and returns a func closing the streams it opened.
func (w *Worker) command(scratch *temp.TempDir) (execer.Command, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	stdout, err := w.cfg.Stager.CreateLogFile(w.cfg.ID + ".stdout")
	if err != nil {
		return execer.Command{}, nil, err
	}
	closers = append(closers, stdout)
	stderr, err := w.cfg.Stager.CreateLogFile(w.cfg.ID + ".stderr")
	if err != nil {
		closeAll()
		return execer.Command{}, nil, err
	}
	closers = append(closers, stderr)
	cmd := execer.Command{
		Argv:    w.cfg.Description.Argv(),
		Dir:     scratch.Dir,
		EnvVars: w.env(),
		Stdout:  stdout,
		Stderr:  stderr,
		LogTags: w.LogTags,
	}
	stdin, err := w.cfg.Stager.Stdin()
	if err != nil {
		closeAll()
		return execer.Command{}, nil, err
	}
	if stdin != nil {
		cmd.Stdin = stdin
		closers = append(closers, stdin)
	}
	return cmd, closeAll, nil
}

func (w *Worker) env() map[string]string {
	env := map[string]string{}
	for k, v := range w.cfg.Description.Env {
		env[k] = v
	}
	env["GRID_JOB_ID"] = w.cfg.JobID
	env["GRID_WORKER_ID"] = w.cfg.ID
	return env
}

func terminalCounter(s domain.WorkerStatus) string {
	switch s {
	case domain.WorkerDone:
		return stats.GridWorkersDoneCounter
	case domain.WorkerKilled:
		return stats.GridWorkersKilledCounter
	case domain.WorkerUserError:
		return stats.GridWorkersUserErrorCounter
	case domain.WorkerFailed:
		return stats.GridWorkersFailedCounter
	default:
		return stats.GridWorkersErrorCounter
	}
}
