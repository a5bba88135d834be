// Package os runs commands as real processes. Every process gets its own
// process group so that aborting it also reaches everything it spawned.
package os

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/runner/execer"
)

// Time between SIGTERM and SIGKILL when aborting.
const DefaultAbortTimeout = 10 * time.Second

// Implements runner/execer.Execer
type osExecer struct {
	abortTimeout time.Duration
}

func NewExecer() execer.Execer {
	return NewBoundedExecer(DefaultAbortTimeout)
}

// NewBoundedExecer returns an execer that escalates aborts to SIGKILL after abortTimeout.
func NewBoundedExecer(abortTimeout time.Duration) execer.Execer {
	if abortTimeout <= 0 {
		abortTimeout = DefaultAbortTimeout
	}
	return &osExecer{abortTimeout: abortTimeout}
}

func (e *osExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, fmt.Errorf("No command specified.")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Use the parent environment plus whatever additional env vars are provided.
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(command.EnvVars))
	for k := range command.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+command.EnvVars[k])
	}

	// Sets pgid of all child processes to cmd's pid
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = command.Stdin
	cmd.Stdout = command.Stdout
	cmd.Stderr = command.Stderr
	// Children that inherit stdout/stderr can keep the pipes open after the
	// process exits. Don't let Wait hang on them forever.
	cmd.WaitDelay = e.abortTimeout

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.WithFields(
		log.Fields{
			"pid":      cmd.Process.Pid,
			"argv":     command.Argv,
			"jobID":    command.JobID,
			"workerID": command.WorkerID,
		}).Info("Started process")

	p := &process{cmd: cmd, done: make(chan struct{}), abortTimeout: e.abortTimeout, LogTags: command.LogTags}
	go p.wait()
	return p, nil
}
