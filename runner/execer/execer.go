// Package execer runs one Unix command, or fakes it. It knows nothing about
// jobs or staging: a worker builds the Command and supervises the Process.
package execer

import (
	"fmt"
	"io"

	"github.com/scootdev/grid/common/errors"
	"github.com/scootdev/grid/common/log/tags"
)

type Command struct {
	Argv    []string
	Dir     string
	EnvVars map[string]string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	tags.LogTags
}

type ProcessState int

const (
	UNKNOWN ProcessState = iota
	RUNNING
	COMPLETE
	FAILED
)

var processStateNames = []string{"UNKNOWN", "RUNNING", "COMPLETE", "FAILED"}

func (s ProcessState) String() string {
	if s < UNKNOWN || int(s) >= len(processStateNames) {
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
	return processStateNames[s]
}

func (s ProcessState) IsDone() bool {
	return s == COMPLETE || s == FAILED
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	// Wait blocks until the process is done. It may be called more than once.
	Wait() ProcessStatus

	// Abort stops the process and everything it started. Aborting a finished
	// process returns its final status.
	Abort() ProcessStatus
}

// ProcessStatus is COMPLETE with an ExitCode when the process exited on its
// own, and FAILED with an Error when no exit code could be had.
type ProcessStatus struct {
	State    ProcessState
	ExitCode errors.ExitCode
	Error    string
}

func (s ProcessStatus) String() string {
	if s.Error != "" {
		return fmt.Sprintf("%v (exit %d): %s", s.State, s.ExitCode, s.Error)
	}
	return fmt.Sprintf("%v (exit %d)", s.State, s.ExitCode)
}
