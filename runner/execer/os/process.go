package os

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/scootdev/grid/common/errors"
	"github.com/scootdev/grid/common/log/tags"
	"github.com/scootdev/grid/runner/execer"
)

// Implements runner/execer.Process
type process struct {
	cmd          *exec.Cmd
	done         chan struct{}
	mutex        sync.Mutex
	result       *execer.ProcessStatus
	abortTimeout time.Duration
	tags.LogTags
}

// wait is the only caller of cmd.Wait. It records how the process ended
// unless an abort already decided the result.
func (p *process) wait() {
	err := p.cmd.Wait()
	status := statusFromWait(err)

	p.mutex.Lock()
	if p.result == nil {
		p.result = &status
	}
	p.mutex.Unlock()
	close(p.done)

	log.WithFields(
		log.Fields{
			"pid":      p.cmd.Process.Pid,
			"status":   status,
			"jobID":    p.JobID,
			"workerID": p.WorkerID,
		}).Info("Finished waiting for process")
}

// If the command finishes without error return COMPLETE with exit code 0.
// If it fails with an exit status return COMPLETE with that code.
// Otherwise return FAILED and the error that prevented getting the exit code.
func statusFromWait(err error) (result execer.ProcessStatus) {
	if err == nil {
		result.State = execer.COMPLETE
		return result
	}
	if err, ok := err.(*exec.ExitError); ok {
		if status, ok := err.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				result.State = execer.FAILED
				result.ExitCode = errors.AbortedExitCode
				result.Error = fmt.Sprintf("Killed by signal %v", status.Signal())
				return result
			}
			result.State = execer.COMPLETE
			result.ExitCode = errors.ExitCode(status.ExitStatus())
			return result
		}
		result.State = execer.FAILED
		result.Error = "Could not find WaitStatus from exiterr.Sys()"
		return result
	}
	result.State = execer.FAILED
	result.Error = err.Error()
	return result
}

func (p *process) Wait() execer.ProcessStatus {
	<-p.done
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return *p.result
}

// Abort sends SIGTERM to the process group, allowing for graceful exit, and
// SIGKILL once abortTimeout has passed.
func (p *process) Abort() execer.ProcessStatus {
	p.mutex.Lock()
	if p.result != nil {
		p.mutex.Unlock()
		return p.Wait()
	}
	p.result = &execer.ProcessStatus{
		State:    execer.FAILED,
		ExitCode: errors.AbortedExitCode,
		Error:    "Aborted",
	}
	p.mutex.Unlock()

	pid := p.cmd.Process.Pid
	fields := log.Fields{"pid": pid, "jobID": p.JobID, "workerID": p.WorkerID}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		log.WithFields(fields).WithError(err).Error("Error aborting process group via SIGTERM")
	} else {
		log.WithFields(fields).Info("Aborting process group via SIGTERM")
	}

	select {
	case <-p.done:
		p.appendError(" (SIGTERM)")
	case <-time.After(p.abortTimeout):
		log.WithFields(fields).Errorf("%v timeout exceeded, killing process group", p.abortTimeout)
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
			log.WithFields(fields).WithError(err).Error("Error cleaning up process group")
		}
		<-p.done
		p.appendError(" (SIGKILL)")
	}
	return p.Wait()
}

func (p *process) appendError(s string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.result.Error += s
}
