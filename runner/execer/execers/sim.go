package execers

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scootdev/grid/common/errors"
	"github.com/scootdev/grid/runner/execer"
)

func NewSimExecer() *SimExecer {
	return &SimExecer{resumeCh: make(chan struct{})}
}

// SimExecer execs by simulating running argv.
// Each arg in command.Argv is simulated in order. Valid args are:
//
//	complete <exitcode int>   complete with exitcode
//	pause                     pause until SimExecer.Resume() is called or the process is aborted
//	sleep <millis int>        sleep for millis milliseconds
//	stdout <message>          write <message> to stdout
//	stderr <message>          write <message> to stderr
//	cat                       copy stdin to stdout
//	write <path> <content>    write content to path, relative to the command's Dir
//	#...                      ignored
//
// A process that runs out of args completes with exit code 0.
type SimExecer struct {
	resumeCh chan struct{}

	mu       sync.Mutex
	commands []execer.Command
}

func (e *SimExecer) Exec(command execer.Command) (execer.Process, error) {
	steps, err := e.parse(command.Argv)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.commands = append(e.commands, command)
	e.mu.Unlock()
	p := &simProcess{cmd: command, abortCh: make(chan struct{})}
	p.done = sync.NewCond(&p.mu)
	p.status.State = execer.RUNNING
	go p.run(steps)
	return p, nil
}

// Resume releases one paused process.
func (e *SimExecer) Resume() {
	e.resumeCh <- struct{}{}
}

// Commands returns everything exec'd so far.
func (e *SimExecer) Commands() []execer.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execer.Command(nil), e.commands...)
}

func (e *SimExecer) parse(argv []string) (steps []simStep, err error) {
	for _, arg := range argv {
		s, err := e.parseArg(arg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (e *SimExecer) parseArg(arg string) (simStep, error) {
	if strings.HasPrefix(arg, "#") {
		return &noopStep{}, nil
	}
	splits := strings.SplitN(arg, " ", 2)
	opcode, rest := splits[0], ""
	if len(splits) == 2 {
		rest = splits[1]
	}
	switch opcode {
	case "complete":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in complete <n>:%s", err.Error())
		}
		return &completeStep{errors.ExitCode(i)}, nil
	case "pause":
		return &pauseStep{e.resumeCh}, nil
	case "sleep":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in sleep <n>:%s", err.Error())
		}
		return &sleepStep{time.Duration(i) * time.Millisecond}, nil
	case "stdout":
		return &outputStep{rest, false}, nil
	case "stderr":
		return &outputStep{rest, true}, nil
	case "cat":
		return &catStep{}, nil
	case "write":
		kv := strings.SplitN(rest, " ", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("write needs <path> <content>: %v", arg)
		}
		return &writeStep{kv[0], kv[1]}, nil
	}
	return nil, fmt.Errorf("can't simulate arg: %v", arg)
}

type simProcess struct {
	cmd     execer.Command
	status  execer.ProcessStatus
	done    *sync.Cond
	mu      sync.Mutex
	abortCh chan struct{}
	aborted bool
}

func (p *simProcess) Wait() execer.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.status.State.IsDone() {
		p.done.Wait()
	}
	return p.status
}

func (p *simProcess) Abort() execer.ProcessStatus {
	p.mu.Lock()
	if !p.aborted {
		p.aborted = true
		close(p.abortCh)
	}
	p.mu.Unlock()
	p.setStatus(execer.ProcessStatus{
		State:    execer.FAILED,
		ExitCode: errors.AbortedExitCode,
		Error:    "Aborted",
	})
	return p.Wait()
}

func (p *simProcess) setStatus(status execer.ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.IsDone() {
		return
	}
	p.status = status
	if p.status.State.IsDone() {
		p.done.Broadcast()
	}
}

func (p *simProcess) getStatus() execer.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *simProcess) run(steps []simStep) {
	for _, step := range steps {
		status := p.getStatus()
		if status.State.IsDone() {
			return
		}
		p.setStatus(step.run(status, p))
	}
	p.setStatus(execer.ProcessStatus{State: execer.COMPLETE})
}

type simStep interface {
	run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus
}

type completeStep struct {
	exitCode errors.ExitCode
}

func (s *completeStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	status.ExitCode = s.exitCode
	status.State = execer.COMPLETE
	return status
}

type pauseStep struct {
	ch chan struct{}
}

func (s *pauseStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	select {
	case <-p.abortCh:
	case <-s.ch:
	}
	return status
}

type sleepStep struct {
	duration time.Duration
}

func (s *sleepStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	select {
	case <-p.abortCh:
	case <-time.After(s.duration):
	}
	return status
}

type outputStep struct {
	output string
	stderr bool
}

func (s *outputStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	w := p.cmd.Stdout
	if s.stderr {
		w = p.cmd.Stderr
	}
	if w != nil {
		w.Write([]byte(s.output))
	}
	return status
}

type catStep struct{}

func (s *catStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	if p.cmd.Stdin != nil && p.cmd.Stdout != nil {
		io.Copy(p.cmd.Stdout, p.cmd.Stdin)
	}
	return status
}

type writeStep struct {
	path, content string
}

func (s *writeStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	if err := writeFile(p.cmd.Dir, s.path, s.content); err != nil {
		return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: 1, Error: err.Error()}
	}
	return status
}

type noopStep struct{}

func (s *noopStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	return status
}

func writeFile(dir, path, content string) error {
	p := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(p), 0777); err != nil {
		return err
	}
	return ioutil.WriteFile(p, []byte(content), 0666)
}
