package execers

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scootdev/grid/common/errors"
	"github.com/scootdev/grid/runner/execer"
)

func TestSimExec(t *testing.T) {
	ex := NewSimExecer()
	assertRun(ex, t, complete(0), "complete 0")
	assertRun(ex, t, complete(1), "complete 1")
	assertRun(ex, t, complete(0), "sleep 1", "complete 0")
	assertRun(ex, t, complete(0), "#this is a comment", "complete 0")
	assertRun(ex, t, complete(0), "sleep 1")
	argv := []string{"pause", "complete 0"}
	p := assertStart(ex, t, argv...)
	ex.Resume()
	assertStatus(t, complete(0), p, argv...)
}

func TestSimAbort(t *testing.T) {
	ex := NewSimExecer()
	p := assertStart(ex, t, "pause", "complete 0")
	st := p.Abort()
	if st.State != execer.FAILED || st.ExitCode != errors.AbortedExitCode {
		t.Fatalf("expected an aborted status, got %v", st)
	}
	if again := p.Wait(); again != st {
		t.Fatalf("wait after abort should return the abort status, got %v", again)
	}
	// Aborting a finished process keeps its status.
	p = assertStart(ex, t, "complete 3")
	p.Wait()
	if st := p.Abort(); st != complete(3) {
		t.Fatalf("expected the completed status to stick, got %v", st)
	}
}

func TestOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	expectedStdout, expectedStderr := "foo\n", "bar\n"
	cmd := execer.Command{
		Argv:   []string{"stdout " + expectedStdout, "stderr " + expectedStderr, "cat", "complete 0"},
		Stdin:  strings.NewReader("in\n"),
		Stdout: &stdout,
		Stderr: &stderr,
	}

	ex := NewSimExecer()
	p, err := ex.Exec(cmd)
	if err != nil {
		t.Fatal("Error running cmd", err)
	}
	st := p.Wait()
	if st != complete(0) {
		t.Fatalf("got status %v; expected %v", st, complete(0))
	}
	if stdout.String() != expectedStdout+"in\n" {
		t.Fatalf("got stdout %v; expected %v", stdout.String(), expectedStdout+"in\n")
	}
	if stderr.String() != expectedStderr {
		t.Fatalf("got stderr %v; expected %v", stderr.String(), expectedStderr)
	}
}

func TestWrite(t *testing.T) {
	dir, err := ioutil.TempDir("", "sim-write-")
	if err != nil {
		t.Fatal(err)
	}
	ex := NewSimExecer()
	p, err := ex.Exec(execer.Command{Argv: []string{"write out/result.txt 42"}, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if st := p.Wait(); st != complete(0) {
		t.Fatalf("unexpected status %v", st)
	}
	data, err := ioutil.ReadFile(filepath.Join(dir, "out", "result.txt"))
	if err != nil || string(data) != "42" {
		t.Fatalf("unexpected file content %q: %v", data, err)
	}
	if len(ex.Commands()) != 1 {
		t.Fatalf("expected one recorded command, got %v", ex.Commands())
	}
}

func TestWithSimJobs(t *testing.T) {
	sim := NewSimExecer()
	failing := &ErrExecer{Err: errors.NewErrorf(errors.CouldNotExecExitCode, "no real processes here")}
	ex := WithSimJobs(sim, failing)

	p, err := ex.Exec(execer.Command{Argv: []string{SimJobExecutable, "complete 0"}})
	if err != nil {
		t.Fatalf("couldn't run on the sim execer: %v", err)
	}
	if st := p.Wait(); st != complete(0) {
		t.Fatalf("did not complete: %v", st)
	}
	if _, err := ex.Exec(execer.Command{Argv: []string{"/bin/true"}}); err == nil {
		t.Fatal("expected the real execer to be used")
	}
	if len(sim.Commands()) != 1 {
		t.Fatalf("expected only the sim job on the sim execer, got %v", sim.Commands())
	}
}

func TestParseErrors(t *testing.T) {
	ex := NewSimExecer()
	for _, arg := range []string{"complete x", "sleep y", "explode", "write onlypath"} {
		if _, err := ex.Exec(execer.Command{Argv: []string{arg}}); err == nil {
			t.Errorf("expected %q to fail to parse", arg)
		}
	}
}

func assertRun(ex execer.Execer, t *testing.T, expected execer.ProcessStatus, argv ...string) {
	p := assertStart(ex, t, argv...)
	assertStatus(t, expected, p, argv...)
}

func assertStart(ex execer.Execer, t *testing.T, argv ...string) execer.Process {
	p, err := ex.Exec(execer.Command{Argv: argv})
	if err != nil {
		t.Fatal("Error running cmd ", err)
	}
	return p
}

func assertStatus(t *testing.T, expected execer.ProcessStatus, p execer.Process, argv ...string) {
	if st := p.Wait(); st != expected {
		t.Fatalf("Running %v, got %v, expected %v", argv, st, expected)
	}
}

func complete(exitCode errors.ExitCode) execer.ProcessStatus {
	return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: exitCode}
}
