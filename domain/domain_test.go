package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseOrder(t *testing.T) {
	order := []Phase{Unknown, Initial, PreStage, Scheduling, Running, Closed, PostStage, Completed, Cancelled, Error}
	for i, p := range order {
		assert.Equal(t, i, int(p))
		parsed, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
		assert.Equal(t, p >= Completed, p.Terminal(), p.String())
	}
	assert.True(t, Scheduling.Growing())
	assert.True(t, Running.Growing())
	assert.False(t, Closed.Growing())
}

func TestWorkerStatusClasses(t *testing.T) {
	tests := []struct {
		status   WorkerStatus
		finished bool
		failed   bool
	}{
		{WorkerInit, false, false},
		{WorkerPreStage, false, false},
		{WorkerRunning, false, false},
		{WorkerPostStage, false, false},
		{WorkerDone, true, false},
		{WorkerKilled, true, false},
		{WorkerUserError, true, true},
		{WorkerFailed, true, true},
		{WorkerError, true, true},
	}
	for _, test := range tests {
		if test.status.Finished() != test.finished || test.status.Failed() != test.failed {
			t.Errorf("%s: expected finished=%v failed=%v", test.status, test.finished, test.failed)
		}
	}
}

func TestAdvertRadius(t *testing.T) {
	tests := []struct {
		target, max, expected int
	}{
		{1, 4, 1},
		{3, 4, 1},
		{4, 4, 1},
		{40, 4, 2},
		{1000, 4, 3},
		{1000000, 4, 4},
		{0, 4, 1},
		{100, 1, 1},
	}
	for _, test := range tests {
		if got := AdvertRadius(test.target, test.max); got != test.expected {
			t.Errorf("AdvertRadius(%d, %d): expected %d, got %d", test.target, test.max, test.expected, got)
		}
	}
}

func TestAdvertForwarded(t *testing.T) {
	a := Advert{JobID: "j", Radius: 2}
	next, ok := a.Forwarded()
	require.True(t, ok)
	assert.Equal(t, 1, next.Radius)
	_, ok = next.Forwarded()
	assert.False(t, ok)
}

func TestDescriptionArgv(t *testing.T) {
	native := Description{Executable: "/bin/echo", Args: []string{"hi"}}
	assert.Equal(t, []string{"/bin/echo", "hi"}, native.Argv())

	java := Description{
		Kind:       JavaJob,
		Classpath:  []string{"a.jar", "b.jar"},
		JVMOptions: []string{"-Xmx64m"},
		MainClass:  "org.example.Main",
		Args:       []string{"x"},
	}
	assert.Equal(t, []string{"java", "-classpath", "a.jar:b.jar", "-Xmx64m", "org.example.Main", "x"}, java.Argv())
}

func TestDescriptionValidate(t *testing.T) {
	assert.Error(t, Description{}.Validate())
	assert.Error(t, Description{Kind: JavaJob}.Validate())
	assert.Error(t, Description{Executable: "x", OutputFiles: []string{"../escape"}}.Validate())
	assert.Error(t, Description{Executable: "x", InputFiles: []InputFile{{Path: "/abs", Hash: "h"}}}.Validate())
	assert.Error(t, Description{Executable: "x", InputFiles: []InputFile{{Path: "in"}}}.Validate())
	assert.NoError(t, Description{Executable: "x", InputFiles: []InputFile{{Path: "dir/in", Hash: "h"}}}.Validate())
}

func TestJobStatusJSONUsesNames(t *testing.T) {
	b, err := json.Marshal(JobStatus{JobID: "j", Role: ReplicaRole, Phase: Running})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"phase":"RUNNING"`)
	assert.Contains(t, string(b), `"role":"replica"`)

	var back JobStatus
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Running, back.Phase)
}

func TestOpName(t *testing.T) {
	assert.Equal(t, "UPDATE_MAX_NR_OF_WORKERS", OpName(PrimaryRole, OpUpdateMaxNrOfWorkers))
	assert.Equal(t, "CREATE_WORKERS", OpName(ReplicaRole, OpCreateWorkers))
	assert.Equal(t, "OP(42)", OpName(PrimaryRole, 42))
}
