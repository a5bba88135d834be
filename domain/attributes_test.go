package domain

import (
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scootdev/grid/resources"
)

func TestDefaultAttributes(t *testing.T) {
	native := DefaultAttributes(NativeJob)
	assert.False(t, native.Malleable)
	assert.Equal(t, 1, native.NrOfWorkers)
	assert.Equal(t, CloseWorld, native.OnUserExit)
	assert.Equal(t, CancelJob, native.OnUserError)
	assert.Equal(t, DefaultLifetime, native.Lifetime)
	assert.True(t, native.Regrow)

	java := DefaultAttributes(JavaJob)
	assert.True(t, java.Malleable)
}

func TestParseAttributes(t *testing.T) {
	attrs, err := ParseAttributes(NativeJob, map[string]string{
		NrOfWorkersKey:      "3",
		WorkerMemoryKey:     "512",
		WorkerProcessorsKey: "2",
		MalleableKey:        "true",
		OnUserExitKey:       "ignore",
		OnUserErrorKey:      "job.error",
		LifetimeKey:         "30",
		WalltimeMaxKey:      "10",
		ClaimNodeKey:        "true",
		RegrowKey:           "false",
		AdvertMetricKey:     "latency",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attrs.NrOfWorkers)
	assert.Equal(t, int64(512), attrs.WorkerMemoryMB)
	assert.True(t, attrs.Malleable)
	assert.Equal(t, Ignore, attrs.OnUserExit)
	assert.Equal(t, JobError, attrs.OnUserError)
	assert.Equal(t, 10*time.Minute, attrs.Lifetime, "the tighter wall time wins")
	assert.False(t, attrs.Regrow)
	assert.Equal(t, MetricLatency, attrs.AdvertMetric)
	assert.Equal(t, resources.New(1, 2, 512, 0), attrs.WorkerResources())
}

func TestParseAttributesRejects(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
	}{
		{"zero workers", map[string]string{NrOfWorkersKey: "0"}},
		{"garbage count", map[string]string{NrOfWorkersKey: "three"}},
		{"bad exit policy", map[string]string{OnUserExitKey: "explode"}},
		{"bad error policy", map[string]string{OnUserErrorKey: ""}},
		{"lifetime over the cap", map[string]string{LifetimeKey: "20000"}},
		{"lifetime overflowing a duration", map[string]string{LifetimeKey: "307445735"}},
		{"walltime overflowing a duration", map[string]string{WalltimeMaxKey: "9223372036854775807"}},
		{"negative memory", map[string]string{WorkerMemoryKey: "-1"}},
		{"unknown key", map[string]string{"colour": "blue"}},
		{"bad bool", map[string]string{MalleableKey: "perhaps"}},
		{"bad metric", map[string]string{AdvertMetricKey: "hops"}},
	}
	for _, test := range tests {
		_, err := ParseAttributes(NativeJob, test.attrs)
		if err == nil {
			t.Errorf("%s: expected an error", test.name)
			continue
		}
		if !IsInvalidAttribute(err) {
			t.Errorf("%s: expected an invalid attribute error, got %v", test.name, err)
		}
	}
}

func TestParseAttributesReportsEveryProblem(t *testing.T) {
	_, err := ParseAttributes(NativeJob, map[string]string{
		NrOfWorkersKey: "-4",
		OnUserExitKey:  "nope",
		"unknown":      "x",
	})
	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "expected a multierror, got %T", err)
	assert.Len(t, merr.Errors, 3)
}

func TestAttributesMapRoundTrip(t *testing.T) {
	attrs, err := ParseAttributes(JavaJob, map[string]string{NrOfWorkersKey: "7", ClaimNodeKey: "true"})
	require.NoError(t, err)
	again, err := ParseAttributes(NativeJob, attrs.Map())
	require.NoError(t, err)
	assert.Equal(t, attrs, again)
}

func TestExitPolicyFor(t *testing.T) {
	attrs := DefaultAttributes(NativeJob)
	assert.Equal(t, CloseWorld, attrs.ExitPolicyFor(WorkerDone))
	for _, s := range []WorkerStatus{WorkerKilled, WorkerUserError, WorkerFailed, WorkerError} {
		assert.Equal(t, CancelJob, attrs.ExitPolicyFor(s), s.String())
	}
}
