package job

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scootdev/grid/common/log/hooks"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/resources"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/transport"
)

// primaryStub plays the Primary of one job for a replica under test.
type primaryStub struct {
	t      *testing.T
	static domain.StaticState
	input  []byte

	mu           sync.Mutex
	state        domain.DynamicState
	refuse       bool
	down         bool
	uploads      map[string][]byte
	granted      int
	unregistered bool
}

func newPrimaryStub(t *testing.T, f *fixture, attrs domain.Attributes, args ...string) *primaryStub {
	in := filepath.Join(f.root.Dir, "primary-in")
	require.NoError(t, os.MkdirAll(in, 0777))
	require.NoError(t, ioutil.WriteFile(filepath.Join(in, "data.txt"), []byte("input"), 0666))
	manifest, err := staging.BuildManifest(in, []string{"data.txt"})
	require.NoError(t, err)
	return &primaryStub{
		t: t,
		static: domain.StaticState{
			JobID: "job",
			Description: domain.Description{
				Kind:        domain.NativeJob,
				Executable:  "#sim",
				Args:        args,
				InputFiles:  manifest,
				OutputFiles: []string{"result.txt"},
			},
			WorkerResources: attrs.WorkerResources(),
		},
		input: []byte("input"),
		state: domain.DynamicState{
			Attributes:              attrs,
			Phase:                   domain.Scheduling,
			Constituents:            []domain.Endpoint{"primary"},
			RemainingDeadlineMillis: int64(time.Hour / time.Millisecond),
		},
		uploads: map[string][]byte{},
	}
}

func (s *primaryStub) setPhase(p domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = p
}

func (s *primaryStub) handle(to domain.Endpoint, req transport.Request) (interface{}, *domain.DynamicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, nil, errors.Wrap(transport.ErrUnreachable, "primary is down")
	}
	assert.Equal(s.t, domain.Endpoint("primary"), to)
	assert.Equal(s.t, domain.PrimaryRole, req.Role)
	state := s.state
	switch req.Opcode {
	case domain.OpRegister:
		if s.refuse {
			return domain.RegisterReply{Reason: "job is CLOSED"}, &state, nil
		}
		static := s.static
		return domain.RegisterReply{Accepted: true, Static: &static}, &state, nil
	case domain.OpRequestState:
		if s.refuse {
			return nil, nil, errors.New("r1 is not a constituent")
		}
	case domain.OpGetInputFile:
		return domain.GetInputFileReply{Data: s.input}, &state, nil
	case domain.OpNewWorker:
		s.granted++
		return domain.NewWorkerReply{Granted: s.granted <= state.Attributes.NrOfWorkers}, &state, nil
	case domain.OpGetOutputFile:
		var in domain.GetOutputFileRequest
		require.NoError(s.t, transport.Decode(req.Payload, &in))
		s.uploads[in.WorkerID+"/"+in.Path] = in.Data
	case domain.OpCreateLogFile:
		var in domain.CreateLogFileRequest
		require.NoError(s.t, transport.Decode(req.Payload, &in))
		s.uploads[in.Name] = in.Data
	case domain.OpUnregister:
		s.unregistered = true
		return domain.UnregisterReply{Accepted: true}, &state, nil
	}
	return nil, &state, nil
}

func newReplica(t *testing.T, f *fixture, s *primaryStub) *Replica {
	f.answer(s.handle)
	r := NewReplica(f.env, domain.Advert{
		JobID:           "job",
		Seq:             1,
		Radius:          1,
		Callback:        "primary",
		WorkerResources: s.static.WorkerResources,
	})
	r.Run()
	return r
}

func directive(t *testing.T, r *Replica, from domain.Endpoint, op domain.Opcode, payload interface{}, out interface{}) error {
	req, err := transport.NewRequest("job", domain.ReplicaRole, op, from, payload)
	require.NoError(t, err)
	reply, err := r.Invoke(context.Background(), req)
	if err != nil {
		return err
	}
	if out != nil {
		require.NoError(t, transport.Decode(reply.Payload, out))
	}
	return nil
}

func isDone(r *Replica) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

func TestReplicaZombie(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	s := newPrimaryStub(t, f, domain.DefaultAttributes(domain.NativeJob))
	s.refuse = true

	r := newReplica(t, f, s)
	assert.True(t, r.Zombie())
	assert.True(t, isDone(r))
	assert.False(t, r.step())

	err := directive(t, r, "primary", domain.OpStartWorkers, nil, nil)
	assert.True(t, IsProtocolError(err))
}

func TestReplicaZombieWhenPrimaryUnreachable(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	s := newPrimaryStub(t, f, domain.DefaultAttributes(domain.NativeJob))
	s.down = true

	r := newReplica(t, f, s)
	assert.True(t, r.Zombie())
	assert.True(t, isDone(r))
}

func TestReplicaMalleableLifecycle(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	attrs := domain.DefaultAttributes(domain.NativeJob)
	attrs.Malleable = true
	attrs.NrOfWorkers = 4
	s := newPrimaryStub(t, f, attrs, "write result.txt 42", "complete 0")

	r := newReplica(t, f, s)
	require.False(t, r.Zombie())
	assert.Equal(t, domain.Scheduling, r.Phase())

	require.True(t, r.step())
	assert.Len(t, r.Status().Workers, 1)
	assert.Equal(t, 0, f.ledger.NrOfResourceSetsAvailable(resources.New(0, 1, 0, 0)))

	waitReaped(t, r.host, 1)
	s.setPhase(domain.Closed)
	assert.False(t, r.step())
	assert.True(t, isDone(r))

	// The worker uploads its stdout and stderr, then its output.
	assert.Equal(t, []string{
		"REGISTER", "GET_INPUT_FILE", "NEW_WORKER", "CREATE_LOG_FILE", "CREATE_LOG_FILE",
		"GET_OUTPUT_FILE", "REMOVE_WORKER", "CREATE_LOG_FILE", "UNREGISTER",
	}, f.opcodes())
	assert.True(t, s.unregistered)
	assert.Contains(t, string(s.uploads["replica-r1.log"]), "Registered with primary")
	for key, data := range s.uploads {
		if filepath.Base(key) == "result.txt" {
			assert.Equal(t, "42", string(data))
		}
	}
	assert.Len(t, s.uploads, 4)
	assert.Equal(t, 1, f.ledger.NrOfResourceSetsAvailable(resources.New(0, 1, 0, 0)))
}

func TestReplicaLogsDoNotPileUp(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	s := newPrimaryStub(t, f, domain.DefaultAttributes(domain.NativeJob))
	s.setPhase(domain.Closed)

	jobs := hooks.JobLogs().Len()
	registered := len(log.StandardLogger().Hooks[log.InfoLevel])
	for i := 0; i < 20; i++ {
		r := newReplica(t, f, s)
		require.False(t, r.Zombie())
		assert.Equal(t, jobs+1, hooks.JobLogs().Len())
		assert.False(t, r.step())
		assert.True(t, isDone(r))
		assert.Equal(t, jobs, hooks.JobLogs().Len())
	}
	assert.Equal(t, registered, len(log.StandardLogger().Hooks[log.InfoLevel]))
	assert.Contains(t, string(s.uploads["replica-r1.log"]), "Registered with primary")
}

func TestReplicaDeniedWorkerReleasesClaim(t *testing.T) {
	f := newFixture(t, "r1", 2)
	defer f.ctrl.Finish()
	attrs := domain.DefaultAttributes(domain.NativeJob)
	attrs.Malleable = true
	attrs.NrOfWorkers = 1
	s := newPrimaryStub(t, f, attrs, "pause")

	r := newReplica(t, f, s)
	require.True(t, r.step())
	assert.Len(t, r.Status().Workers, 1)
	assert.Equal(t, 1, f.ledger.NrOfResourceSetsAvailable(resources.New(0, 1, 0, 0)))
	r.Cancel()
}

func TestReplicaDirectives(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	attrs := domain.DefaultAttributes(domain.NativeJob)
	attrs.NrOfWorkers = 3
	s := newPrimaryStub(t, f, attrs, "pause")
	r := newReplica(t, f, s)

	var created domain.CreateWorkersReply
	require.NoError(t, directive(t, r, "primary", domain.OpCreateWorkers, domain.CreateWorkersRequest{N: 2}, &created))
	assert.Len(t, created.WorkerIDs, 1, "the ledger has room for one")
	assert.Equal(t, 1, r.host.nrReserved())

	// The reservation shows up as lost capacity.
	require.True(t, r.step())
	assert.Equal(t, 0, r.reportedMax)

	require.NoError(t, directive(t, r, "primary", domain.OpDestroyWorkers, nil, nil))
	assert.Equal(t, 0, r.host.nrReserved())
	require.True(t, r.step())
	assert.Equal(t, 1, r.reportedMax)

	err := directive(t, r, "stranger", domain.OpStartWorkers, nil, nil)
	assert.True(t, IsProtocolError(err))

	require.NoError(t, directive(t, r, "primary", domain.OpCreateWorkers, domain.CreateWorkersRequest{N: 1}, &created))
	require.NoError(t, directive(t, r, "primary", domain.OpStartWorkers, nil, nil))
	assert.Equal(t, 0, r.host.nrReserved())
	assert.Equal(t, 1, r.host.count())

	// A cancelled job stops the worker and the replica leaves.
	cancelled := domain.DynamicState{Phase: domain.Cancelled, Attributes: attrs}
	require.NoError(t, directive(t, r, "primary", domain.OpStateUpdate, cancelled, nil))
	assert.Equal(t, domain.Cancelled, r.Phase())
	require.True(t, r.step())
	waitReaped(t, r.host, 1)
	assert.False(t, r.step())
	assert.True(t, s.unregistered)
}

func TestReplicaIgnoresStaleState(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	s := newPrimaryStub(t, f, domain.DefaultAttributes(domain.NativeJob))
	r := newReplica(t, f, s)

	r.applyState(&domain.DynamicState{Phase: domain.Running, RemainingDeadlineMillis: 60000})
	r.applyState(&domain.DynamicState{Phase: domain.Scheduling, RemainingDeadlineMillis: 60000})
	assert.Equal(t, domain.Running, r.Phase())
	assert.Equal(t, f.clk.Now().Add(time.Minute), r.deadline)

	// The deadline only moves earlier.
	r.applyState(&domain.DynamicState{Phase: domain.Running, RemainingDeadlineMillis: 120000})
	assert.Equal(t, f.clk.Now().Add(time.Minute), r.deadline)
	assert.Error(t, r.End(f.clk.Now().Add(time.Hour)))
	require.NoError(t, r.End(f.clk.Now().Add(time.Second)))
}

func TestReplicaLosesPrimary(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	s := newPrimaryStub(t, f, domain.DefaultAttributes(domain.NativeJob))
	r := newReplica(t, f, s)

	s.mu.Lock()
	s.down = true
	s.mu.Unlock()
	f.clk.Advance(f.env.Config.ConstituentExpiry + time.Second)
	require.True(t, r.step())
	assert.True(t, r.isLost())
	assert.False(t, r.step())
	assert.Equal(t, []string{"REGISTER", "GET_INPUT_FILE", "REQUEST_STATE"}, f.opcodes())
	assert.False(t, s.unregistered)
}

func TestReplicaDroppedByPrimary(t *testing.T) {
	f := newFixture(t, "r1", 1)
	defer f.ctrl.Finish()
	s := newPrimaryStub(t, f, domain.DefaultAttributes(domain.NativeJob))
	r := newReplica(t, f, s)
	require.True(t, r.step())

	s.mu.Lock()
	s.refuse = true
	s.mu.Unlock()
	f.clk.Advance(f.env.Config.StateRefreshInterval)
	require.True(t, r.step())
	assert.True(t, r.departing())
	assert.False(t, r.step())
	assert.True(t, isDone(r))
}
