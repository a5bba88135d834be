package job

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common/log/hooks"
	"github.com/scootdev/grid/common/log/tags"
	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

// Replica is a node's part of a job submitted elsewhere. It registers with
// the Primary named in the advert, mirrors the job's state and runs the
// workers the Primary admits on this node.
//
// Like the Primary, a Replica has one control loop and serves inbound
// requests on the caller's goroutine. Requests that arrive before
// registration finished wait for it.
type Replica struct {
	id      string
	primary domain.Endpoint
	self    domain.Endpoint
	tags.LogTags

	env    *Env
	stat   stats.StatsReceiver
	phase  *phaseMachine
	advert domain.Advert

	// Set once by initialize, before ready is closed.
	static  domain.StaticState
	host    *workerHost
	stager  *replicaStager
	logBuf  *syncBuffer

	// Owned by the loop.
	pending     []domain.WorkerInfo
	reportedMax int
	inputsReady bool
	signalled   time.Time

	mu          sync.Mutex
	state       domain.DynamicState
	deadline    time.Time
	lastContact time.Time
	leaving     bool
	lost        bool
	zombie      bool

	readyOnce  sync.Once
	ready      chan struct{}
	finishOnce sync.Once
	done       chan struct{}
}

// NewReplica prepares a replica for the job advert is about. Nothing happens
// until Run is called.
func NewReplica(env *Env, advert domain.Advert) *Replica {
	env = env.withDefaults()
	self := env.Transport.Endpoint()
	t := tags.LogTags{JobID: advert.JobID, Node: string(self)}
	return &Replica{
		id:      advert.JobID,
		primary: advert.Callback,
		self:    self,
		LogTags: t,
		env:     env,
		stat:    env.Stats,
		phase:   newPhaseMachine(env.Clock, t),
		advert:  advert,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run registers with the Primary and, unless the config is in debug mode,
// runs the control loop until the replica leaves the job.
func (r *Replica) Run() {
	if !r.initialize() {
		return
	}
	if r.env.Config.DebugMode {
		return
	}
	r.loop()
}

func (r *Replica) ID() string               { return r.id }
func (r *Replica) Role() domain.Role        { return domain.ReplicaRole }
func (r *Replica) Phase() domain.Phase      { return r.phase.get() }
func (r *Replica) Primary() domain.Endpoint { return r.primary }
func (r *Replica) Done() <-chan struct{}    { return r.done }

func (r *Replica) log() *log.Entry {
	return r.Entry()
}

func (r *Replica) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

// isReady reports whether initialize finished, after which the fields it
// sets may be read from any goroutine.
func (r *Replica) isReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

func (r *Replica) attributes() domain.Attributes {
	return r.currentState().Attributes
}

// Zombie is true if the Primary refused the registration.
func (r *Replica) Zombie() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zombie
}

func (r *Replica) initialize() bool {
	defer r.markReady()
	r.phase.set(domain.Initial)
	max := r.env.Ledger.NrOfResourceSetsAvailable(r.advert.WorkerResources)
	req, err := transport.NewRequest(r.id, domain.PrimaryRole, domain.OpRegister, r.self, domain.RegisterRequest{MaxNrOfWorkers: max})
	if err != nil {
		r.becomeZombie(err.Error())
		return false
	}
	var in domain.RegisterReply
	reply, err := call(r.env, r.stat, r.primary, req, &in)
	switch {
	case err != nil:
		r.becomeZombie(err.Error())
		return false
	case !in.Accepted || in.Static == nil:
		r.becomeZombie(in.Reason)
		return false
	}

	r.static = *in.Static
	now := r.env.Clock.Now()
	deadline := now
	if reply.State != nil {
		deadline = now.Add(reply.State.RemainingDeadline())
	}
	r.stager = newReplicaStager(r, r.static.Description, nil)
	host, err := newWorkerHost(r.env, r.LogTags, r.stat, r.static, r.stager, deadline, r.phase.notify)
	if err != nil {
		r.unregister()
		r.becomeZombie(errors.Wrap(err, "creating job scratch dir").Error())
		return false
	}
	cache, err := host.scratch.FixedDir("inputs")
	if err != nil {
		host.close()
		r.unregister()
		r.becomeZombie(errors.Wrap(err, "creating input cache").Error())
		return false
	}
	r.stager.cache = cache
	r.host = host
	r.logBuf = &syncBuffer{}
	hooks.JobLogs().Add(r.id, string(r.self), r.logBuf)
	r.reportedMax = max

	r.mu.Lock()
	r.deadline = deadline
	r.lastContact = now
	r.mu.Unlock()
	r.applyState(reply.State)

	r.log().WithFields(log.Fields{
		"primary":        r.primary,
		"maxNrOfWorkers": max,
		"argv":           r.static.Description.Argv(),
	}).Info("Registered with primary")
	return true
}

func (r *Replica) becomeZombie(reason string) {
	r.mu.Lock()
	r.zombie = true
	r.mu.Unlock()
	r.log().WithFields(log.Fields{
		"primary": r.primary,
		"reason":  reason,
	}).Info("Registration refused, replica is a zombie")
	r.finish()
}

func (r *Replica) loop() {
	for r.step() {
		select {
		case <-r.phase.wake:
		case <-r.env.Clock.After(r.env.Config.TickRate):
		}
	}
}

// step runs one iteration of the control loop and returns false once the
// replica left the job.
func (r *Replica) step() bool {
	select {
	case <-r.done:
		return false
	default:
	}
	now := r.env.Clock.Now()

	r.fetchInputs()
	r.reap()
	r.follow()
	r.grow()
	r.updateMax()
	if r.canLeave() {
		r.leave()
		return false
	}
	r.refresh(now)
	r.checkPrimary(now)
	return true
}

func (r *Replica) fetchInputs() {
	if !r.inputsReady && !r.departing() {
		r.inputsReady = r.stager.fetchAll()
	}
}

// reap reports finished workers to the Primary in the order they finished.
// Reports the Primary refuses are dropped, unreachable ones are retried.
func (r *Replica) reap() {
	r.pending = append(r.pending, r.host.reap()...)
	if r.isLost() {
		r.pending = nil
		return
	}
	for len(r.pending) > 0 {
		info := r.pending[0]
		err := r.request(domain.OpRemoveWorker, domain.RemoveWorkerRequest{
			WorkerID: info.ID,
			Status:   info.Status,
			ExitCode: info.ExitCode,
		}, nil)
		if unreachable(err) {
			return
		}
		if err != nil {
			r.log().WithField("workerID", info.ID).WithError(err).Warn("Primary refused worker report")
		}
		r.pending = r.pending[1:]
	}
}

// follow stops local workers once the job is over for this node and passes
// deadline changes on to them.
func (r *Replica) follow() {
	phase := r.phase.get()
	r.mu.Lock()
	deadline := r.deadline
	r.mu.Unlock()
	if phase.Terminal() || r.departing() {
		r.host.stopAll()
		return
	}
	if phase >= domain.Closed && r.host.nrReserved() > 0 {
		r.log().Info("Job closed, releasing reserved workers")
		r.host.destroyReserved()
	}
	if !deadline.Equal(r.signalled) {
		r.signalled = deadline
		r.host.signalAll(deadline)
	}
}

// grow starts local workers of a malleable job one grant at a time.
func (r *Replica) grow() {
	if !r.inputsReady || r.departing() || !r.attributes().Malleable {
		return
	}
	for r.phase.get().Growing() && r.host.capacity() > 0 {
		id := domain.NewWorkerID()
		if !r.host.reserve(id) {
			return
		}
		var reply domain.NewWorkerReply
		if err := r.request(domain.OpNewWorker, domain.NewWorkerRequest{WorkerID: id}, &reply); err != nil || !reply.Granted {
			r.host.release(id)
			return
		}
		r.host.start(id)
	}
}

// updateMax tells the Primary of a non-malleable job how many workers this
// node could take whenever that changes.
func (r *Replica) updateMax() {
	if r.departing() || r.phase.get() != domain.Scheduling || r.attributes().Malleable {
		return
	}
	max := r.host.capacity()
	if max == r.reportedMax {
		return
	}
	if err := r.request(domain.OpUpdateMaxNrOfWorkers, domain.UpdateMaxNrOfWorkersRequest{MaxNrOfWorkers: max}, nil); err != nil {
		r.log().WithError(err).Warn("Couldn't update capacity")
		return
	}
	r.reportedMax = max
}

// canLeave is true once this node has nothing left to do for the job.
func (r *Replica) canLeave() bool {
	if r.host.count() > 0 || len(r.pending) > 0 {
		return false
	}
	return r.phase.get() >= domain.Closed || r.departing()
}

func (r *Replica) leave() {
	r.log().WithField("phase", r.phase.get()).Info("Replica leaving job")
	if !r.isLost() {
		r.shipLog()
		r.unregister()
	}
	r.finish()
}

func (r *Replica) shipLog() {
	r.stopLog()
	name := "replica-" + logName.Replace(string(r.self)) + ".log"
	w, err := r.stager.CreateLogFile(name)
	if err == nil {
		err = writeAll(w, r.logBuf.Bytes())
	}
	if err != nil {
		r.log().WithError(err).Warn("Couldn't ship replica log")
	}
}

var logName = strings.NewReplacer(":", "_", "/", "_", "\\", "_")

func (r *Replica) unregister() {
	var reply domain.UnregisterReply
	if err := r.request(domain.OpUnregister, nil, &reply); err != nil {
		r.log().WithError(err).Warn("Couldn't unregister")
		return
	}
	if !reply.Accepted {
		r.log().WithField("reason", reply.Reason).Warn("Primary refused to let the replica go")
	}
}

// refresh asks for the job's state if nothing was heard for a while. A
// Primary that refuses to answer no longer counts this node in.
func (r *Replica) refresh(now time.Time) {
	r.mu.Lock()
	due := now.Sub(r.lastContact) >= r.env.Config.StateRefreshInterval
	r.mu.Unlock()
	if !due || r.departing() {
		return
	}
	err := r.request(domain.OpRequestState, nil, nil)
	if err != nil && !unreachable(err) {
		r.log().WithError(err).Warn("Primary dropped this replica")
		r.mu.Lock()
		r.leaving = true
		r.mu.Unlock()
		r.host.stopAll()
	}
}

// checkPrimary gives up on a Primary that stayed silent past the expiry.
func (r *Replica) checkPrimary(now time.Time) {
	r.mu.Lock()
	silent := now.Sub(r.lastContact)
	lost := !r.lost && silent > r.env.Config.ConstituentExpiry
	if lost {
		r.lost = true
	}
	r.mu.Unlock()
	if lost {
		r.log().WithFields(log.Fields{
			"primary": r.primary,
			"silent":  silent,
		}).Warn("Lost contact with primary, stopping workers")
		r.host.stopAll()
		r.phase.notify()
	}
}

// request calls the Primary as this replica and applies the state it
// replies with.
func (r *Replica) request(op domain.Opcode, payload interface{}, out interface{}) error {
	req, err := transport.NewRequest(r.id, domain.PrimaryRole, op, r.self, payload)
	if err != nil {
		return err
	}
	return r.call(req, out)
}

func (r *Replica) call(req transport.Request, out interface{}) error {
	reply, err := call(r.env, r.stat, r.primary, req, out)
	if err != nil {
		return err
	}
	r.touch()
	r.applyState(reply.State)
	return nil
}

func (r *Replica) upload(op domain.Opcode, payload interface{}) error {
	return r.request(op, payload, nil)
}

func (r *Replica) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastContact = r.env.Clock.Now()
}

// applyState mirrors the Primary's state. States older than the one already
// seen are ignored, the deadline only ever moves earlier.
func (r *Replica) applyState(s *domain.DynamicState) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if s.Phase < r.state.Phase {
		r.mu.Unlock()
		return
	}
	r.state = *s
	if d := r.env.Clock.Now().Add(s.RemainingDeadline()); r.deadline.IsZero() || d.Before(r.deadline) {
		r.deadline = d
	}
	r.mu.Unlock()
	r.phase.mirror(s.Phase)
	r.phase.notify()
}

func (r *Replica) currentState() domain.DynamicState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Replica) departing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaving || r.lost
}

func (r *Replica) isLost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

// Invoke handles a directive or a state push from the Primary.
func (r *Replica) Invoke(ctx context.Context, req transport.Request) (transport.Reply, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return transport.Reply{}, ctx.Err()
	}
	payload, err := r.handle(req)
	if err != nil {
		r.stat.Counter(stats.GridProtocolErrorsCounter).Inc(1)
		r.log().WithFields(log.Fields{
			"opcode": domain.OpName(req.Role, req.Opcode),
			"from":   req.From,
			"err":    err,
		}).Warn("Refused request")
		return transport.Reply{}, err
	}
	return transport.NewReply(payload, nil)
}

func (r *Replica) handle(req transport.Request) (interface{}, error) {
	if req.JobID != r.id || req.Role != domain.ReplicaRole {
		return nil, protocolError("%s is not for the replica of %s", req, r.id)
	}
	if req.From != r.primary {
		return nil, protocolError("%s is not from the primary %s", req, r.primary)
	}
	if r.host == nil {
		return nil, protocolError("replica of %s is not registered", r.id)
	}
	r.touch()
	switch req.Opcode {
	case domain.OpCreateWorkers:
		var in domain.CreateWorkersRequest
		if err := transport.Decode(req.Payload, &in); err != nil {
			return nil, protocolError("%s: %v", req, err)
		}
		if r.departing() || !r.phase.get().Growing() {
			return domain.CreateWorkersReply{}, nil
		}
		return domain.CreateWorkersReply{WorkerIDs: r.host.reserveN(in.N)}, nil

	case domain.OpStartWorkers:
		ids := r.host.startReserved()
		r.log().WithField("workers", ids).Info("Starting claimed workers")
		return nil, nil

	case domain.OpDestroyWorkers:
		n := r.host.destroyReserved()
		r.host.stopAll()
		r.log().WithField("reserved", n).Info("Destroying workers")
		return nil, nil

	case domain.OpStateUpdate:
		var s domain.DynamicState
		if err := transport.Decode(req.Payload, &s); err != nil {
			return nil, protocolError("%s: %v", req, err)
		}
		r.applyState(&s)
		return nil, nil
	}
	return nil, protocolError("unknown opcode %d", int(req.Opcode))
}

// Cancel stops this node's part of the job. The replica leaves once its
// workers are gone; the job itself goes on.
func (r *Replica) Cancel() {
	r.mu.Lock()
	r.leaving = true
	r.mu.Unlock()
	r.log().Info("Cancelling replica")
	if r.isReady() && r.host != nil {
		r.host.stopAll()
	}
	r.phase.notify()
}

// End moves the local deadline earlier.
func (r *Replica) End(d time.Time) error {
	r.mu.Lock()
	if !r.deadline.IsZero() && !d.Before(r.deadline) {
		current := r.deadline
		r.mu.Unlock()
		return errors.Errorf("deadline %v is not earlier than %v", d, current)
	}
	r.deadline = d
	r.mu.Unlock()
	r.phase.notify()
	return nil
}

func (r *Replica) Status() domain.JobStatus {
	started, stopped := r.phase.times()
	r.mu.Lock()
	state := r.state
	remaining := r.deadline.Sub(r.env.Clock.Now())
	r.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	status := domain.JobStatus{
		JobID:                   r.id,
		Role:                    domain.ReplicaRole,
		Node:                    r.self,
		Phase:                   r.phase.get(),
		Attributes:              state.Attributes,
		Stats:                   state.Stats,
		Constituents:            state.Constituents,
		RemainingDeadlineMillis: int64(remaining / time.Millisecond),
		Started:                 started,
		Stopped:                 stopped,
	}
	if r.isReady() && r.host != nil {
		status.Workers = r.host.infos()
	}
	return status
}

func (r *Replica) finish() {
	r.finishOnce.Do(func() {
		r.markReady()
		r.stopLog()
		if r.host != nil {
			r.host.close()
		}
		r.log().WithField("phase", r.phase.get()).Info("Replica finished")
		close(r.done)
	})
}

func (r *Replica) stopLog() {
	if r.logBuf != nil {
		hooks.JobLogs().Remove(r.id, string(r.self))
	}
}

// syncBuffer is the replica's log, written by the log hook from any
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
