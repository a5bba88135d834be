package job

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/async"
	"github.com/scootdev/grid/common/log/tags"
	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/transport"
)

// Primary is the authoritative side of a job, created on the node it was
// submitted to.
//
// Primary Concurrency: one goroutine runs the control loop (step), every
// inbound request runs on the caller's goroutine. Both take mu for the
// shared state and never hold it across a call to another node. Outgoing
// pushes and adverts run through an async.Runner whose callbacks are
// applied at the start of the next step.
type Primary struct {
	id   string
	self domain.Endpoint
	tags.LogTags

	env    *Env
	static domain.StaticState
	stager staging.Stager
	stat   stats.StatsReceiver
	host   *workerHost
	phase  *phaseMachine
	radius int

	// Owned by the loop.
	async         async.Runner
	advertBackoff *backoff.ExponentialBackOff
	nextAdvert    time.Time
	advertSeq     int64
	claimBackoff  *backoff.ExponentialBackOff
	nextClaim     time.Time

	mu           sync.Mutex
	attrs        domain.Attributes
	constituents constituentSet
	deadline     time.Time

	dirty      atomic.Bool
	finishOnce sync.Once
	done       chan struct{}
}

// Submit validates a job and starts coordinating it from this node. Inputs
// named in the description's manifest must be readable through stager and
// match their hashes.
func Submit(env *Env, desc domain.Description, attrs map[string]string, stager staging.Stager) (*Primary, error) {
	env = env.withDefaults()
	if err := desc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid job description")
	}
	a, err := domain.ParseAttributes(desc.Kind, attrs)
	if err != nil {
		return nil, err
	}

	id := domain.NewJobID()
	self := env.Transport.Endpoint()
	t := tags.LogTags{JobID: id, Node: string(self)}
	now := env.Clock.Now()
	p := &Primary{
		id:      id,
		self:    self,
		LogTags: t,
		env:     env,
		static: domain.StaticState{
			JobID:           id,
			Description:     desc,
			WorkerResources: a.WorkerResources(),
		},
		stager:        stager,
		stat:          stats.Mirror(stats.FinagleStatsReceiver(), env.Stats),
		phase:         newPhaseMachine(env.Clock, t),
		radius:        domain.AdvertRadius(a.NrOfWorkers, env.Config.MaxAdvertRadius),
		async:         async.NewRunner(),
		advertBackoff: newBackoff(env.Clock, env.Config.AdvertMinInterval, env.Config.AdvertMaxInterval),
		claimBackoff:  newBackoff(env.Clock, env.Config.ClaimRetryMin, env.Config.ClaimRetryMax),
		attrs:         a,
		constituents:  constituentSet{},
		deadline:      now.Add(a.Lifetime),
		done:          make(chan struct{}),
	}
	p.phase.set(domain.Initial)

	p.host, err = newWorkerHost(env, t, p.stat, p.static, stager, p.deadline, p.phase.notify)
	if err != nil {
		return nil, errors.Wrap(err, "creating job scratch dir")
	}

	p.phase.set(domain.PreStage)
	if err := verifyInputs(stager); err != nil {
		p.host.close()
		return nil, err
	}

	p.constituents[self] = newConstituent(self, p.host.capacity(), now.Add(env.Config.ConstituentExpiry))
	p.phase.set(domain.Scheduling)
	p.markDirty()

	p.Entry().WithFields(log.Fields{
		"attributes": a.Map(),
		"argv":       desc.Argv(),
		"radius":     p.radius,
	}).Info("Job submitted")

	if !env.Config.DebugMode {
		go p.loop()
	}
	return p, nil
}

func newBackoff(clk clock.Clock, min, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = clk
	b.Reset()
	return b
}

// verifyInputs checks the whole manifest once, at submission.
func verifyInputs(s staging.Stager) error {
	for _, in := range s.PreStageFiles() {
		r, err := s.OpenInput(in.Path)
		if err != nil {
			return errors.Wrapf(err, "opening input %s", in.Path)
		}
		hash, size, err := staging.Hash(r)
		r.Close()
		if err != nil {
			return errors.Wrapf(err, "reading input %s", in.Path)
		}
		if hash != in.Hash || (in.Size > 0 && size != in.Size) {
			return errors.Errorf("input %s does not match its manifest", in.Path)
		}
	}
	return nil
}

func (p *Primary) ID() string          { return p.id }
func (p *Primary) Role() domain.Role   { return domain.PrimaryRole }
func (p *Primary) Phase() domain.Phase { return p.phase.get() }

func (p *Primary) Done() <-chan struct{} {
	return p.done
}

func (p *Primary) Attributes() domain.Attributes {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attrs
}

// Cancel moves the job to CANCELLED unless it already ended.
func (p *Primary) Cancel() {
	if p.phase.get() < domain.Completed {
		p.Entry().Info("Cancelling job")
		p.phase.set(domain.Cancelled)
		p.markDirty()
	}
}

// End moves the deadline to d and tells local workers. Replicas learn the new
// deadline from the next state they get.
func (p *Primary) End(d time.Time) error {
	p.mu.Lock()
	if !d.Before(p.deadline) {
		current := p.deadline
		p.mu.Unlock()
		return errors.Errorf("deadline %v is not earlier than %v", d, current)
	}
	p.deadline = d
	p.mu.Unlock()
	p.host.signalAll(d)
	p.markDirty()
	return nil
}

// UpdateAttributes applies m to the running job. Only nr.of.workers may
// change, and only on a malleable job.
func (p *Primary) UpdateAttributes(m map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if phase := p.phase.get(); phase.Terminal() {
		return errors.Errorf("job %s is %v", p.id, phase)
	}
	next, err := p.attrs.With(m)
	if err != nil {
		return err
	}
	unchanged := next
	unchanged.NrOfWorkers = p.attrs.NrOfWorkers
	if unchanged != p.attrs {
		return errors.Wrapf(domain.ErrInvalidAttribute, "only %s may change once a job is submitted", domain.NrOfWorkersKey)
	}
	if next.NrOfWorkers != p.attrs.NrOfWorkers && !p.attrs.Malleable {
		return errors.Wrapf(domain.ErrInvalidAttribute, "%s of a non-malleable job is fixed", domain.NrOfWorkersKey)
	}
	p.Entry().WithFields(log.Fields{
		"from": p.attrs.NrOfWorkers,
		"to":   next.NrOfWorkers,
	}).Info("Updating worker target")
	p.attrs = next
	p.markDirty()
	return nil
}

func (p *Primary) Status() domain.JobStatus {
	started, stopped := p.phase.times()
	state := p.state()
	return domain.JobStatus{
		JobID:                   p.id,
		Role:                    domain.PrimaryRole,
		Node:                    p.self,
		Phase:                   state.Phase,
		Attributes:              state.Attributes,
		Stats:                   state.Stats,
		Constituents:            state.Constituents,
		RemainingDeadlineMillis: state.RemainingDeadlineMillis,
		Workers:                 p.host.infos(),
		Started:                 started,
		Stopped:                 stopped,
	}
}

func (p *Primary) state() *domain.DynamicState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Primary) stateLocked() *domain.DynamicState {
	remaining := p.deadline.Sub(p.env.Clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return &domain.DynamicState{
		Stats:                   stats.Snapshot(p.stat),
		Attributes:              p.attrs,
		Phase:                   p.phase.get(),
		Constituents:            p.constituents.endpoints(),
		RemainingDeadlineMillis: int64(remaining / time.Millisecond),
	}
}

func (p *Primary) markDirty() {
	p.dirty.Store(true)
	p.phase.notify()
}

func (p *Primary) loop() {
	for p.step() {
		select {
		case <-p.phase.wake:
		case <-p.env.Clock.After(p.env.Config.TickRate):
		}
	}
}

// step runs one iteration of the control loop and returns false once the
// job is finished.
func (p *Primary) step() bool {
	p.async.ProcessMessages()
	now := p.env.Clock.Now()

	p.purgeExpired(now)
	p.reapLocal()
	p.growLocal()
	p.advertise(now)
	p.pushState()
	p.claim(now)
	if !p.enforce(now) {
		p.finish()
		return false
	}
	p.updateGauges()
	return true
}

// purgeExpired drops constituents that went silent. The Primary's own entry
// is refreshed instead.
func (p *Primary) purgeExpired(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ep, c := range p.constituents {
		if ep == p.self {
			c.Expiry = now.Add(p.env.Config.ConstituentExpiry)
			continue
		}
		if c.expired(now) {
			p.dropLocked(ep, "expired")
		}
	}
}

func (p *Primary) drop(ep domain.Endpoint, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked(ep, reason)
}

func (p *Primary) dropLocked(ep domain.Endpoint, reason string) {
	c, ok := p.constituents[ep]
	if !ok || ep == p.self {
		return
	}
	delete(p.constituents, ep)
	p.stat.Counter(stats.GridConstituentsPurgedCounter).Inc(1)
	p.Entry().WithFields(log.Fields{
		"constituent": c.String(),
		"reason":      reason,
	}).Warn("Dropping constituent")
	p.markDirty()
}

func (p *Primary) reapLocal() {
	for _, info := range p.host.reap() {
		if err := p.removeWorker(p.self, info); err != nil {
			p.Entry().WithField("workerID", info.ID).WithError(err).Warn("Couldn't remove local worker")
		}
	}
}

// removeWorker forgets a finished worker and applies the exit policy for
// how it ended.
func (p *Primary) removeWorker(from domain.Endpoint, info domain.WorkerInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.constituents[from]
	if !ok {
		return protocolError("%s is not a constituent", from)
	}
	if !c.Workers[info.ID] {
		return protocolError("worker %s does not run on %s", info.ID, from)
	}
	delete(c.Workers, info.ID)

	policy := p.attrs.ExitPolicyFor(info.Status)
	p.Entry().WithFields(log.Fields{
		"workerID":    info.ID,
		"constituent": from,
		"status":      info.Status,
		"exitCode":    info.ExitCode,
		"policy":      policy,
	}).Info("Worker removed")
	switch policy {
	case domain.CloseWorld:
		p.phase.advance(domain.Running, domain.Closed)
	case domain.CancelJob:
		if p.phase.get() < domain.Completed {
			p.phase.set(domain.Cancelled)
		}
	case domain.JobError:
		p.phase.set(domain.Error)
	}
	p.markDirty()
	return nil
}

// grant admits one more worker on from, if the job still grows and is below
// its target.
func (p *Primary) grant(from domain.Endpoint, workerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.constituents[from]
	if ok && c.Workers[workerID] {
		return true
	}
	phase := p.phase.get()
	if !ok || !p.attrs.Malleable || !phase.Growing() || p.constituents.nrOfWorkers() >= p.attrs.NrOfWorkers {
		p.stat.Counter(stats.GridWorkersDeniedCounter).Inc(1)
		return false
	}
	c.Workers[workerID] = true
	p.stat.Counter(stats.GridWorkersGrantedCounter).Inc(1)
	if phase == domain.Scheduling {
		p.phase.advance(domain.Scheduling, domain.Running)
	}
	if p.constituents.nrOfWorkers() >= p.attrs.NrOfWorkers && !p.attrs.Regrow {
		p.phase.advance(domain.Running, domain.Closed)
	}
	p.markDirty()
	return true
}

// growLocal starts as many local workers as the ledger and the Primary's
// own grants allow.
func (p *Primary) growLocal() {
	if !p.Attributes().Malleable {
		return
	}
	for p.phase.get().Growing() && p.host.capacity() > 0 {
		id := domain.NewWorkerID()
		if !p.host.reserve(id) {
			return
		}
		if !p.grant(p.self, id) {
			p.host.release(id)
			return
		}
		p.host.start(id)
	}
}

// advertise recruits more constituents while the job is below target. The
// interval between rounds doubles up to AdvertMaxInterval.
func (p *Primary) advertise(now time.Time) {
	p.mu.Lock()
	below := p.constituents.nrOfWorkers() < p.attrs.NrOfWorkers
	metric := p.attrs.AdvertMetric
	p.mu.Unlock()
	if !below || !p.phase.get().Growing() || now.Before(p.nextAdvert) {
		return
	}
	p.nextAdvert = now.Add(p.advertBackoff.NextBackOff())
	p.advertSeq++
	advert := domain.Advert{
		JobID:           p.id,
		Seq:             p.advertSeq,
		Metric:          metric,
		Radius:          p.radius,
		Callback:        p.self,
		WorkerResources: p.static.WorkerResources,
	}
	p.stat.Counter(stats.GridAdvertsSentCounter).Inc(1)
	p.async.RunAsync(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), p.env.Config.CallTimeout)
			defer cancel()
			return p.env.Transport.Advertise(ctx, advert)
		},
		func(err error) {
			if err != nil {
				p.Entry().WithError(err).Warn("Advertising failed")
			}
		})
}

// pushState sends the current state to every other constituent if it
// changed. A constituent that cannot be reached is dropped.
func (p *Primary) pushState() {
	if !p.dirty.Swap(false) {
		return
	}
	p.mu.Lock()
	state := p.stateLocked()
	var targets []domain.Endpoint
	for _, ep := range p.constituents.endpoints() {
		if ep != p.self {
			targets = append(targets, ep)
		}
	}
	p.mu.Unlock()

	req, err := transport.NewRequest(p.id, domain.ReplicaRole, domain.OpStateUpdate, p.self, state)
	if err != nil {
		p.Entry().WithError(err).Error("Couldn't encode state")
		return
	}
	for _, to := range targets {
		to := to
		p.stat.Counter(stats.GridStateUpdatesCounter).Inc(1)
		p.async.RunAsync(
			func() error {
				ctx, cancel := context.WithTimeout(context.Background(), p.env.Config.CallTimeout)
				defer cancel()
				return p.env.Transport.Send(ctx, to, req)
			},
			func(err error) {
				if unreachable(err) {
					p.drop(to, "unreachable")
				}
			})
	}
}

// enforce applies the deadline and moves a closed job on to COMPLETED once
// everyone left. Returns false when the loop should exit.
func (p *Primary) enforce(now time.Time) bool {
	p.mu.Lock()
	deadline := p.deadline
	p.mu.Unlock()
	if phase := p.phase.get(); !phase.Terminal() && !now.Before(deadline) {
		p.Entry().WithField("deadline", deadline).Info("Deadline passed, cancelling job")
		p.phase.set(domain.Cancelled)
		p.markDirty()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	phase := p.phase.get()
	if _, ok := p.constituents[p.self]; !ok && !phase.Terminal() {
		p.Entry().Error("Lost own constituent entry, moving job to ERROR")
		p.phase.set(domain.Error)
		p.constituents[p.self] = newConstituent(p.self, 0, now.Add(p.env.Config.ConstituentExpiry))
		phase = p.phase.get()
		p.markDirty()
	}

	if phase == domain.Closed && len(p.constituents) == 1 && p.host.count() == 0 {
		p.phase.advance(domain.Closed, domain.PostStage)
		p.phase.advance(domain.PostStage, domain.Completed)
		phase = p.phase.get()
		p.markDirty()
	}

	if !phase.Terminal() {
		return true
	}
	p.host.stopAll()
	if self, ok := p.constituents[p.self]; ok && p.host.count() == 0 {
		if len(self.Workers) > 0 {
			p.Entry().WithField("workers", self.workerIDs()).Warn("Local workers never reported")
		}
		delete(p.constituents, p.self)
	}
	return len(p.constituents) > 0
}

func (p *Primary) updateGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stat.Gauge(stats.GridConstituentsGauge).Update(int64(len(p.constituents)))
	p.stat.Gauge(stats.GridWorkersGauge).Update(int64(p.constituents.nrOfWorkers()))
}

func (p *Primary) finish() {
	p.finishOnce.Do(func() {
		p.async.Drain()
		p.host.close()
		started, stopped := p.phase.times()
		entry := p.Entry().WithField("phase", p.phase.get())
		if started != nil && stopped != nil {
			entry = entry.WithField("ran", stopped.Sub(*started))
		}
		entry.Info("Job finished")
		close(p.done)
	})
}

func writeAll(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
