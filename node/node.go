// Package node hosts the jobs of one grid node. It routes inbound requests
// to the Primary or Replica they address, answers adverts by creating
// replicas, floods adverts on to its peers and owns the node's resource
// ledger.
package node

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/job"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/transport"
)

const (
	DefaultAdvertRate     = 100
	DefaultAdvertBurst    = 200
	DefaultSeenAdverts    = 4096
	DefaultRecentJobs     = 1024
	DefaultForwardTimeout = 5 * time.Second
)

// Config tunes a node's handling of adverts.
// AcceptJobs - if false, the node never answers adverts, it only runs jobs submitted to it.
// AdvertRate, AdvertBurst - adverts per second accepted before dropping.
// SeenAdverts - how many (job, round) pairs are remembered to drop duplicates.
// RecentJobs - how many finished jobs are remembered so late adverts don't bring them back.
type Config struct {
	AcceptJobs     bool
	AdvertRate     float64
	AdvertBurst    int
	SeenAdverts    int
	RecentJobs     int
	ForwardTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AcceptJobs:     true,
		AdvertRate:     DefaultAdvertRate,
		AdvertBurst:    DefaultAdvertBurst,
		SeenAdverts:    DefaultSeenAdverts,
		RecentJobs:     DefaultRecentJobs,
		ForwardTimeout: DefaultForwardTimeout,
	}
}

type jobKey struct {
	role domain.Role
	id   string
}

type advertKey struct {
	jobID string
	seq   int64
}

// Node is one participant of the grid. It implements transport.Handler.
type Node struct {
	self    domain.Endpoint
	env     *job.Env
	cfg     Config
	stat    stats.StatsReceiver
	limiter *rate.Limiter
	seen    *lru.Cache
	recent  *lru.Cache
	started time.Time

	mu     sync.Mutex
	jobs   map[jobKey]job.Job
	closed bool
	wg     sync.WaitGroup
}

// New creates a node around env. The node does not receive anything until
// Serve is called.
func New(env job.Env, cfg Config) (*Node, error) {
	if env.Transport == nil || env.Ledger == nil || env.Execer == nil {
		return nil, errors.New("a node needs a transport, a ledger and an execer")
	}
	if env.Stats == nil {
		env.Stats = stats.NilStatsReceiver()
	}
	if cfg.SeenAdverts <= 0 {
		cfg.SeenAdverts = DefaultSeenAdverts
	}
	if cfg.RecentJobs <= 0 {
		cfg.RecentJobs = DefaultRecentJobs
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = DefaultForwardTimeout
	}
	if cfg.AdvertBurst <= 0 {
		cfg.AdvertBurst = DefaultAdvertBurst
	}
	seen, err := lru.New(cfg.SeenAdverts)
	if err != nil {
		return nil, err
	}
	recent, err := lru.New(cfg.RecentJobs)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.AdvertRate > 0 {
		limit = rate.Limit(cfg.AdvertRate)
	}
	n := &Node{
		self:    env.Transport.Endpoint(),
		env:     &env,
		cfg:     cfg,
		stat:    env.Stats,
		limiter: rate.NewLimiter(limit, cfg.AdvertBurst),
		seen:    seen,
		recent:  recent,
		jobs:    map[jobKey]job.Job{},
	}
	if n.env.Clock != nil {
		n.started = n.env.Clock.Now()
	} else {
		n.started = time.Now()
	}
	return n, nil
}

func (n *Node) Endpoint() domain.Endpoint {
	return n.self
}

// Serve starts taking requests and adverts from the transport.
func (n *Node) Serve() error {
	log.WithField("node", n.self).Info("Node serving")
	return n.env.Transport.Serve(n)
}

// Submit makes this node the Primary of a new job.
func (n *Node) Submit(desc domain.Description, attrs map[string]string, stager staging.Stager) (*job.Primary, error) {
	if n.isClosed() {
		return nil, errors.New("node is closed")
	}
	p, err := job.Submit(n.env, desc, attrs, stager)
	if err != nil {
		n.stat.Counter(stats.GridJobsRejectedCounter).Inc(1)
		return nil, err
	}
	n.stat.Counter(stats.GridJobsSubmittedCounter).Inc(1)
	n.host(p)
	return p, nil
}

// Invoke routes req to the job it addresses.
func (n *Node) Invoke(ctx context.Context, req transport.Request) (transport.Reply, error) {
	n.stat.Counter(stats.GridInvocationsCounter).Inc(1)
	j, ok := n.Job(req.Role, req.JobID)
	if !ok {
		n.stat.Counter(stats.GridProtocolErrorsCounter).Inc(1)
		return transport.Reply{}, errors.Wrapf(job.ErrProtocol, "no %s of job %s on %s", req.Role, req.JobID, n.self)
	}
	return j.Invoke(ctx, req)
}

// HandleAdvert answers an advert by joining the job if this node can run
// at least one of its workers, and passes it on while it has reach left.
func (n *Node) HandleAdvert(ctx context.Context, from domain.Endpoint, advert domain.Advert) {
	n.stat.Counter(stats.GridAdvertsReceivedCounter).Inc(1)
	entry := log.WithFields(log.Fields{
		"node":   n.self,
		"jobID":  advert.JobID,
		"from":   from,
		"advert": advert.String(),
	})
	if !n.limiter.Allow() {
		n.stat.Counter(stats.GridAdvertsDroppedCounter).Inc(1)
		entry.Debug("Advert rate exceeded, dropping")
		return
	}
	if seen, _ := n.seen.ContainsOrAdd(advertKey{advert.JobID, advert.Seq}, true); seen {
		n.stat.Counter(stats.GridAdvertsDroppedCounter).Inc(1)
		return
	}
	n.forward(advert)

	switch {
	case n.isClosed() || !n.cfg.AcceptJobs || advert.Callback == n.self:
		return
	case n.hosts(advert.JobID) || n.recent.Contains(advert.JobID):
		return
	case n.env.Ledger.NrOfResourceSetsAvailable(advert.WorkerResources) < 1:
		entry.Debug("No room for a worker, ignoring advert")
		return
	}

	r := job.NewReplica(n.env, advert)
	if !n.hostIfAbsent(r) {
		return
	}
	n.stat.Counter(stats.GridAdvertsAnsweredCounter).Inc(1)
	entry.Info("Answering advert")
	go r.Run()
}

func (n *Node) forward(advert domain.Advert) {
	next, ok := advert.Forwarded()
	if !ok {
		return
	}
	n.stat.Counter(stats.GridAdvertsForwardedCounter).Inc(1)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ForwardTimeout)
		defer cancel()
		if err := n.env.Transport.Advertise(ctx, next); err != nil {
			log.WithFields(log.Fields{
				"node":  n.self,
				"jobID": next.JobID,
				"err":   err,
			}).Debug("Forwarding advert failed")
		}
	}()
}

// Job returns the job with the given role and ID, if this node hosts it.
func (n *Node) Job(role domain.Role, id string) (job.Job, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	j, ok := n.jobs[jobKey{role, id}]
	return j, ok
}

func (n *Node) hosts(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, primary := n.jobs[jobKey{domain.PrimaryRole, id}]
	_, replica := n.jobs[jobKey{domain.ReplicaRole, id}]
	return primary || replica
}

func (n *Node) host(j job.Job) {
	n.hostIfAbsent(j)
}

// hostIfAbsent adds j and removes it again once it is done.
func (n *Node) hostIfAbsent(j job.Job) bool {
	key := jobKey{j.Role(), j.ID()}
	n.mu.Lock()
	if _, ok := n.jobs[key]; ok || n.closed {
		n.mu.Unlock()
		return false
	}
	n.jobs[key] = j
	n.mu.Unlock()
	n.updateGauges()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		<-j.Done()
		n.recent.Add(key.id, true)
		n.mu.Lock()
		if n.jobs[key] == j {
			delete(n.jobs, key)
		}
		n.mu.Unlock()
		n.updateGauges()
		log.WithFields(log.Fields{
			"node":  n.self,
			"jobID": key.id,
			"role":  key.role,
			"phase": j.Phase(),
		}).Info("Job left node")
	}()
	return true
}

// Statuses reports every hosted job, ordered by job ID then role.
func (n *Node) Statuses() []domain.JobStatus {
	n.mu.Lock()
	jobs := make([]job.Job, 0, len(n.jobs))
	for _, j := range n.jobs {
		jobs = append(jobs, j)
	}
	n.mu.Unlock()
	n.updateGauges()

	out := make([]domain.JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Status())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].JobID != out[k].JobID {
			return out[i].JobID < out[k].JobID
		}
		return out[i].Role < out[k].Role
	})
	return out
}

func (n *Node) updateGauges() {
	n.mu.Lock()
	hosted := len(n.jobs)
	n.mu.Unlock()
	n.stat.Gauge(stats.GridHostedJobsGauge).Update(int64(hosted))
	n.stat.Gauge(stats.GridFreeCoresGauge).Update(int64(n.env.Ledger.Free().Cores))
	now := time.Now()
	if n.env.Clock != nil {
		now = n.env.Clock.Now()
	}
	n.stat.Gauge(stats.GridNodeUptime_ms).Update(int64(now.Sub(n.started) / time.Millisecond))
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close cancels every hosted job, waits up to timeout for them to leave and
// shuts the transport down.
func (n *Node) Close(timeout time.Duration) error {
	n.mu.Lock()
	n.closed = true
	jobs := make([]job.Job, 0, len(n.jobs))
	for _, j := range n.jobs {
		jobs = append(jobs, j)
	}
	n.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("%d jobs still on %s after %v", len(n.Statuses()), n.self, timeout)
	}
	if cerr := n.env.Transport.Close(); cerr != nil && err == nil {
		err = cerr
	}
	log.WithField("node", n.self).Info("Node closed")
	return err
}
