package job

import (
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

// A non-malleable job gets all of its workers at once. Once the capacity
// reported by the constituents covers the target, the Primary reserves
// workers constituent by constituent and either starts all of them or
// releases all of them. A failed cycle is retried after a doubling wait.

type claimTarget struct {
	endpoint domain.Endpoint
	max      int
}

func (p *Primary) claim(now time.Time) {
	if p.phase.get() != domain.Scheduling || now.Before(p.nextClaim) {
		return
	}
	p.mu.Lock()
	if p.attrs.Malleable {
		p.mu.Unlock()
		return
	}
	target := p.attrs.NrOfWorkers
	if self, ok := p.constituents[p.self]; ok {
		self.MaxNrOfWorkers = p.host.capacity()
	}
	var candidates []claimTarget
	total := 0
	for _, c := range p.constituents.sorted() {
		if c.MaxNrOfWorkers > 0 {
			candidates = append(candidates, claimTarget{c.Endpoint, c.MaxNrOfWorkers})
			total += c.MaxNrOfWorkers
		}
	}
	p.mu.Unlock()
	if total < target {
		return
	}

	p.stat.Counter(stats.GridClaimCyclesCounter).Inc(1)
	claimed := map[domain.Endpoint][]string{}
	var order []domain.Endpoint
	remaining := target
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		n := c.max
		if n > remaining {
			n = remaining
		}
		ids, err := p.createWorkers(c.endpoint, n)
		if err != nil {
			p.Entry().WithField("constituent", c.endpoint).WithError(err).Warn("Claim failed")
			p.drop(c.endpoint, "claim failed")
			continue
		}
		if len(ids) < n {
			p.updateMax(c.endpoint, len(ids))
		}
		if len(ids) > 0 {
			claimed[c.endpoint] = ids
			order = append(order, c.endpoint)
		}
		remaining -= len(ids)
	}

	p.Entry().WithFields(log.Fields{
		"target":  target,
		"claimed": spew.Sdump(claimed),
	}).Debug("Claim cycle")

	if remaining <= 0 && p.commit(claimed, order) {
		p.claimBackoff.Reset()
		return
	}
	if err := p.rollback(claimed, order); err != nil {
		p.Entry().WithError(err).Warn("Rollback incomplete")
	}
	p.nextClaim = now.Add(p.claimBackoff.NextBackOff())
}

func (p *Primary) createWorkers(to domain.Endpoint, n int) ([]string, error) {
	if to == p.self {
		return p.host.reserveN(n), nil
	}
	req, err := transport.NewRequest(p.id, domain.ReplicaRole, domain.OpCreateWorkers, p.self, domain.CreateWorkersRequest{N: n})
	if err != nil {
		return nil, err
	}
	var reply domain.CreateWorkersReply
	if _, err := call(p.env, p.stat, to, req, &reply); err != nil {
		return nil, err
	}
	return reply.WorkerIDs, nil
}

func (p *Primary) updateMax(ep domain.Endpoint, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.constituents[ep]; ok {
		c.MaxNrOfWorkers = max
	}
}

// commit attributes the claimed workers and starts them. It fails, without
// starting anything, if a claimed constituent left in the meantime.
func (p *Primary) commit(claimed map[domain.Endpoint][]string, order []domain.Endpoint) bool {
	p.mu.Lock()
	if p.phase.get() != domain.Scheduling {
		p.mu.Unlock()
		return false
	}
	for _, ep := range order {
		if _, ok := p.constituents[ep]; !ok {
			p.mu.Unlock()
			return false
		}
	}
	for _, ep := range order {
		c := p.constituents[ep]
		for _, id := range claimed[ep] {
			c.Workers[id] = true
		}
	}
	p.mu.Unlock()

	for _, ep := range order {
		if ep == p.self {
			p.host.startReserved()
			continue
		}
		if err := p.directive(ep, domain.OpStartWorkers); err != nil {
			p.Entry().WithField("constituent", ep).WithError(err).Warn("Couldn't start claimed workers")
			p.drop(ep, "start failed")
		}
	}
	if !p.phase.advance(domain.Scheduling, domain.Running) {
		p.Entry().WithField("phase", p.phase.get()).Info("Job moved on while starting claimed workers")
	}
	p.phase.advance(domain.Running, domain.Closed)
	p.markDirty()
	p.Entry().WithField("constituents", order).Info("Claim committed")
	return true
}

// rollback releases every reservation of a failed cycle. Constituents that
// cannot be told are dropped; their reservations expire with them.
func (p *Primary) rollback(claimed map[domain.Endpoint][]string, order []domain.Endpoint) error {
	p.stat.Counter(stats.GridClaimRollbacksCounter).Inc(1)
	var result error
	for _, ep := range order {
		if ep == p.self {
			p.host.destroyReserved()
			continue
		}
		if err := p.directive(ep, domain.OpDestroyWorkers); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "releasing %d workers on %s", len(claimed[ep]), ep))
			p.drop(ep, "release failed")
		}
	}
	return result
}

// directive sends a replica an opcode without payload.
func (p *Primary) directive(to domain.Endpoint, op domain.Opcode) error {
	req, err := transport.NewRequest(p.id, domain.ReplicaRole, op, p.self, nil)
	if err != nil {
		return err
	}
	_, err = call(p.env, p.stat, to, req, nil)
	return err
}
