package job

import (
	"sync"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common/log/tags"
	"github.com/scootdev/grid/domain"
)

// phaseMachine holds a job's phase and wakes the job's loop on every change.
type phaseMachine struct {
	clk  clock.Clock
	tags tags.LogTags

	mu      sync.Mutex
	phase   domain.Phase
	started time.Time
	stopped time.Time

	wake chan struct{}
}

func newPhaseMachine(clk clock.Clock, t tags.LogTags) *phaseMachine {
	return &phaseMachine{clk: clk, tags: t, wake: make(chan struct{}, 1)}
}

func (m *phaseMachine) get() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// set moves the phase to p. A lower phase is a defect and moves the job to
// Error instead. Terminal phases are absorbing. Returns whether the phase changed.
func (m *phaseMachine) set(p domain.Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case p == m.phase:
		return false
	case p < m.phase:
		m.tags.Entry().WithFields(log.Fields{
			"phase":     m.phase,
			"requested": p,
		}).Error("Phase regression, moving job to ERROR")
		if m.phase == domain.Error {
			return false
		}
		m.to(domain.Error)
		return true
	case m.phase.Terminal():
		return false
	}
	m.to(p)
	return true
}

// advance moves the phase from `from` to `to`, and does nothing if the phase
// is no longer `from`, e.g. after a concurrent Cancel.
func (m *phaseMachine) advance(from, to domain.Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != from || to <= from || m.phase.Terminal() {
		return false
	}
	m.to(to)
	return true
}

// mirror follows a phase reported by the Primary. Stale lower phases are
// dropped since replies can overtake each other.
func (m *phaseMachine) mirror(p domain.Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p <= m.phase || m.phase.Terminal() {
		return false
	}
	m.to(p)
	return true
}

func (m *phaseMachine) to(p domain.Phase) {
	now := m.clk.Now()
	if p >= domain.Running && m.started.IsZero() && p < domain.Cancelled {
		m.started = now
	}
	if p.Terminal() && m.stopped.IsZero() {
		m.stopped = now
	}
	m.tags.Entry().WithFields(log.Fields{
		"from":  m.phase,
		"phase": p,
	}).Info("Phase change")
	m.phase = p
	m.notify()
}

// notify wakes the loop without blocking.
func (m *phaseMachine) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *phaseMachine) times() (started, stopped *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started.IsZero() {
		s := m.started
		started = &s
	}
	if !m.stopped.IsZero() {
		s := m.stopped
		stopped = &s
	}
	return started, stopped
}
