package job

import (
	"sort"
	"sync"
	"time"

	"github.com/scootdev/grid/common/log/tags"
	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/resources"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/worker"
)

// workerHost owns the workers one job runs on this node, and their claims
// on the node's ledger. Reserved workers hold a claim but are not started.
type workerHost struct {
	env     *Env
	tags    tags.LogTags
	stat    stats.StatsReceiver
	desc    domain.Description
	stager  staging.Stager
	res     resources.Resources
	scratch *temp.TempDir
	wake    func()

	mu       sync.Mutex
	workers  map[string]*worker.Worker
	reserved map[string]bool
	finished []domain.WorkerInfo
	deadline time.Time
	closed   bool
}

func newWorkerHost(env *Env, t tags.LogTags, stat stats.StatsReceiver, static domain.StaticState,
	stager staging.Stager, deadline time.Time, wake func()) (*workerHost, error) {
	var scratch *temp.TempDir
	var err error
	if env.Scratch != nil {
		scratch, err = env.Scratch.TempDir("job-" + static.JobID + "-")
	} else {
		scratch, err = temp.TempDirDefault()
	}
	if err != nil {
		return nil, err
	}
	return &workerHost{
		env:      env,
		tags:     t,
		stat:     stat,
		desc:     static.Description,
		stager:   stager,
		res:      static.WorkerResources,
		scratch:  scratch,
		wake:     wake,
		workers:  map[string]*worker.Worker{},
		reserved: map[string]bool{},
		deadline: deadline,
	}, nil
}

// capacity is how many more workers the node's ledger would admit.
func (h *workerHost) capacity() int {
	return h.env.Ledger.NrOfResourceSetsAvailable(h.res)
}

// reserve claims resources for one worker without starting it.
func (h *workerHost) reserve(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.env.Ledger.Claim(h.tags.JobID, h.res) {
		return false
	}
	h.workers[id] = worker.New(worker.Config{
		ID:           id,
		JobID:        h.tags.JobID,
		Node:         h.tags.Node,
		Description:  h.desc,
		Stager:       h.stager,
		Execer:       h.env.Execer,
		Scratch:      h.scratch,
		Deadline:     h.deadline,
		PollInterval: h.env.Config.WorkerPollInterval,
		Clock:        h.env.Clock,
		Stats:        h.stat,
		OnFinish:     h.workerFinished,
	})
	h.reserved[id] = true
	return true
}

// reserveN reserves up to n workers and returns the IDs it got.
func (h *workerHost) reserveN(n int) []string {
	var ids []string
	for i := 0; i < n; i++ {
		id := domain.NewWorkerID()
		if !h.reserve(id) {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func (h *workerHost) start(id string) bool {
	h.mu.Lock()
	w, ok := h.workers[id]
	if !ok || !h.reserved[id] {
		h.mu.Unlock()
		return false
	}
	delete(h.reserved, id)
	h.mu.Unlock()
	w.Start()
	return true
}

func (h *workerHost) startReserved() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.reserved))
	for id := range h.reserved {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		h.start(id)
	}
	return ids
}

// release drops one reserved worker and its claim.
func (h *workerHost) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(id)
}

func (h *workerHost) releaseLocked(id string) {
	if !h.reserved[id] {
		return
	}
	delete(h.reserved, id)
	delete(h.workers, id)
	h.env.Ledger.Release(h.tags.JobID, h.res)
}

// destroyReserved drops every reserved worker and returns how many there were.
func (h *workerHost) destroyReserved() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.reserved)
	for id := range h.reserved {
		h.releaseLocked(id)
	}
	return n
}

// signalAll moves the deadline of current and future workers to d if it is earlier.
func (h *workerHost) signalAll(d time.Time) {
	h.mu.Lock()
	if d.Before(h.deadline) {
		h.deadline = d
	}
	var running []*worker.Worker
	for id, w := range h.workers {
		if !h.reserved[id] {
			running = append(running, w)
		}
	}
	h.mu.Unlock()
	for _, w := range running {
		w.Signal(d)
	}
}

// stopAll kills running workers and drops reserved ones.
func (h *workerHost) stopAll() {
	h.destroyReserved()
	h.signalAll(h.env.Clock.Now())
}

func (h *workerHost) workerFinished(w *worker.Worker) {
	h.mu.Lock()
	if h.workers[w.ID()] == w {
		delete(h.workers, w.ID())
		h.env.Ledger.Release(h.tags.JobID, h.res)
	}
	h.finished = append(h.finished, w.Info())
	h.mu.Unlock()
	if h.wake != nil {
		h.wake()
	}
}

// reap returns the workers that finished since the last reap.
func (h *workerHost) reap() []domain.WorkerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.finished
	h.finished = nil
	return out
}

// count is every worker not yet reaped, reserved ones included.
func (h *workerHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers) + len(h.finished)
}

func (h *workerHost) nrReserved() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reserved)
}

func (h *workerHost) infos() []domain.WorkerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.WorkerInfo, 0, len(h.workers))
	for id, w := range h.workers {
		if h.reserved[id] {
			out = append(out, domain.WorkerInfo{ID: id, Status: domain.WorkerInit})
			continue
		}
		out = append(out, w.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// close gives back everything the job still holds on this node.
func (h *workerHost) close() {
	h.mu.Lock()
	h.closed = true
	for id := range h.reserved {
		h.releaseLocked(id)
	}
	h.mu.Unlock()
	h.env.Ledger.ReleaseAll(h.tags.JobID)
	if err := h.scratch.RemoveAll(); err != nil {
		h.tags.Entry().WithError(err).Warn("Couldn't remove job scratch dir")
	}
}
