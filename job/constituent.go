package job

import (
	"fmt"
	"sort"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/scootdev/grid/domain"
)

// Constituent is the Primary's record of one node taking part in a job.
type Constituent struct {
	Endpoint domain.Endpoint

	// Workers are the IDs the Primary granted to this node and that have
	// not been reported finished yet.
	Workers map[string]bool

	// MaxNrOfWorkers is how many more workers the node last said it could run.
	MaxNrOfWorkers int
	Expiry         time.Time
}

func newConstituent(e domain.Endpoint, max int, expiry time.Time) *Constituent {
	return &Constituent{Endpoint: e, Workers: map[string]bool{}, MaxNrOfWorkers: max, Expiry: expiry}
}

func (c *Constituent) expired(now time.Time) bool {
	return now.After(c.Expiry)
}

func (c *Constituent) workerIDs() []string {
	ids := make([]string, 0, len(c.Workers))
	for id := range c.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Constituent) String() string {
	return fmt.Sprintf("{endpoint:%s, workers:%s, max:%d, expiry:%v}",
		c.Endpoint, spew.Sprint(c.workerIDs()), c.MaxNrOfWorkers, c.Expiry.Format(time.RFC3339))
}

// constituentSet is keyed by endpoint and iterated in endpoint order, which
// is the stable order claims go in.
type constituentSet map[domain.Endpoint]*Constituent

func (s constituentSet) sorted() []*Constituent {
	out := make([]*Constituent, 0, len(s))
	for _, c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (s constituentSet) endpoints() []domain.Endpoint {
	var out []domain.Endpoint
	for _, c := range s.sorted() {
		out = append(out, c.Endpoint)
	}
	return out
}

func (s constituentSet) nrOfWorkers() int {
	n := 0
	for _, c := range s {
		n += len(c.Workers)
	}
	return n
}
