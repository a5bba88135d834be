// Package resources provides the resource vector used for admission control
// and a per-node ledger of the resources each job has committed.
package resources

import (
	"fmt"
)

// Resources is an immutable vector of node slots, cores, memory and diskspace.
// Memory and diskspace are in megabytes.
type Resources struct {
	Nodes    int   `json:"nodes"`
	Cores    int   `json:"cores"`
	MemoryMB int64 `json:"memoryMB"`
	DiskMB   int64 `json:"diskMB"`
}

func New(nodes, cores int, memoryMB, diskMB int64) Resources {
	return Resources{Nodes: nodes, Cores: cores, MemoryMB: memoryMB, DiskMB: diskMB}
}

// Zero returns a vector with every field set to 0.
func Zero() Resources {
	return Resources{}
}

func (r Resources) Add(o Resources) Resources {
	return Resources{
		Nodes:    r.Nodes + o.Nodes,
		Cores:    r.Cores + o.Cores,
		MemoryMB: r.MemoryMB + o.MemoryMB,
		DiskMB:   r.DiskMB + o.DiskMB,
	}
}

func (r Resources) Subtract(o Resources) Resources {
	return Resources{
		Nodes:    r.Nodes - o.Nodes,
		Cores:    r.Cores - o.Cores,
		MemoryMB: r.MemoryMB - o.MemoryMB,
		DiskMB:   r.DiskMB - o.DiskMB,
	}
}

// Mult multiplies every field by n.
func (r Resources) Mult(n int) Resources {
	return Resources{
		Nodes:    r.Nodes * n,
		Cores:    r.Cores * n,
		MemoryMB: r.MemoryMB * int64(n),
		DiskMB:   r.DiskMB * int64(n),
	}
}

// IsZero is true iff all fields are 0.
func (r Resources) IsZero() bool {
	return r.Nodes == 0 && r.Cores == 0 && r.MemoryMB == 0 && r.DiskMB == 0
}

// Negative is true iff any field is below 0.
func (r Resources) Negative() bool {
	return r.Nodes < 0 || r.Cores < 0 || r.MemoryMB < 0 || r.DiskMB < 0
}

// WouldGoNegative reports whether subtracting o from r leaves any field below 0.
func (r Resources) WouldGoNegative(o Resources) bool {
	return r.Subtract(o).Negative()
}

// Fits returns how many whole copies of request fit into r, bounded by every
// non-zero field of request. A zero request fits 0 times.
func (r Resources) Fits(request Resources) int {
	if request.IsZero() || request.Negative() || r.Negative() {
		return 0
	}
	n := -1
	bound := func(avail, req int64) {
		if req == 0 {
			return
		}
		if c := int(avail / req); n < 0 || c < n {
			n = c
		}
	}
	bound(int64(r.Nodes), int64(request.Nodes))
	bound(int64(r.Cores), int64(request.Cores))
	bound(r.MemoryMB, request.MemoryMB)
	bound(r.DiskMB, request.DiskMB)
	if n < 0 {
		return 0
	}
	return n
}

func (r Resources) String() string {
	return fmt.Sprintf("{nodes:%d, cores:%d, memory:%dMB, disk:%dMB}", r.Nodes, r.Cores, r.MemoryMB, r.DiskMB)
}
