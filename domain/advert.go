package domain

import (
	"fmt"
	"math"

	"github.com/scootdev/grid/resources"
)

// Endpoint is the transport address of a node.
type Endpoint string

// Role says which side of a job an invocation is addressed to.
type Role int

const (
	PrimaryRole Role = iota
	ReplicaRole
)

func (r Role) String() string {
	if r == ReplicaRole {
		return "replica"
	}
	return "primary"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "primary":
		*r = PrimaryRole
	case "replica":
		*r = ReplicaRole
	default:
		return fmt.Errorf("unknown role %q", string(b))
	}
	return nil
}

// Advert recruits nodes for a job. Seq increases with every advertisement
// round of the same job so receivers can tell a new round from a duplicate.
type Advert struct {
	JobID           string              `json:"jobID"`
	Seq             int64               `json:"seq"`
	Metric          AdvertMetric        `json:"metric"`
	Radius          int                 `json:"radius"`
	Callback        Endpoint            `json:"callback"`
	WorkerResources resources.Resources `json:"workerResources"`
}

func (a Advert) String() string {
	return fmt.Sprintf("advert{job:%s, seq:%d, %s radius:%d, from:%s}", a.JobID, a.Seq, a.Metric, a.Radius, a.Callback)
}

// Forwarded is the advert a receiver passes on to its peers, or false if the
// advert has run out of reach.
func (a Advert) Forwarded() (Advert, bool) {
	if a.Radius <= 1 {
		return a, false
	}
	a.Radius--
	return a, true
}

// AdvertRadius is round(log10(target)) clamped to [1, max].
func AdvertRadius(target, max int) int {
	if max < 1 {
		max = 1
	}
	if target < 1 {
		return 1
	}
	r := int(math.Round(math.Log10(float64(target))))
	if r < 1 {
		return 1
	}
	if r > max {
		return max
	}
	return r
}
