package domain

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/scootdev/grid/resources"
)

// Recognized job attribute keys. Any other key is rejected.
const (
	NrOfWorkersKey      = "nr.of.workers"
	WorkerMemoryKey     = "worker.memory"
	WorkerDiskspaceKey  = "worker.diskspace"
	WorkerProcessorsKey = "worker.processors"
	MalleableKey        = "malleable"
	OnUserExitKey       = "on.user.exit"
	OnUserErrorKey      = "on.user.error"
	LifetimeKey         = "lifetime"
	WalltimeMaxKey      = "walltime.max"
	ClaimNodeKey        = "claim.node"
	RegrowKey           = "regrow"
	AdvertMetricKey     = "advert.metric"
)

const (
	DefaultLifetime = 60 * time.Minute
	MaxLifetime     = 7 * 24 * time.Hour
	MaxNrOfWorkers  = 1000000
)

// ErrInvalidAttribute is the cause of every attribute validation failure.
var ErrInvalidAttribute = errors.New("invalid job attribute")

// ExitPolicy says what a worker's exit does to the job's phase.
type ExitPolicy int

const (
	Ignore ExitPolicy = iota
	CloseWorld
	CancelJob
	JobError
)

var exitPolicyNames = map[ExitPolicy]string{
	Ignore:     "ignore",
	CloseWorld: "close.world",
	CancelJob:  "cancel.job",
	JobError:   "job.error",
}

func (p ExitPolicy) String() string {
	if n, ok := exitPolicyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func ParseExitPolicy(s string) (ExitPolicy, error) {
	for p, n := range exitPolicyNames {
		if n == s {
			return p, nil
		}
	}
	return Ignore, fmt.Errorf("%q is not one of ignore, close.world, cancel.job, job.error", s)
}

func (p ExitPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ExitPolicy) UnmarshalText(b []byte) error {
	v, err := ParseExitPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// AdvertMetric selects how an advert's reach is measured.
type AdvertMetric int

const (
	MetricCount AdvertMetric = iota
	MetricLatency
)

func (m AdvertMetric) String() string {
	if m == MetricLatency {
		return "latency"
	}
	return "count"
}

func (m AdvertMetric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *AdvertMetric) UnmarshalText(b []byte) error {
	switch string(b) {
	case "count":
		*m = MetricCount
	case "latency":
		*m = MetricLatency
	default:
		return fmt.Errorf("%q is not one of count, latency", string(b))
	}
	return nil
}

// Attributes is the typed, validated job configuration.
// Only NrOfWorkers may change once a job is submitted, and only while Malleable.
type Attributes struct {
	NrOfWorkers      int           `json:"nrOfWorkers"`
	WorkerMemoryMB   int64         `json:"workerMemoryMB"`
	WorkerDiskMB     int64         `json:"workerDiskMB"`
	WorkerProcessors int           `json:"workerProcessors"`
	Malleable        bool          `json:"malleable"`
	OnUserExit       ExitPolicy    `json:"onUserExit"`
	OnUserError      ExitPolicy    `json:"onUserError"`
	Lifetime         time.Duration `json:"lifetime"`
	ClaimNode        bool          `json:"claimNode"`
	Regrow           bool          `json:"regrow"`
	AdvertMetric     AdvertMetric  `json:"advertMetric"`
}

// DefaultAttributes returns the defaults for a job of the given kind.
// Managed-runtime jobs are malleable by default, native ones are not.
func DefaultAttributes(kind JobKind) Attributes {
	return Attributes{
		NrOfWorkers:      1,
		WorkerProcessors: 1,
		Malleable:        kind == JavaJob,
		OnUserExit:       CloseWorld,
		OnUserError:      CancelJob,
		Lifetime:         DefaultLifetime,
		Regrow:           true,
		AdvertMetric:     MetricCount,
	}
}

// ParseAttributes validates m on top of the defaults for kind.
func ParseAttributes(kind JobKind, m map[string]string) (Attributes, error) {
	return DefaultAttributes(kind).With(m)
}

// With returns a copy of a with every key in m applied. All problems are
// reported together.
func (a Attributes) With(m map[string]string) (Attributes, error) {
	var result error
	invalid := func(key, value, format string, args ...interface{}) {
		result = multierror.Append(result,
			errors.Wrapf(ErrInvalidAttribute, "%s=%q: %s", key, value, fmt.Sprintf(format, args...)))
	}
	lifetimeSet := false
	for _, key := range sortedKeys(m) {
		value := m[key]
		switch key {
		case NrOfWorkersKey:
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > MaxNrOfWorkers {
				invalid(key, value, "must be an integer in [1, %d]", MaxNrOfWorkers)
				continue
			}
			a.NrOfWorkers = n
		case WorkerMemoryKey, WorkerDiskspaceKey:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				invalid(key, value, "must be a non-negative number of megabytes")
				continue
			}
			if key == WorkerMemoryKey {
				a.WorkerMemoryMB = n
			} else {
				a.WorkerDiskMB = n
			}
		case WorkerProcessorsKey:
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				invalid(key, value, "must be a positive integer")
				continue
			}
			a.WorkerProcessors = n
		case MalleableKey, ClaimNodeKey, RegrowKey:
			b, err := strconv.ParseBool(value)
			if err != nil {
				invalid(key, value, "must be a boolean")
				continue
			}
			switch key {
			case MalleableKey:
				a.Malleable = b
			case ClaimNodeKey:
				a.ClaimNode = b
			default:
				a.Regrow = b
			}
		case OnUserExitKey, OnUserErrorKey:
			p, err := ParseExitPolicy(value)
			if err != nil {
				invalid(key, value, "%v", err)
				continue
			}
			if key == OnUserExitKey {
				a.OnUserExit = p
			} else {
				a.OnUserError = p
			}
		case LifetimeKey, WalltimeMaxKey:
			minutes, err := strconv.ParseInt(value, 10, 64)
			if err != nil || minutes < 1 {
				invalid(key, value, "must be a positive number of minutes")
				continue
			}
			if minutes > int64(MaxLifetime/time.Minute) {
				invalid(key, value, "exceeds the maximum of %v", MaxLifetime)
				continue
			}
			d := time.Duration(minutes) * time.Minute
			if d > MaxLifetime {
				invalid(key, value, "exceeds the maximum of %v", MaxLifetime)
				continue
			}
			// Both keys bound the same wall time, the tighter one wins.
			if !lifetimeSet || d < a.Lifetime {
				a.Lifetime = d
			}
			lifetimeSet = true
		case AdvertMetricKey:
			var metric AdvertMetric
			if err := metric.UnmarshalText([]byte(value)); err != nil {
				invalid(key, value, "%v", err)
				continue
			}
			a.AdvertMetric = metric
		default:
			invalid(key, value, "unknown attribute")
		}
	}
	if result != nil {
		return a, result
	}
	return a, nil
}

// Map renders a back into its string form.
func (a Attributes) Map() map[string]string {
	return map[string]string{
		NrOfWorkersKey:      strconv.Itoa(a.NrOfWorkers),
		WorkerMemoryKey:     strconv.FormatInt(a.WorkerMemoryMB, 10),
		WorkerDiskspaceKey:  strconv.FormatInt(a.WorkerDiskMB, 10),
		WorkerProcessorsKey: strconv.Itoa(a.WorkerProcessors),
		MalleableKey:        strconv.FormatBool(a.Malleable),
		OnUserExitKey:       a.OnUserExit.String(),
		OnUserErrorKey:      a.OnUserError.String(),
		LifetimeKey:         strconv.FormatInt(int64(a.Lifetime/time.Minute), 10),
		ClaimNodeKey:        strconv.FormatBool(a.ClaimNode),
		RegrowKey:           strconv.FormatBool(a.Regrow),
		AdvertMetricKey:     a.AdvertMetric.String(),
	}
}

// WorkerResources is the resource shape one worker of this job commits.
func (a Attributes) WorkerResources() resources.Resources {
	nodes := 0
	if a.ClaimNode {
		nodes = 1
	}
	return resources.New(nodes, a.WorkerProcessors, a.WorkerMemoryMB, a.WorkerDiskMB)
}

// ExitPolicyFor returns the policy that applies to a worker that ended with status.
func (a Attributes) ExitPolicyFor(status WorkerStatus) ExitPolicy {
	if status == WorkerDone {
		return a.OnUserExit
	}
	return a.OnUserError
}

// IsInvalidAttribute reports whether err, or any error aggregated in it, was
// caused by attribute validation.
func IsInvalidAttribute(err error) bool {
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			if IsInvalidAttribute(e) {
				return true
			}
		}
		return false
	}
	return err != nil && errors.Cause(err) == ErrInvalidAttribute
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
