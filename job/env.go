package job

import (
	"time"

	"github.com/juju/clock"

	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/resources"
	"github.com/scootdev/grid/runner/execer"
	"github.com/scootdev/grid/transport"
)

// Config holds the timing of a job's control loop.
// TickRate - the longest the loop sleeps when nothing wakes it.
// ConstituentExpiry - how long a constituent or a replica's Primary may stay silent.
// AdvertMinInterval, AdvertMaxInterval - bounds of the doubling advert timer.
// ClaimRetryMin, ClaimRetryMax - bounds of the doubling wait between failed claims.
// StateRefreshInterval - how often a replica asks for state when nothing else talks.
// DebugMode - if true, jobs do not start their loop; tests advance it by calling step().
type Config struct {
	TickRate             time.Duration
	ConstituentExpiry    time.Duration
	AdvertMinInterval    time.Duration
	AdvertMaxInterval    time.Duration
	ClaimRetryMin        time.Duration
	ClaimRetryMax        time.Duration
	StateRefreshInterval time.Duration
	WorkerPollInterval   time.Duration
	CallTimeout          time.Duration
	MaxAdvertRadius      int
	DebugMode            bool
}

func DefaultConfig() Config {
	return Config{
		TickRate:             500 * time.Millisecond,
		ConstituentExpiry:    2 * time.Minute,
		AdvertMinInterval:    time.Second,
		AdvertMaxInterval:    time.Minute,
		ClaimRetryMin:        time.Second,
		ClaimRetryMax:        30 * time.Second,
		StateRefreshInterval: 10 * time.Second,
		WorkerPollInterval:   250 * time.Millisecond,
		CallTimeout:          10 * time.Second,
		MaxAdvertRadius:      4,
	}
}

// Env is what a node hands every job it hosts.
type Env struct {
	Transport transport.Transport
	Ledger    *resources.Ledger
	Execer    execer.Execer

	// Scratch is the node's scratch root, each job works in its own dir under it.
	Scratch *temp.TempDir
	Clock   clock.Clock

	// Stats is the node's receiver. Jobs keep their own registry for the
	// stats map they replicate.
	Stats  stats.StatsReceiver
	Config Config
}

func (e *Env) withDefaults() *Env {
	env := *e
	if env.Clock == nil {
		env.Clock = clock.WallClock
	}
	if env.Stats == nil {
		env.Stats = stats.NilStatsReceiver()
	}
	if env.Config.MaxAdvertRadius < 1 {
		env.Config.MaxAdvertRadius = DefaultConfig().MaxAdvertRadius
	}
	if env.Config.TickRate <= 0 {
		env.Config.TickRate = DefaultConfig().TickRate
	}
	if env.Config.CallTimeout <= 0 {
		env.Config.CallTimeout = DefaultConfig().CallTimeout
	}
	if env.Config.ConstituentExpiry <= 0 {
		env.Config.ConstituentExpiry = DefaultConfig().ConstituentExpiry
	}
	if env.Config.StateRefreshInterval <= 0 {
		env.Config.StateRefreshInterval = DefaultConfig().StateRefreshInterval
	}
	if env.Config.WorkerPollInterval <= 0 {
		env.Config.WorkerPollInterval = DefaultConfig().WorkerPollInterval
	}
	return &env
}
