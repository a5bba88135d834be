// Package nodeconfig reads a grid node's JSON configuration.
//
// A configuration is given either as literal JSON text or as the name of a
// file holding it. Every field is optional, missing fields keep their
// defaults. Durations are strings in time.ParseDuration form, e.g. "250ms".
//
//	{
//	  "Listen": ":9090",
//	  "Peers": ["host2:9090", "host3:9090"],
//	  "Resources": {"Cores": 8, "MemoryMB": 16384},
//	  "Timing": {"TickRate": "250ms", "ConstituentExpiry": "1m"}
//	}
package nodeconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/job"
	"github.com/scootdev/grid/node"
	"github.com/scootdev/grid/resources"
)

// Duration is a time.Duration read from and written as a string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %s", b)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Resources struct {
	Cores    int
	MemoryMB int64
	DiskMB   int64
}

type Timing struct {
	TickRate             Duration
	ConstituentExpiry    Duration
	AdvertMinInterval    Duration
	AdvertMaxInterval    Duration
	ClaimRetryMin        Duration
	ClaimRetryMax        Duration
	StateRefreshInterval Duration
	WorkerPollInterval   Duration
	CallTimeout          Duration
}

type Adverts struct {
	MaxRadius int
	Rate      float64
	Burst     int
}

// Config is one node's configuration.
// Endpoint - how peers reach this node, empty means the listen address.
// Peers - the nodes adverts are sent to.
// HTTPAddr - admin server address, empty disables it.
// ScratchDir - where jobs keep their files, empty means the system temp dir.
// AcceptJobs - if false the node only runs the jobs submitted to it.
// MaxConns - cap on concurrent inbound connections, 0 for none.
type Config struct {
	Endpoint   string
	Listen     string
	Peers      []string
	MaxConns   int
	HTTPAddr   string
	ScratchDir string
	Resources  Resources
	AcceptJobs bool
	Adverts    Adverts
	Timing     Timing
	LogLevel   string
}

// Default is the configuration of a node that offers all of the machine's
// cores and nothing else.
func Default() Config {
	jc := job.DefaultConfig()
	nc := node.DefaultConfig()
	return Config{
		Listen:     common.DefaultGridAddr,
		HTTPAddr:   common.DefaultAdminAddr,
		Resources:  Resources{Cores: runtime.NumCPU()},
		AcceptJobs: true,
		Adverts: Adverts{
			MaxRadius: jc.MaxAdvertRadius,
			Rate:      nc.AdvertRate,
			Burst:     nc.AdvertBurst,
		},
		Timing: Timing{
			TickRate:             Duration(jc.TickRate),
			ConstituentExpiry:    Duration(jc.ConstituentExpiry),
			AdvertMinInterval:    Duration(jc.AdvertMinInterval),
			AdvertMaxInterval:    Duration(jc.AdvertMaxInterval),
			ClaimRetryMin:        Duration(jc.ClaimRetryMin),
			ClaimRetryMax:        Duration(jc.ClaimRetryMax),
			StateRefreshInterval: Duration(jc.StateRefreshInterval),
			WorkerPollInterval:   Duration(jc.WorkerPollInterval),
			CallTimeout:          Duration(jc.CallTimeout),
		},
		LogLevel: log.InfoLevel.String(),
	}
}

// Parse reads text on top of the defaults and validates the result.
func Parse(text []byte) (Config, error) {
	c := Default()
	if len(bytes.TrimSpace(text)) == 0 {
		return c, nil
	}
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, errors.Wrap(err, "couldn't parse node config")
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// GetConfigText returns the contents of the file named by configFlag if it
// names one, otherwise configFlag itself.
func GetConfigText(configFlag string) ([]byte, error) {
	trimmed := strings.TrimSpace(configFlag)
	if trimmed == "" || strings.HasPrefix(trimmed, "{") {
		log.Infof("Using config flag as JSON config: %v", configFlag)
		return []byte(configFlag), nil
	}
	if _, err := os.Stat(trimmed); err != nil {
		return nil, errors.Wrapf(err, "config %q is neither JSON nor a readable file", configFlag)
	}
	log.Infof("Reading config file %v", trimmed)
	return ioutil.ReadFile(trimmed)
}

// Load is GetConfigText followed by Parse.
func Load(configFlag string) (Config, error) {
	text, err := GetConfigText(configFlag)
	if err != nil {
		return Default(), err
	}
	return Parse(text)
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var result error
	invalid := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}
	if c.Listen == "" {
		invalid("Listen must not be empty")
	}
	if c.MaxConns < 0 {
		invalid("MaxConns must not be negative, got %d", c.MaxConns)
	}
	if c.Resources.Cores < 0 || c.Resources.MemoryMB < 0 || c.Resources.DiskMB < 0 {
		invalid("Resources must not be negative: %+v", c.Resources)
	}
	if c.Adverts.MaxRadius < 1 {
		invalid("Adverts.MaxRadius must be at least 1, got %d", c.Adverts.MaxRadius)
	}
	if c.Adverts.Rate < 0 || c.Adverts.Burst < 0 {
		invalid("Adverts.Rate and Adverts.Burst must not be negative")
	}
	for name, d := range map[string]Duration{
		"TickRate":             c.Timing.TickRate,
		"ConstituentExpiry":    c.Timing.ConstituentExpiry,
		"AdvertMinInterval":    c.Timing.AdvertMinInterval,
		"AdvertMaxInterval":    c.Timing.AdvertMaxInterval,
		"ClaimRetryMin":        c.Timing.ClaimRetryMin,
		"ClaimRetryMax":        c.Timing.ClaimRetryMax,
		"StateRefreshInterval": c.Timing.StateRefreshInterval,
		"WorkerPollInterval":   c.Timing.WorkerPollInterval,
		"CallTimeout":          c.Timing.CallTimeout,
	} {
		if d <= 0 {
			invalid("Timing.%s must be positive, got %v", name, time.Duration(d))
		}
	}
	if c.Timing.AdvertMinInterval > c.Timing.AdvertMaxInterval {
		invalid("Timing.AdvertMinInterval is above Timing.AdvertMaxInterval")
	}
	if c.Timing.ClaimRetryMin > c.Timing.ClaimRetryMax {
		invalid("Timing.ClaimRetryMin is above Timing.ClaimRetryMax")
	}
	if c.Timing.StateRefreshInterval >= c.Timing.ConstituentExpiry {
		invalid("Timing.StateRefreshInterval must be below Timing.ConstituentExpiry or replicas expire between refreshes")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		invalid("LogLevel: %v", err)
	}
	return result
}

func (c Config) Capacity() resources.Resources {
	return resources.New(1, c.Resources.Cores, c.Resources.MemoryMB, c.Resources.DiskMB)
}

func (c Config) PeerEndpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(c.Peers))
	for _, p := range c.Peers {
		out = append(out, domain.Endpoint(p))
	}
	return out
}

func (c Config) JobConfig() job.Config {
	return job.Config{
		TickRate:             time.Duration(c.Timing.TickRate),
		ConstituentExpiry:    time.Duration(c.Timing.ConstituentExpiry),
		AdvertMinInterval:    time.Duration(c.Timing.AdvertMinInterval),
		AdvertMaxInterval:    time.Duration(c.Timing.AdvertMaxInterval),
		ClaimRetryMin:        time.Duration(c.Timing.ClaimRetryMin),
		ClaimRetryMax:        time.Duration(c.Timing.ClaimRetryMax),
		StateRefreshInterval: time.Duration(c.Timing.StateRefreshInterval),
		WorkerPollInterval:   time.Duration(c.Timing.WorkerPollInterval),
		CallTimeout:          time.Duration(c.Timing.CallTimeout),
		MaxAdvertRadius:      c.Adverts.MaxRadius,
	}
}

func (c Config) NodeConfig() node.Config {
	nc := node.DefaultConfig()
	nc.AcceptJobs = c.AcceptJobs
	nc.AdvertRate = c.Adverts.Rate
	nc.AdvertBurst = c.Adverts.Burst
	return nc
}

// Level is the parsed LogLevel, Info if it doesn't parse.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
