package client

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common/dialer"
	"github.com/scootdev/grid/common/endpoints"
	"github.com/scootdev/grid/config/nodeconfig"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/job"
	"github.com/scootdev/grid/node"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/resources"
	"github.com/scootdev/grid/runner/execer"
	"github.com/scootdev/grid/runner/execer/execers"
	osexecer "github.com/scootdev/grid/runner/execer/os"
	"github.com/scootdev/grid/transport/grpcnet"
)

// daemon is one node serving over grpc, with its admin server.
type daemon struct {
	node    *node.Node
	admin   *endpoints.TwitterServer
	scratch *temp.TempDir
}

func (c *simpleCLIClient) loadConfig() (nodeconfig.Config, error) {
	cfg, err := nodeconfig.Load(c.config)
	if err != nil {
		return cfg, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	log.SetLevel(cfg.Level())
	return cfg, nil
}

func (c *simpleCLIClient) resolvePeers(cfg nodeconfig.Config) ([]domain.Endpoint, error) {
	dels := []dialer.Resolver{dialer.NewConstantResolver(strings.Join(cfg.Peers, ","))}
	if c.peers != nil {
		dels = append(dels, c.peers)
	}
	addrs, err := dialer.NewCompositeResolver(dels...).ResolveMany(0)
	if err != nil {
		// A node without peers still runs what is submitted to it.
		log.WithError(err).Warn("No peers resolved, this node will not recruit others")
		return nil, nil
	}
	peers := make([]domain.Endpoint, 0, len(addrs))
	for _, a := range addrs {
		peers = append(peers, domain.Endpoint(a))
	}
	return peers, nil
}

func (c *simpleCLIClient) startDaemon(cfg nodeconfig.Config) (*daemon, error) {
	peers, err := c.resolvePeers(cfg)
	if err != nil {
		return nil, err
	}
	tr, err := grpcnet.New(grpcnet.Config{
		Listen:   cfg.Listen,
		Endpoint: domain.Endpoint(cfg.Endpoint),
		Peers:    peers,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	scratch, err := temp.TempDirIn(cfg.ScratchDir)
	if err != nil {
		tr.Close()
		return nil, err
	}
	stat := endpoints.MakeStatsReceiver("grid").Precision(time.Millisecond)
	n, err := node.New(job.Env{
		Transport: tr,
		Ledger:    resources.NewLedger(cfg.Capacity()),
		Execer:    newExecer(),
		Scratch:   scratch,
		Stats:     stat,
		Config:    cfg.JobConfig(),
	}, cfg.NodeConfig())
	if err != nil {
		tr.Close()
		return nil, err
	}
	if err := n.Serve(); err != nil {
		tr.Close()
		return nil, errors.Wrap(err, "serving node")
	}

	d := &daemon{node: n, scratch: scratch}
	if cfg.HTTPAddr != "" {
		d.admin = endpoints.NewTwitterServer(cfg.HTTPAddr, stat, n.Statuses)
		go func() {
			if err := d.admin.Serve(); err != nil {
				log.WithError(err).Error("Admin server stopped")
			}
		}()
	}
	log.WithFields(log.Fields{
		"node":      n.Endpoint(),
		"peers":     peers,
		"resources": cfg.Capacity(),
		"scratch":   scratch.Dir,
	}).Info("Node started")
	return d, nil
}

// newExecer runs workers as OS processes, except those of sim jobs.
func newExecer() execer.Execer {
	return execers.WithSimJobs(execers.NewSimExecer(), osexecer.NewExecer())
}

func (d *daemon) close(timeout time.Duration) error {
	err := d.node.Close(timeout)
	if rerr := d.scratch.RemoveAll(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
