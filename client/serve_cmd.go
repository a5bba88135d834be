package client

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serveCmd struct {
	shutdownTimeout time.Duration
}

func (c *serveCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "serve",
		Short: "Serve a node until interrupted",
	}
	r.Flags().DurationVar(&c.shutdownTimeout, "shutdown_timeout", 30*time.Second, "how long jobs get to leave on shutdown")
	return r
}

func (c *serveCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	cfg, err := cl.loadConfig()
	if err != nil {
		return err
	}
	d, err := cl.startDaemon(cfg)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.WithField("signal", sig).Info("Shutting down node")
	return d.close(c.shutdownTimeout)
}
