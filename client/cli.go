// Package client is the gridnode command line: it runs a node as a daemon,
// runs single jobs on a throwaway node and queries a node's status.
package client

import (
	"github.com/spf13/cobra"

	"github.com/scootdev/grid/common/dialer"
)

// CLIClient is the gridnode command line.
type CLIClient interface {
	Exec() error
}

type simpleCLIClient struct {
	rootCmd *cobra.Command

	// peers resolves the peer list when the config names none.
	peers    dialer.Resolver
	config   string
	logLevel string
}

func (c *simpleCLIClient) Exec() error {
	return c.rootCmd.Execute()
}

// NewSimpleCLIClient builds the command tree. peers supplies peer addresses
// for nodes whose config has none.
func NewSimpleCLIClient(peers dialer.Resolver) (CLIClient, error) {
	c := &simpleCLIClient{peers: peers}

	c.rootCmd = &cobra.Command{
		Use:           "gridnode",
		Short:         "gridnode runs and talks to nodes of a job grid",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.rootCmd.PersistentFlags().StringVar(&c.config, "config", "", "node config, as JSON text or a file name")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "", "overrides the config's LogLevel (error|warn|info|debug)")

	c.addCmd(&serveCmd{})
	c.addCmd(&runCmd{})
	c.addCmd(&statusCmd{})

	return c, nil
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error
}
