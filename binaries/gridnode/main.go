package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/client"
	"github.com/scootdev/grid/common/dialer"
	"github.com/scootdev/grid/common/log/hooks"
)

// CLI binary of a grid node
//	Supported commands: (see "-h" for all options)
//		serve
//		run [flags] -- executable [args...]
//		status [job id]
//	Global flags:
//		--config [JSON text or file name]
//		--log_level [<error|info|debug> level and above should be logged]
//	Peers not named in the config are read from $GRID_PEERS (comma separated).

func main() {
	log.AddHook(hooks.NewContextHook())

	cl, err := client.NewSimpleCLIClient(dialer.NewEnvResolver("GRID_PEERS"))
	if err != nil {
		log.Fatal("Failed to create gridnode CLI: ", err)
	}

	if err := cl.Exec(); err != nil {
		log.Fatal("Error running gridnode: ", err)
	}
}
