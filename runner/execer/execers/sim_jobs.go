package execers

import (
	"github.com/scootdev/grid/runner/execer"
)

// SimJobExecutable as a job's executable makes every node run the job's
// workers on its SimExecer, e.g.
//
//	gridnode run --attrs nr.of.workers=3 -- '#sim' 'sleep 500' 'stdout hello' 'complete 0'
//
// Such jobs go through the whole protocol without spawning processes.
const SimJobExecutable = "#sim"

func IsSimJob(cmd execer.Command) bool {
	return len(cmd.Argv) > 0 && cmd.Argv[0] == SimJobExecutable
}

// simJobs sends sim jobs' commands to sim and everything else to real.
type simJobs struct {
	sim  execer.Execer
	real execer.Execer
}

// WithSimJobs returns an Execer that runs sim jobs on sim and every other
// command on real.
func WithSimJobs(sim, real execer.Execer) execer.Execer {
	return &simJobs{sim: sim, real: real}
}

func (e *simJobs) Exec(command execer.Command) (execer.Process, error) {
	if IsSimJob(command) {
		return e.sim.Exec(command)
	}
	return e.real.Exec(command)
}
