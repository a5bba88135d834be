package execers

import (
	"github.com/scootdev/grid/runner/execer"
)

// ErrExecer fails every Exec with Err.
type ErrExecer struct {
	Err error
}

func (e *ErrExecer) Exec(command execer.Command) (execer.Process, error) {
	return nil, e.Err
}
