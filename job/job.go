// Package job runs the two sides of a grid job. The Primary holds the
// authoritative state of a job on the node it was submitted to. Every node
// that answers an advert for the job hosts a Replica, which registers with
// the Primary, mirrors its state and supervises the workers it is allowed
// to run.
package job

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

// ErrProtocol is the cause of every request a job refuses to handle: an
// unknown opcode, constituent or worker, or a request for another job.
var ErrProtocol = errors.New("protocol error")

// Job is what a node needs from either role.
type Job interface {
	ID() string
	Role() domain.Role
	Phase() domain.Phase

	// Cancel stops the job. On a replica it only stops this node's part.
	Cancel()

	// End moves the deadline earlier. Later deadlines are refused.
	End(deadline time.Time) error

	Status() domain.JobStatus
	Invoke(ctx context.Context, req transport.Request) (transport.Reply, error)

	// Done is closed once the job is gone from this node.
	Done() <-chan struct{}
}

func protocolError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

// IsProtocolError reports whether err was caused by ErrProtocol.
func IsProtocolError(err error) bool {
	return err != nil && errors.Cause(err) == ErrProtocol
}
