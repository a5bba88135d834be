package job

import (
	"context"

	"github.com/pkg/errors"

	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

// call makes one request with the configured timeout and decodes the reply
// payload into out, if out is not nil.
func call(env *Env, stat stats.StatsReceiver, to domain.Endpoint, req transport.Request, out interface{}) (transport.Reply, error) {
	defer stat.Latency(stats.GridCallLatency_ms).Time().Stop()
	ctx, cancel := context.WithTimeout(context.Background(), env.Config.CallTimeout)
	defer cancel()
	reply, err := env.Transport.Call(ctx, to, req)
	if err != nil {
		stat.Counter(stats.GridCallFailuresCounter).Inc(1)
		return reply, errors.Wrapf(err, "%s to %s", domain.OpName(req.Role, req.Opcode), to)
	}
	if out != nil {
		if err := transport.Decode(reply.Payload, out); err != nil {
			return reply, errors.Wrapf(err, "decoding %s reply", domain.OpName(req.Role, req.Opcode))
		}
	}
	return reply, nil
}

// unreachable reports whether err means the other side could not be reached,
// as opposed to it refusing the request.
func unreachable(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	return cause == transport.ErrUnreachable || cause == context.DeadlineExceeded
}
