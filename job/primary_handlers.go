package job

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"

	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/transport"
)

// Invoke handles a request from a constituent. Every reply carries the
// job's state as of after the request.
func (p *Primary) Invoke(ctx context.Context, req transport.Request) (transport.Reply, error) {
	payload, err := p.handle(req)
	if err != nil {
		p.stat.Counter(stats.GridProtocolErrorsCounter).Inc(1)
		p.Entry().WithFields(log.Fields{
			"opcode": domain.OpName(req.Role, req.Opcode),
			"from":   req.From,
			"err":    err,
		}).Warn("Refused request")
		return transport.Reply{}, err
	}
	return transport.NewReply(payload, p.state())
}

func (p *Primary) handle(req transport.Request) (interface{}, error) {
	if req.JobID != p.id || req.Role != domain.PrimaryRole {
		return nil, protocolError("%s is not for the primary of %s", req, p.id)
	}
	if req.From == p.self {
		return nil, protocolError("%s from the primary itself", req)
	}
	switch req.Opcode {
	case domain.OpRegister:
		var in domain.RegisterRequest
		if err := transport.Decode(req.Payload, &in); err != nil {
			return nil, protocolError("%s: %v", req, err)
		}
		return p.register(req.From, in), nil

	case domain.OpUpdateMaxNrOfWorkers:
		var in domain.UpdateMaxNrOfWorkersRequest
		if err := transport.Decode(req.Payload, &in); err != nil {
			return nil, protocolError("%s: %v", req, err)
		}
		return nil, p.withConstituent(req.From, func(c *Constituent) {
			c.MaxNrOfWorkers = in.MaxNrOfWorkers
		})

	case domain.OpRequestState:
		return nil, p.withConstituent(req.From, func(*Constituent) {})

	case domain.OpNewWorker:
		var in domain.NewWorkerRequest
		if err := transport.Decode(req.Payload, &in); err != nil || in.WorkerID == "" {
			return nil, protocolError("%s without a worker ID", req)
		}
		if err := p.withConstituent(req.From, func(*Constituent) {}); err != nil {
			return nil, err
		}
		return domain.NewWorkerReply{Granted: p.grant(req.From, in.WorkerID)}, nil

	case domain.OpCreateLogFile:
		var in domain.CreateLogFileRequest
		if err := transport.Decode(req.Payload, &in); err != nil || in.Name == "" {
			return nil, protocolError("%s without a name", req)
		}
		if err := p.withConstituent(req.From, func(*Constituent) {}); err != nil {
			return nil, err
		}
		w, err := p.stager.CreateLogFile(in.Name)
		if err != nil {
			return nil, err
		}
		return nil, writeAll(w, in.Data)

	case domain.OpGetOutputFile:
		var in domain.GetOutputFileRequest
		if err := transport.Decode(req.Payload, &in); err != nil || in.Path == "" {
			return nil, protocolError("%s without a path", req)
		}
		var known bool
		if err := p.withConstituent(req.From, func(c *Constituent) { known = c.Workers[in.WorkerID] }); err != nil {
			return nil, err
		}
		if !known {
			return nil, protocolError("output of worker %s which does not run on %s", in.WorkerID, req.From)
		}
		return nil, staging.WriteOutputFile(p.stager, in.WorkerID, in.Path, bytes.NewReader(in.Data))

	case domain.OpGetInputFile:
		var in domain.GetInputFileRequest
		if err := transport.Decode(req.Payload, &in); err != nil || in.Path == "" {
			return nil, protocolError("%s without a path", req)
		}
		if err := p.withConstituent(req.From, func(*Constituent) {}); err != nil {
			return nil, err
		}
		r, err := p.stager.OpenInput(in.Path)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		data, err := ioutil.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return domain.GetInputFileReply{Data: data}, nil

	case domain.OpRemoveWorker:
		var in domain.RemoveWorkerRequest
		if err := transport.Decode(req.Payload, &in); err != nil {
			return nil, protocolError("%s: %v", req, err)
		}
		if err := p.withConstituent(req.From, func(*Constituent) {}); err != nil {
			return nil, err
		}
		return nil, p.removeWorker(req.From, domain.WorkerInfo{ID: in.WorkerID, Status: in.Status, ExitCode: in.ExitCode})

	case domain.OpUnregister:
		return p.unregister(req.From)
	}
	return nil, protocolError("unknown opcode %d", int(req.Opcode))
}

// withConstituent runs f on from's record and refreshes its expiry.
func (p *Primary) withConstituent(from domain.Endpoint, f func(*Constituent)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.constituents[from]
	if !ok {
		return protocolError("%s is not a constituent", from)
	}
	c.Expiry = p.env.Clock.Now().Add(p.env.Config.ConstituentExpiry)
	f(c)
	return nil
}

func (p *Primary) register(from domain.Endpoint, in domain.RegisterRequest) domain.RegisterReply {
	p.mu.Lock()
	defer p.mu.Unlock()
	if phase := p.phase.get(); phase >= domain.Closed {
		return domain.RegisterReply{Reason: fmt.Sprintf("job is %v", phase)}
	}
	expiry := p.env.Clock.Now().Add(p.env.Config.ConstituentExpiry)
	if c, ok := p.constituents[from]; ok {
		c.MaxNrOfWorkers = in.MaxNrOfWorkers
		c.Expiry = expiry
	} else {
		p.constituents[from] = newConstituent(from, in.MaxNrOfWorkers, expiry)
		p.stat.Counter(stats.GridConstituentsRegisteredCounter).Inc(1)
		p.Entry().WithFields(log.Fields{
			"constituent":    from,
			"maxNrOfWorkers": in.MaxNrOfWorkers,
		}).Info("Constituent registered")
		p.markDirty()
	}
	static := p.static
	return domain.RegisterReply{Accepted: true, Static: &static}
}

// unregister lets a constituent leave once it runs no workers.
func (p *Primary) unregister(from domain.Endpoint) (domain.UnregisterReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.constituents[from]
	if !ok {
		return domain.UnregisterReply{}, protocolError("%s is not a constituent", from)
	}
	if n := len(c.Workers); n > 0 {
		return domain.UnregisterReply{Reason: fmt.Sprintf("%d workers still run on %s", n, from)}, nil
	}
	delete(p.constituents, from)
	p.stat.Counter(stats.GridConstituentsUnregisteredCounter).Inc(1)
	p.Entry().WithField("constituent", from).Info("Constituent unregistered")
	p.markDirty()
	return domain.UnregisterReply{Accepted: true}, nil
}
