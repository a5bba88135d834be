//go:generate mockgen -source=transport.go -package=transport -destination=transport_mock.go

// Package transport is how nodes talk to each other: request/reply calls
// addressed to one role of one job on a node, fire-and-forget pushes, and
// best-effort adverts to a node's peers.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/scootdev/grid/domain"
)

// ErrUnreachable is the cause of every failure to deliver a request.
var ErrUnreachable = errors.New("endpoint unreachable")

type Request struct {
	JobID   string          `json:"jobID"`
	Role    domain.Role     `json:"role"`
	Opcode  domain.Opcode   `json:"opcode"`
	From    domain.Endpoint `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s/%s from %s", domain.OpName(r.Role, r.Opcode), r.Role, r.JobID, r.From)
}

// Reply carries the opcode's payload and, from a Primary, the job's
// current dynamic state.
type Reply struct {
	Payload json.RawMessage      `json:"payload,omitempty"`
	State   *domain.DynamicState `json:"state,omitempty"`
}

// Handler is the receiving side of a node.
type Handler interface {
	Invoke(ctx context.Context, req Request) (Reply, error)

	// HandleAdvert must not block on the job the advert is about.
	HandleAdvert(ctx context.Context, from domain.Endpoint, advert domain.Advert)
}

type Transport interface {
	// Endpoint is the address other nodes reach this one at.
	Endpoint() domain.Endpoint

	// Call blocks until the reply arrives or ctx is done.
	Call(ctx context.Context, to domain.Endpoint, req Request) (Reply, error)

	// Send delivers req without waiting for the handler's reply.
	Send(ctx context.Context, to domain.Endpoint, req Request) error

	// Advertise passes advert to every peer of this node.
	Advertise(ctx context.Context, advert domain.Advert) error

	// Serve starts delivering inbound traffic to h. It does not block.
	Serve(h Handler) error

	Close() error
}

// NewRequest encodes payload, which may be nil, into a request.
func NewRequest(jobID string, role domain.Role, op domain.Opcode, from domain.Endpoint, payload interface{}) (Request, error) {
	req := Request{JobID: jobID, Role: role, Opcode: op, From: from}
	if payload == nil {
		return req, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return req, errors.Wrapf(err, "encoding %s payload", domain.OpName(role, op))
	}
	req.Payload = b
	return req, nil
}

// NewReply encodes payload, which may be nil, into a reply.
func NewReply(payload interface{}, state *domain.DynamicState) (Reply, error) {
	reply := Reply{State: state}
	if payload == nil {
		return reply, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return reply, errors.Wrap(err, "encoding reply payload")
	}
	reply.Payload = b
	return reply, nil
}

// Decode unpacks a payload into v. An empty payload leaves v untouched.
func Decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
