// Package local is an in-process network of transports. Calls are delivered
// synchronously on the caller's goroutine, encoded and decoded the way a
// real wire would so that payloads are never shared between nodes.
package local

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

type Network struct {
	mu    sync.RWMutex
	nodes map[domain.Endpoint]*Transport
	down  map[domain.Endpoint]bool
	peers map[domain.Endpoint][]domain.Endpoint
}

func NewNetwork() *Network {
	return &Network{
		nodes: map[domain.Endpoint]*Transport{},
		down:  map[domain.Endpoint]bool{},
		peers: map[domain.Endpoint][]domain.Endpoint{},
	}
}

// Join adds a node to the network. Joining twice returns the same transport.
func (n *Network) Join(e domain.Endpoint) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.nodes[e]; ok {
		return t
	}
	t := &Transport{net: n, endpoint: e}
	n.nodes[e] = t
	return t
}

// SetDown makes every call to or from e fail until it is set back up.
func (n *Network) SetDown(e domain.Endpoint, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[e] = down
}

// SetPeers restricts who e advertises to. Without it, e advertises to every
// other node in the network.
func (n *Network) SetPeers(e domain.Endpoint, peers ...domain.Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[e] = append([]domain.Endpoint(nil), peers...)
}

func (n *Network) route(from, to domain.Endpoint) (transport.Handler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.down[from] {
		return nil, errors.Wrapf(transport.ErrUnreachable, "%s is down", from)
	}
	if n.down[to] {
		return nil, errors.Wrapf(transport.ErrUnreachable, "%s is down", to)
	}
	t, ok := n.nodes[to]
	if !ok {
		return nil, errors.Wrapf(transport.ErrUnreachable, "no node at %s", to)
	}
	h := t.handler()
	if h == nil {
		return nil, errors.Wrapf(transport.ErrUnreachable, "%s is not serving", to)
	}
	return h, nil
}

func (n *Network) peersOf(e domain.Endpoint) []domain.Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if peers, ok := n.peers[e]; ok {
		return peers
	}
	var all []domain.Endpoint
	for other := range n.nodes {
		if other != e {
			all = append(all, other)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// Transport implements transport.Transport for one node of a Network.
type Transport struct {
	net      *Network
	endpoint domain.Endpoint

	mu     sync.Mutex
	h      transport.Handler
	closed bool
}

func (t *Transport) Endpoint() domain.Endpoint {
	return t.endpoint
}

func (t *Transport) handler() transport.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.h
}

func (t *Transport) Serve(h transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Errorf("transport %s is closed", t.endpoint)
	}
	t.h = h
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.h = nil
	return nil
}

func (t *Transport) Call(ctx context.Context, to domain.Endpoint, req transport.Request) (transport.Reply, error) {
	if err := ctx.Err(); err != nil {
		return transport.Reply{}, err
	}
	h, err := t.net.route(t.endpoint, to)
	if err != nil {
		return transport.Reply{}, err
	}
	var wireReq transport.Request
	if err := roundTrip(req, &wireReq); err != nil {
		return transport.Reply{}, err
	}
	reply, err := h.Invoke(ctx, wireReq)
	if err != nil {
		return transport.Reply{}, err
	}
	var wireReply transport.Reply
	if err := roundTrip(reply, &wireReply); err != nil {
		return transport.Reply{}, err
	}
	return wireReply, nil
}

func (t *Transport) Send(ctx context.Context, to domain.Endpoint, req transport.Request) error {
	if _, err := t.Call(ctx, to, req); err != nil {
		if errors.Cause(err) == transport.ErrUnreachable {
			return err
		}
		log.WithFields(log.Fields{
			"node":  t.endpoint,
			"to":    to,
			"jobID": req.JobID,
			"err":   err,
		}).Debug("Pushed request failed at the receiver")
	}
	return nil
}

func (t *Transport) Advertise(ctx context.Context, advert domain.Advert) error {
	var wire domain.Advert
	if err := roundTrip(advert, &wire); err != nil {
		return err
	}
	for _, peer := range t.net.peersOf(t.endpoint) {
		h, err := t.net.route(t.endpoint, peer)
		if err != nil {
			continue
		}
		h.HandleAdvert(ctx, t.endpoint, wire)
	}
	return nil
}

func roundTrip(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
