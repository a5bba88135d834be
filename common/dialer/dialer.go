// Package dialer opens client connections to other nodes and resolves the
// addresses a node is configured with.
package dialer

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// Dialer returns a connection to addr. Connections are shared: callers must
// not close what Dial returns.
type Dialer interface {
	Dial(addr string) (*grpc.ClientConn, error)
	Close() error
}

type cachingDialer struct {
	opts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewCachingDialer dials each address once with opts and reuses the
// connection afterwards. grpc reconnects it on its own.
func NewCachingDialer(opts ...grpc.DialOption) Dialer {
	return &cachingDialer{opts: opts, conns: map[string]*grpc.ClientConn{}}
}

func (d *cachingDialer) Dial(addr string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns == nil {
		return nil, errors.New("dialer is closed")
	}
	if cc, ok := d.conns[addr]; ok {
		return cc, nil
	}
	log.WithFields(log.Fields{"addr": addr}).Debug("Dialing")
	cc, err := grpc.Dial(addr, d.opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	d.conns[addr] = cc
	return cc, nil
}

func (d *cachingDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for addr, cc := range d.conns {
		if err := cc.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing connection to %s", addr)
		}
	}
	d.conns = nil
	return first
}
