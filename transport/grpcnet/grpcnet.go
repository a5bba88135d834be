// Package grpcnet is the networked transport: every node serves the
// grid.Node grpc service and dials its peers with plaintext connections.
package grpcnet

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/scootdev/grid/common/dialer"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

const DefaultAdvertTimeout = 2 * time.Second

type Config struct {
	// Listen is the local address to serve on, ":0" picks a port.
	Listen string

	// Endpoint is how peers reach this node. Empty means the listener's address.
	Endpoint domain.Endpoint

	Peers         []domain.Endpoint
	AdvertTimeout time.Duration

	// MaxConns caps concurrent inbound connections, 0 means no cap.
	MaxConns int
}

type Transport struct {
	endpoint      domain.Endpoint
	peers         []domain.Endpoint
	advertTimeout time.Duration

	lis    net.Listener
	server *grpc.Server
	dialer dialer.Dialer

	mu      sync.RWMutex
	handler transport.Handler
	serving bool
}

// New listens on cfg.Listen. Nothing is served until Serve is called.
func New(cfg Config) (*Transport, error) {
	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", cfg.Listen)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = domain.Endpoint(lis.Addr().String())
	}
	if cfg.AdvertTimeout <= 0 {
		cfg.AdvertTimeout = DefaultAdvertTimeout
	}
	if cfg.MaxConns > 0 {
		lis = netutil.LimitListener(lis, cfg.MaxConns)
	}
	t := &Transport{
		endpoint:      endpoint,
		peers:         cfg.Peers,
		advertTimeout: cfg.AdvertTimeout,
		lis:           lis,
		server:        newServer(),
		dialer: dialer.NewCachingDialer(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		),
	}
	t.server.RegisterService(&serviceDesc, &server{t})
	return t, nil
}

// newServer is grpc.NewServer with server reflection registered.
func newServer(opt ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opt...)
	reflection.Register(s)
	return s
}

func (t *Transport) Endpoint() domain.Endpoint {
	return t.endpoint
}

func (t *Transport) Serve(h transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.serving {
		return errors.New("transport is already serving")
	}
	t.handler = h
	t.serving = true
	go func() {
		if err := t.server.Serve(t.lis); err != nil {
			log.WithFields(log.Fields{"node": t.endpoint, "err": err}).Error("grpc server stopped")
		}
	}()
	log.WithFields(log.Fields{"node": t.endpoint, "peers": t.peers}).Info("Serving grid.Node")
	return nil
}

func (t *Transport) Close() error {
	t.server.Stop()
	t.lis.Close()
	return t.dialer.Close()
}

func (t *Transport) Call(ctx context.Context, to domain.Endpoint, req transport.Request) (transport.Reply, error) {
	var reply transport.Reply
	if err := t.invoke(ctx, to, invokeMethod, &req, &reply); err != nil {
		return transport.Reply{}, err
	}
	return reply, nil
}

func (t *Transport) Send(ctx context.Context, to domain.Endpoint, req transport.Request) error {
	return t.invoke(ctx, to, sendMethod, &req, &empty{})
}

// Advertise contacts every configured peer. Failing peers are skipped.
func (t *Transport) Advertise(ctx context.Context, advert domain.Advert) error {
	msg := &advertMessage{From: t.endpoint, Advert: advert}
	for _, peer := range t.peers {
		if peer == t.endpoint {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, t.advertTimeout)
		err := t.invoke(callCtx, peer, advertMethod, msg, &empty{})
		cancel()
		if err != nil {
			log.WithFields(log.Fields{
				"node":  t.endpoint,
				"peer":  peer,
				"jobID": advert.JobID,
				"err":   err,
			}).Debug("Couldn't advertise to peer")
		}
	}
	return nil
}

func (t *Transport) invoke(ctx context.Context, to domain.Endpoint, method string, in, out interface{}) error {
	cc, err := t.dialer.Dial(string(to))
	if err != nil {
		return errors.Wrapf(transport.ErrUnreachable, "%s: %v", to, err)
	}
	err = cc.Invoke(ctx, method, in, out)
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return errors.Wrapf(transport.ErrUnreachable, "%s: %v", to, err)
	default:
		return errors.New(status.Convert(err).Message())
	}
}

func (t *Transport) current() transport.Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler
}

// server adapts grpc calls to the transport.Handler being served.
type server struct {
	t *Transport
}

func (s *server) invoke(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
	reply, err := s.t.current().Invoke(ctx, *req)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &reply, nil
}

func (s *server) send(ctx context.Context, req *transport.Request) (*empty, error) {
	h := s.t.current()
	go func(req transport.Request) {
		if _, err := h.Invoke(context.Background(), req); err != nil {
			log.WithFields(log.Fields{
				"node":   s.t.endpoint,
				"jobID":  req.JobID,
				"opcode": domain.OpName(req.Role, req.Opcode),
				"err":    err,
			}).Debug("Pushed request failed")
		}
	}(*req)
	return &empty{}, nil
}

func (s *server) advert(ctx context.Context, msg *advertMessage) (*empty, error) {
	s.t.current().HandleAdvert(context.Background(), msg.From, msg.Advert)
	return &empty{}, nil
}
