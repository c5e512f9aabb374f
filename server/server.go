// Package server accepts duplex-rpc connections and serves a method registry on each of them.
//
// Every accepted connection gets its own rpc.Conn, with its own call table and session registry, so a handler
// can call back into exactly the client that called it:
//
//	Accept conn → rpc.NewConn(conn, methods) → Start
//	  readLoop: call → go serve → middleware chain → handler
//	            handler → rpc.ConnFromContext(ctx).Call(...) → back to the same client
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"duplex-rpc/discovery"
	"duplex-rpc/metrics"
	"duplex-rpc/middleware"
	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = collector
	}
}

// WithConnOptions applies opts to every accepted connection, e.g. rpc.WithCodec or rpc.WithHeartbeat.
func WithConnOptions(opts ...rpc.Option) Option {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// WithDiscovery announces the server under service while it is serving. An empty instance.Addr is filled
// in with the listener's address.
func WithDiscovery(reg discovery.Registry, service string, instance discovery.Instance, ttl int64) Option {
	return func(s *Server) {
		s.discovery = reg
		s.service = service
		s.instance = instance
		s.ttl = ttl
	}
}

// Server serves one method registry over any number of listeners.
type Server struct {
	methods     *registry.Registry
	logger      *zap.Logger
	metrics     *metrics.Collector
	connOpts    []rpc.Option
	middlewares []middleware.Middleware
	perConn     []func() middleware.Middleware

	discovery discovery.Registry
	service   string
	instance  discovery.Instance
	ttl       int64

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*rpc.Conn]struct{}
	announced []string // Addresses registered in discovery
	wg        sync.WaitGroup
	shutdown  atomic.Bool
}

func New(methods *registry.Registry, opts ...Option) *Server {
	s := &Server{
		methods:   methods,
		logger:    zap.NewNop(),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*rpc.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware shared by every connection. Middlewares apply in the order they are added.
// It must be called before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// UsePerConn registers a middleware built afresh for every accepted connection, for middlewares that
// carry per-connection state such as a rate limiter. They run after the shared ones.
func (s *Server) UsePerConn(newMiddleware func() middleware.Middleware) {
	s.perConn = append(s.perConn, newMiddleware)
}

// ListenAndServe listens on the given network address and calls Serve.
func (s *Server) ListenAndServe(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown, after which it returns nil.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}()

	if err := s.announce(l); err != nil {
		l.Close()
		return err
	}
	s.logger.Info("serving", zap.Stringer("addr", l.Addr()))

	for {
		nc, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an Accept error.
			if s.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		s.handleConn(nc)
	}
}

func (s *Server) announce(l net.Listener) error {
	if s.discovery == nil {
		return nil
	}
	inst := s.instance
	if inst.Addr == "" {
		inst.Addr = l.Addr().String()
	}
	if inst.Network == "" {
		inst.Network = l.Addr().Network()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.discovery.Register(ctx, s.service, inst, s.ttl); err != nil {
		return fmt.Errorf("announcing %s: %w", s.service, err)
	}

	s.mu.Lock()
	s.announced = append(s.announced, inst.Addr)
	s.mu.Unlock()
	s.logger.Info("registered in discovery", zap.String("service", s.service), zap.String("addr", inst.Addr))
	return nil
}

func (s *Server) handleConn(nc net.Conn) {
	mws := append([]middleware.Middleware(nil), s.middlewares...)
	for _, newMiddleware := range s.perConn {
		mws = append(mws, newMiddleware())
	}
	opts := []rpc.Option{
		rpc.WithLogger(s.logger),
		rpc.WithMetrics(s.metrics),
		rpc.WithMiddleware(mws...),
	}
	conn := rpc.NewConn(nc, s.methods, append(opts, s.connOpts...)...)

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	conn.Start()
	s.logger.Debug("accepted connection", zap.Stringer("remote", nc.RemoteAddr()))

	go func() {
		defer s.wg.Done()
		<-conn.Dead()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.logger.Debug("connection finished", zap.Stringer("remote", nc.RemoteAddr()), zap.Error(conn.Err()))
	}()
}

// Conns returns the number of live connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery, so clients stop dialing this server
//  2. Close every listener
//  3. Close every connection: pending outbound calls fail, handler contexts are cancelled
//  4. Wait until every connection is dead or ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	// Set the flag before closing listeners so Serve treats the Accept error as intentional.
	s.shutdown.Store(true)

	s.mu.Lock()
	announced := s.announced
	s.announced = nil
	s.mu.Unlock()
	for _, addr := range announced {
		if err := s.discovery.Deregister(ctx, s.service, addr); err != nil {
			s.logger.Warn("deregistering from discovery", zap.String("addr", addr), zap.Error(err))
		}
	}

	s.mu.Lock()
	for l := range s.listeners {
		l.Close()
	}
	conns := make([]*rpc.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections to finish: %w", ctx.Err())
	}
}
