// Package rpc implements the dispatcher that drives one duplex-rpc connection.
//
// A Conn is symmetric: both ends issue calls and serve calls over the same channel.
//
//	Go(call A) ──┐                           ┌── readLoop: response(id) → calls.Resolve(id)
//	Go(call B) ──┼──→ sending mutex ──→ rwc ─┤
//	handler    ──┘    (whole frames)         └── readLoop: call → go serve(call) → handler chain
//
// Exactly one goroutine reads. Writers share a mutex so frames never interleave. Every inbound call runs
// on its own goroutine outside any table lock, so a handler may issue nested calls back to its caller
// through ConnFromContext while the caller is still waiting on the call that triggered it.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"duplex-rpc/calltable"
	"duplex-rpc/codec"
	"duplex-rpc/message"
	"duplex-rpc/metrics"
	"duplex-rpc/middleware"
	"duplex-rpc/protocol"
	"duplex-rpc/registry"
	"duplex-rpc/session"
)

// State is the connection lifecycle: Open → Closing → Closed.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Conn)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithCodec selects the body codec for outbound calls. Responses always use the codec of the call they answer.
func WithCodec(t codec.CodecType) Option {
	return func(c *Conn) {
		c.wire = codec.NewWire(codec.GetCodec(t))
	}
}

// WithHeartbeat sends a heartbeat frame every interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(c *Conn) {
		c.heartbeat = interval
	}
}

// WithMiddleware wraps inbound dispatch, outermost first.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Conn) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Conn) {
		c.metrics = collector
	}
}

// Conn is one end of a duplex-rpc connection.
type Conn struct {
	rwc      io.ReadWriteCloser
	wire     *codec.Wire
	methods  *registry.Registry
	handler  middleware.HandlerFunc
	calls    *calltable.Table
	sessions *session.Registry

	logger      *zap.Logger
	metrics     *metrics.Collector
	middlewares []middleware.Middleware
	heartbeat   time.Duration

	sending sync.Mutex // Held for the duration of one frame write

	lifecycle sync.Mutex // Orders Start against teardown
	started   bool
	state     atomic.Int32
	err       atomic.Error

	ctx    context.Context // Parent of every handler context; cancelled on teardown
	cancel context.CancelFunc

	loops    sync.WaitGroup // readLoop and heartbeatLoop
	handlers sync.WaitGroup // Inbound calls being served
	dead     chan struct{}
}

// NewConn wraps rwc. Inbound calls are served from methods (nil serves nothing: every call gets
// METHOD_NOT_FOUND). Nothing is read or written until Start.
func NewConn(rwc io.ReadWriteCloser, methods *registry.Registry, opts ...Option) *Conn {
	if methods == nil {
		methods = registry.New()
	}
	c := &Conn{
		rwc:      rwc,
		wire:     codec.NewWire(codec.GetCodec(codec.CodecTypeCBOR)),
		methods:  methods,
		calls:    calltable.New(),
		sessions: session.NewRegistry(),
		logger:   zap.NewNop(),
		dead:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if nc, ok := rwc.(net.Conn); ok {
		c.logger = c.logger.With(zap.Stringer("remote", nc.RemoteAddr()))
	}
	c.handler = middleware.Chain(c.middlewares...)(c.invoke)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.metrics.ConnectionOpened()
	return c
}

// Start launches the read loop (and the heartbeat loop, if enabled). It is a no-op after the first call
// or once the connection is closing.
func (c *Conn) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.started || State(c.state.Load()) != StateOpen {
		return
	}
	c.started = true

	c.loops.Add(1)
	go c.readLoop()
	if c.heartbeat > 0 {
		c.loops.Add(1)
		go c.heartbeatLoop()
	}
}

// Close tears the connection down: outstanding calls fail with ErrClosed, sessions are cleared,
// in-flight handler contexts are cancelled. It does not wait; use Dead for that.
func (c *Conn) Close() error {
	c.teardown("close", ErrClosed)
	return nil
}

// Dead is closed once the connection is Closed and every loop and handler has returned.
func (c *Conn) Dead() <-chan struct{} {
	return c.dead
}

// Err returns why the connection was torn down, or nil while it is open.
func (c *Conn) Err() error {
	return c.err.Load()
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Sessions exposes the connection's session registry.
func (c *Conn) Sessions() *session.Registry {
	return c.sessions
}

// Pending returns the number of outbound calls waiting for a response.
func (c *Conn) Pending() int {
	return c.calls.Len()
}

// Methods returns the registry inbound calls are served from.
func (c *Conn) Methods() *registry.Registry {
	return c.methods
}

func (c *Conn) teardown(op string, cause error) {
	c.lifecycle.Lock()
	if State(c.state.Load()) != StateOpen {
		c.lifecycle.Unlock()
		return
	}
	c.state.Store(int32(StateClosing))
	c.lifecycle.Unlock()

	cause = closedCause(cause)
	terr := &TransportError{Op: op, Err: cause}
	c.err.Store(terr)
	if errors.Is(cause, ErrClosed) {
		c.logger.Debug("connection closed", zap.String("op", op))
	} else {
		c.metrics.TransportError(op)
		c.logger.Warn("connection failed", zap.String("op", op), zap.Error(cause))
	}

	c.cancel()
	_ = c.rwc.Close()
	if n := c.calls.FailAll(terr); n > 0 {
		c.logger.Debug("failed outstanding calls", zap.Int("count", n))
	}
	c.sessions.Clear()

	go func() {
		c.loops.Wait()
		c.handlers.Wait()
		c.state.Store(int32(StateClosed))
		c.metrics.ConnectionClosed()
		close(c.dead)
	}()
}

func (c *Conn) readLoop() {
	defer c.loops.Done()
	for {
		f, err := codec.ReadFrame(c.rwc)
		if err != nil {
			var de *codec.DecodeError
			if errors.As(err, &de) && de.Kind == protocol.KindCall {
				c.spawn(func() { c.rejectCall(de) })
				continue
			}
			c.teardown("read", err)
			return
		}

		switch f.Kind {
		case protocol.KindHeartbeat:
			c.metrics.HeartbeatReceived()
		case protocol.KindResponse:
			c.handleResponse(f.Response)
		case protocol.KindCall:
			c.dispatch(f.Call)
		}
	}
}

func (c *Conn) heartbeatLoop() {
	defer c.loops.Done()
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	frame := codec.EncodeHeartbeat(c.wire.Codec())
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(frame); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleResponse(resp *message.Response) {
	res := calltable.Result{Status: resp.Error, Payload: resp.Result, CodecType: resp.CodecType}
	if c.calls.Resolve(resp.ID, res) {
		return
	}
	if c.calls.Forget(resp.ID) {
		c.logger.Debug("discarding late response to abandoned call", zap.Uint32("id", resp.ID))
		return
	}
	c.metrics.UnknownResponse()
	c.logger.Warn("dropping response for unknown call id", zap.Uint32("id", resp.ID))
}

// rejectCall answers a call whose body could not be decoded. The header was valid, so the id is trusted.
func (c *Conn) rejectCall(de *codec.DecodeError) {
	c.logger.Info("rejecting undecodable call",
		zap.Uint32("id", de.CallID),
		zap.String("protocol", de.Protocol),
		zap.String("method", de.Method),
		zap.Error(de.Err),
	)
	c.writeResponse(&message.Response{
		ID:        de.CallID,
		CodecType: de.CodecType,
		Error:     message.BadParams(de.Err.Error()),
	})
}

func (c *Conn) dispatch(call *message.Call) {
	if State(c.state.Load()) != StateOpen {
		c.spawn(func() {
			c.writeResponse(middleware.Reply(call, message.NewStatus(message.CodeShuttingDown, "SHUTTING_DOWN", "connection is closing")))
		})
		return
	}
	c.spawn(func() { c.serve(call) })
}

// spawn runs fn on its own goroutine, tracked until Dead. Callers are the read loop and running
// handlers, so the counter is never zero when Add runs.
func (c *Conn) spawn(fn func()) {
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		fn()
	}()
}

func (c *Conn) serve(call *message.Call) {
	ctx := middleware.WithSpawn(withConn(c.ctx, c), c.spawn)
	if sid, ok := sessionIDOf(call); ok {
		info := session.Info{ID: sid, Active: c.sessions.IsActive(sid)}
		if !info.Active {
			c.logger.Debug("inbound call refers to inactive session",
				zap.Uint32("id", call.ID),
				zap.String("method", call.ServiceMethod()),
				zap.Int("sessionID", sid),
			)
		}
		ctx = session.NewContext(ctx, info)
	}

	resp := c.handler(ctx, call)
	if resp == nil {
		resp = middleware.Reply(call, message.Internal("handler chain returned no response"))
	}
	resp.ID = call.ID
	resp.CodecType = call.CodecType
	c.writeResponse(resp)
}

// invoke is the innermost handler: registry lookup, handler call, result encoding.
func (c *Conn) invoke(ctx context.Context, call *message.Call) *message.Response {
	h, err := c.methods.Lookup(call.Protocol, call.Method)
	if err != nil {
		return middleware.Reply(call, message.MethodNotFound(call.Protocol, call.Method))
	}

	cd := codec.GetCodec(codec.CodecType(call.CodecType))
	result, err := h(ctx, registry.NewParams(cd, call.Params))
	if err != nil {
		return middleware.Reply(call, statusOf(err))
	}

	resp := &message.Response{ID: call.ID, CodecType: call.CodecType}
	if result != nil {
		raw, err := cd.Marshal(result)
		if err != nil {
			return middleware.Reply(call, message.Internal(fmt.Sprintf("encoding result: %v", err)))
		}
		resp.Result = raw
	}
	return resp
}

// statusOf maps a handler error to the Status sent back.
func statusOf(err error) *message.Status {
	var st *message.Status
	if errors.As(err, &st) {
		if st == nil {
			return message.Internal("handler returned a nil status")
		}
		return st
	}
	var pe *registry.ParamsError
	if errors.As(err, &pe) {
		return message.BadParams(pe.Err.Error())
	}
	return message.StatusFromError(err)
}

type sessionProbe struct {
	SessionID *int `json:"sessionID" cbor:"sessionID"`
}

func sessionIDOf(call *message.Call) (int, bool) {
	if len(call.Params) == 0 {
		return 0, false
	}
	var probe sessionProbe
	if err := codec.GetCodec(codec.CodecType(call.CodecType)).Unmarshal(call.Params, &probe); err != nil || probe.SessionID == nil {
		return 0, false
	}
	return *probe.SessionID, true
}

func (c *Conn) writeResponse(resp *message.Response) {
	cd := codec.GetCodec(codec.CodecType(resp.CodecType))
	frame, err := codec.EncodeResponseFrame(cd, resp)
	if err != nil {
		c.logger.Error("encoding response", zap.Uint32("id", resp.ID), zap.Error(err))
		frame, err = codec.EncodeResponseFrame(cd, &message.Response{
			ID:    resp.ID,
			Error: message.Internal(fmt.Sprintf("encoding response: %v", err)),
		})
		if err != nil {
			return
		}
	}
	if err := c.write(frame); err != nil {
		c.logger.Debug("dropping response", zap.Uint32("id", resp.ID), zap.Error(err))
	}
}

// write puts one whole frame on the wire. A failed write tears the connection down.
func (c *Conn) write(frame []byte) error {
	c.sending.Lock()
	defer c.sending.Unlock()
	if _, err := c.rwc.Write(frame); err != nil {
		c.teardown("write", err)
		return &TransportError{Op: "write", Err: closedCause(err)}
	}
	return nil
}
