package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duplex-rpc/calltable"
	"duplex-rpc/codec"
	"duplex-rpc/metrics"
)

// GenericClient is what generated protocol stubs call through. *Conn implements it.
type GenericClient interface {
	Call(ctx context.Context, protocol, method string, params, result any) error
	CallSession(ctx context.Context, protocol, method string, params func(sessionID int) any, result any) error
}

var _ GenericClient = (*Conn)(nil)

// Go issues a call and returns its future without waiting. params may be nil (empty record).
// Failures to send resolve the future rather than being returned.
func (c *Conn) Go(ctx context.Context, protocol, method string, params any) *calltable.Pending {
	return c.send(ctx, calltable.NewPending(protocol, method), func(int) any { return params })
}

// GoSession issues a session-starting call. A fresh session id is allocated on this connection and handed
// to params to build the parameter record; the session stays active until the returned future resolves.
func (c *Conn) GoSession(ctx context.Context, protocol, method string, params func(sessionID int) any) *calltable.Pending {
	p := calltable.NewPending(protocol, method)
	p.SessionID = c.sessions.Begin()
	c.metrics.SessionStarted()
	return c.send(ctx, p, params)
}

// Call issues a call and waits for it. The result, if any, is projected onto result.
//
// If ctx ends first the call is abandoned: Call returns the context error and a response arriving later
// is discarded. Application failures are returned as *message.Status, channel failures as *TransportError.
func (c *Conn) Call(ctx context.Context, protocol, method string, params, result any) error {
	return c.await(ctx, c.Go(ctx, protocol, method, params), result)
}

// CallSession is the waiting form of GoSession.
func (c *Conn) CallSession(ctx context.Context, protocol, method string, params func(sessionID int) any, result any) error {
	return c.await(ctx, c.GoSession(ctx, protocol, method, params), result)
}

func (c *Conn) send(ctx context.Context, p *calltable.Pending, params func(sessionID int) any) *calltable.Pending {
	if err := ctx.Err(); err != nil {
		c.release(p)
		return calltable.Failed(p.Protocol, p.Method, err)
	}

	start := time.Now()
	p.OnComplete(func(p *calltable.Pending, res calltable.Result) {
		c.release(p)
		c.metrics.CallFinished(p.Protocol, p.Method, outcome(res), time.Since(start))
	})
	id, err := c.calls.Add(p)
	if err != nil {
		c.release(p)
		return calltable.Failed(p.Protocol, p.Method, err)
	}
	c.metrics.CallStarted()
	if p.SessionID != 0 {
		c.sessions.Bind(p.SessionID, id)
	}

	frame, err := c.wire.EncodeCall(id, p.Protocol, p.Method, params(p.SessionID))
	if err != nil {
		c.calls.Fail(id, err)
		return p
	}
	if err := c.write(frame); err != nil {
		c.calls.Fail(id, err)
	}
	return p
}

// release ends the session p owns, if any.
func (c *Conn) release(p *calltable.Pending) {
	if p.SessionID == 0 {
		return
	}
	if c.sessions.IsActive(p.SessionID) {
		c.sessions.End(p.SessionID)
		c.metrics.SessionEnded()
	}
}

func (c *Conn) await(ctx context.Context, p *calltable.Pending, result any) error {
	res, err := p.Wait(ctx)
	if err != nil {
		c.calls.Abandon(p.ID, fmt.Errorf("%s.%s: %w", p.Protocol, p.Method, err))
		<-p.Done()
		res, _ = p.Result()
	}
	return DecodeResult(res, result)
}

// DecodeResult turns a resolved call into the error the caller sees, projecting a successful result
// onto out (which may be nil for void methods).
func DecodeResult(res calltable.Result, out any) error {
	switch {
	case res.Err != nil:
		return res.Err
	case res.Status != nil:
		return res.Status
	case out == nil || len(res.Payload) == 0:
		return nil
	}
	if err := codec.Project(codec.GetCodec(codec.CodecType(res.CodecType)), res.Payload, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

func outcome(res calltable.Result) string {
	switch {
	case res.Err != nil && IsTransport(res.Err):
		return metrics.OutcomeTransport
	case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		return metrics.OutcomeAbandoned
	case res.Err != nil, res.Status != nil:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeOK
	}
}
