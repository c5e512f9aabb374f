// Package middleware wraps inbound call dispatch in an onion of cross-cutting handlers.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after.
// A middleware may answer a call itself (rate limit, stale session) without calling next.
package middleware

import (
	"context"

	"duplex-rpc/message"
)

// HandlerFunc serves one inbound call and always returns a response for it.
type HandlerFunc func(ctx context.Context, call *message.Call) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type spawnKey struct{}

// WithSpawn makes middlewares below ctx start their helper goroutines through spawn,
// so the connection can wait for them before reporting itself dead.
func WithSpawn(ctx context.Context, spawn func(fn func())) context.Context {
	return context.WithValue(ctx, spawnKey{}, spawn)
}

func spawnFrom(ctx context.Context) func(fn func()) {
	if spawn, ok := ctx.Value(spawnKey{}).(func(fn func())); ok {
		return spawn
	}
	return func(fn func()) { go fn() }
}

// Reply builds the error response to call.
func Reply(call *message.Call, st *message.Status) *message.Response {
	return &message.Response{ID: call.ID, CodecType: call.CodecType, Error: st}
}

func statusCode(resp *message.Response) int {
	if resp == nil || resp.Error == nil {
		return message.CodeOK
	}
	return resp.Error.Code
}
