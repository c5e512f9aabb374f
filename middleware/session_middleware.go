package middleware

import (
	"context"

	"duplex-rpc/message"
	"duplex-rpc/session"
)

// StaleSessionGuard rejects, with BAD_SESSION, inbound calls whose sessionID names no active session
// on the connection. Calls without a sessionID pass through.
//
// Session ids belong to the end that started the session, so the guard goes on the side serving callbacks
// (the client answering UI prompts), never on the daemon.
func StaleSessionGuard() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Response {
			if info, ok := session.FromContext(ctx); ok && !info.Active {
				return Reply(call, message.BadSession(info.ID))
			}
			return next(ctx, call)
		}
	}
}
