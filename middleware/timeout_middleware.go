package middleware

import (
	"context"
	"time"

	"duplex-rpc/message"
)

// Timeout answers TIMEOUT when the handler has not returned within timeout.
// The handler's context is cancelled at that point; whatever it returns later is dropped.
// The handler keeps running on a goroutine started through WithSpawn when ctx carries one.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			spawnFrom(ctx)(func() {
				done <- next(ctx, call)
			})

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return Reply(call, message.NewStatus(message.CodeTimeout, "TIMEOUT", "handler timed out",
					message.StringKVPair{Key: "timeout", Value: timeout.String()},
				))
			}
		}
	}
}
