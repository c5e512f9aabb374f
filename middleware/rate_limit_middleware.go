package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"duplex-rpc/message"
)

// RateLimit rejects inbound calls with RATE_LIMITED once the token bucket (r per second, burst) is empty.
// The bucket is shared by every call passing through the returned middleware.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Response {
			if !limiter.Allow() {
				return Reply(call, message.NewStatus(message.CodeRateLimited, "RATE_LIMITED", "rate limit exceeded"))
			}
			return next(ctx, call)
		}
	}
}
