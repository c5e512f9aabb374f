package middleware

import (
	"context"
	"time"

	"duplex-rpc/message"
	"duplex-rpc/metrics"
)

// Metrics records every inbound call in collector by its resulting status code.
func Metrics(collector *metrics.Collector) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Response {
			start := time.Now()
			resp := next(ctx, call)
			collector.InboundHandled(call.Protocol, call.Method, statusCode(resp), time.Since(start))
			return resp
		}
	}
}
