package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"duplex-rpc/message"
)

// Recover turns a handler panic into an INTERNAL response.
func Recover(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked",
						zap.Uint32("id", call.ID),
						zap.String("protocol", call.Protocol),
						zap.String("method", call.Method),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
					resp = Reply(call, message.Internal(fmt.Sprintf("handler panicked: %v", r)))
				}
			}()
			return next(ctx, call)
		}
	}
}
