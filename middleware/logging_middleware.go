package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"duplex-rpc/message"
)

// Logging logs every inbound call with its duration; failed calls are logged with their status.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Response {
			start := time.Now()
			resp := next(ctx, call)
			fields := []zap.Field{
				zap.Uint32("id", call.ID),
				zap.String("protocol", call.Protocol),
				zap.String("method", call.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				logger.Info("inbound call failed", append(fields,
					zap.Int("code", resp.Error.Code),
					zap.String("status", resp.Error.Error()),
				)...)
				return resp
			}
			logger.Debug("inbound call served", fields...)
			return resp
		}
	}
}
