package rpc

import (
	"context"

	"duplex-rpc/session"
)

type connKey struct{}

func withConn(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// ConnFromContext returns the connection an inbound call arrived on. Handlers use it to issue
// nested calls back to the caller.
func ConnFromContext(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(connKey{}).(*Conn)
	return c, ok
}

// SessionFromContext returns the sessionID carried by the inbound call being served and whether that
// session was active on this connection when the call arrived. ok is false if the call had no sessionID.
func SessionFromContext(ctx context.Context) (id int, active bool, ok bool) {
	info, ok := session.FromContext(ctx)
	return info.ID, info.Active, ok
}
