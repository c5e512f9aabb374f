package session

import "context"

type contextKey struct{}

// Info describes the session an inbound call referred to through its sessionID field.
type Info struct {
	ID     int
	Active bool
}

// NewContext returns a copy of ctx carrying info.
func NewContext(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext returns the session info of the inbound call being served.
// ok is false when the call carried no sessionID.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(contextKey{}).(Info)
	return info, ok
}
