package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrClosed is the cause of every failure after the connection was closed, by either side.
var ErrClosed = errors.New("rpc: connection closed")

// TransportError resolves calls that failed because the channel itself failed.
// It is never sent on the wire; peers only ever see Status errors.
type TransportError struct {
	Op  string // "read", "write" or "close"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport failure rather than an application error.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// closedCause normalizes the ways a hung-up channel reports itself.
func closedCause(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
