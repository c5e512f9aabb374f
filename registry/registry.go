// Package registry maps (protocol name, method name) to the local handler that serves it.
//
// Both ends of a connection use a Registry: the daemon registers its service protocols, the client
// registers the UI protocols the daemon calls back into. Handlers are registered once at startup and
// looked up read-only by the dispatcher for every inbound call.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"duplex-rpc/codec"
)

var ErrNotFound = errors.New("method not found")

// ParamsError reports inbound parameters that could not be projected onto the handler's record.
// The dispatcher answers it with BAD_PARAMS.
type ParamsError struct {
	Err error
}

func (e *ParamsError) Error() string { return "bad params: " + e.Err.Error() }

func (e *ParamsError) Unwrap() error { return e.Err }

// Params is the still-encoded parameter record of an inbound call.
type Params struct {
	codec codec.Codec
	raw   []byte
}

func NewParams(c codec.Codec, raw []byte) Params {
	return Params{codec: c, raw: raw}
}

// Decode projects the parameters onto v (a pointer to a record).
// Failures are *ParamsError wrapping codec.ErrDecode or codec.ErrMissingField.
func (p Params) Decode(v any) error {
	if p.codec == nil {
		return &ParamsError{Err: fmt.Errorf("%w: params without codec", codec.ErrDecode)}
	}
	if err := codec.Project(p.codec, p.raw, v); err != nil {
		return &ParamsError{Err: err}
	}
	return nil
}

func (p Params) Raw() []byte { return p.raw }

func (p Params) Codec() codec.Codec { return p.codec }

// Handler serves one (protocol, method). A nil result means a void method.
type Handler func(ctx context.Context, params Params) (any, error)

// Protocol groups the handlers of one protocol name.
type Protocol struct {
	Name    string
	Methods map[string]Handler
}

type key struct {
	protocol string
	method   string
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[key]Handler)}
}

// Register installs h for (protocol, method). Registering the same pair again replaces the handler.
func (r *Registry) Register(protocol, method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key{protocol, method}] = h
}

// RegisterProtocol registers every method of p.
func (r *Registry) RegisterProtocol(p Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for method, h := range p.Methods {
		r.handlers[key{p.Name, method}] = h
	}
}

func (r *Registry) Lookup(protocol, method string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[key{protocol, method}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, protocol, method)
	}
	return h, nil
}

// Protocols lists the registered protocol names in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range r.handlers {
		seen[k.protocol] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Methods lists the methods registered under protocol in sorted order.
func (r *Registry) Methods(protocol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k := range r.handlers {
		if k.protocol == protocol {
			names = append(names, k.method)
		}
	}
	sort.Strings(names)
	return names
}

// Typed adapts a function over a typed parameter record into a Handler.
func Typed[P, R any](fn func(ctx context.Context, arg P) (R, error)) Handler {
	return func(ctx context.Context, params Params) (any, error) {
		var arg P
		if err := params.Decode(&arg); err != nil {
			return nil, err
		}
		return fn(ctx, arg)
	}
}

// TypedVoid adapts a function with no result record into a Handler.
func TypedVoid[P any](fn func(ctx context.Context, arg P) error) Handler {
	return func(ctx context.Context, params Params) (any, error) {
		var arg P
		if err := params.Decode(&arg); err != nil {
			return nil, err
		}
		return nil, fn(ctx, arg)
	}
}
