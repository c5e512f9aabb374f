// Package discovery lets daemons announce their endpoints and clients find them.
package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNoInstances = errors.New("discovery: no instances registered")

// Instance is one daemon endpoint.
type Instance struct {
	Addr    string `json:"addr"`
	Network string `json:"network,omitempty"` // "tcp" (default) or "unix"
	Weight  int    `json:"weight,omitempty"`  // Relative weight for load balancing
	Version string `json:"version,omitempty"`
	Codec   string `json:"codec,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, service string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, service string) <-chan []Instance
}

// Static is an in-process Registry. TTLs are ignored.
type Static struct {
	mu       sync.Mutex
	services map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

// NewStatic returns a Static registry pre-populated with instances under service.
func NewStatic(service string, instances ...Instance) *Static {
	s := &Static{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
	for _, inst := range instances {
		s.put(service, inst)
	}
	return s
}

func (s *Static) put(service string, inst Instance) {
	if s.services[service] == nil {
		s.services[service] = make(map[string]Instance)
	}
	s.services[service][inst.Addr] = inst
}

func (s *Static) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(service, instance)
	s.notifyLocked(service)
	return nil
}

func (s *Static) Deregister(ctx context.Context, service string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services[service], addr)
	s.notifyLocked(service)
	return nil
}

func (s *Static) Discover(ctx context.Context, service string) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(service), nil
}

func (s *Static) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	s.mu.Lock()
	s.watchers[service] = append(s.watchers[service], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[service]
		for i, w := range ws {
			if w == ch {
				s.watchers[service] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notifyLocked sends the latest list to every watcher, replacing a list the watcher has not consumed yet.
func (s *Static) notifyLocked(service string) {
	list := s.listLocked(service)
	for _, w := range s.watchers[service] {
		select {
		case <-w:
		default:
		}
		w <- list
	}
}

func (s *Static) listLocked(service string) []Instance {
	list := make([]Instance, 0, len(s.services[service]))
	for _, inst := range s.services[service] {
		list = append(list, inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Addr < list[j].Addr })
	return list
}
