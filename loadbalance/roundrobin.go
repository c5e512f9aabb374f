package loadbalance

import (
	"go.uber.org/atomic"

	"duplex-rpc/discovery"
)

// RoundRobinBalancer cycles through instances in order using a lock-free counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(_ string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}
	index := (b.counter.Inc() - 1) % uint64(len(instances))
	return instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
