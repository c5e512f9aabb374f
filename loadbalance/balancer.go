// Package loadbalance picks which daemon instance a client dials.
//
// Three strategies are implemented:
//   - RoundRobin:      Equal-capacity daemons
//   - WeightedRandom:  Daemons with different Instance.Weight
//   - ConsistentHash:  Pins a key (usually the username) to one daemon
package loadbalance

import (
	"fmt"

	"duplex-rpc/discovery"
)

var ErrNoInstances = discovery.ErrNoInstances

// Balancer selects one instance from the available list. key is ignored by strategies without affinity.
// Implementations must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []discovery.Instance) (discovery.Instance, error)
	Name() string
}

// New returns the balancer registered under name, as used in client configuration.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("unknown balancer %q", name)
	}
}
