package loadbalance

import (
	"math/rand"

	"duplex-rpc/discovery"
)

// WeightedRandomBalancer picks an instance with probability proportional to its weight.
// Instances with a non-positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += weight(v)
	}

	r := rand.Intn(totalWeight)
	for _, v := range instances {
		r -= weight(v)
		if r < 0 {
			return v, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weight(inst discovery.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
