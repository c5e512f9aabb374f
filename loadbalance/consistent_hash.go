package loadbalance

import (
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"

	"duplex-rpc/discovery"
)

// ConsistentHashBalancer maps keys onto a hash ring of instances, so the same user keeps landing on the
// same daemon until the instance set changes. Each instance gets replicas virtual nodes on the ring.
//
// The ring is rebuilt lazily whenever Pick sees a different instance set.
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	epoch string                        // Joined addresses the ring was built from
	ring  []uint32                      // Sorted hash values
	nodes map[uint32]discovery.Instance // Hash value → instance
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

func (b *ConsistentHashBalancer) Pick(key string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) rebuild(instances []discovery.Instance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	epoch := strings.Join(addrs, ",")
	if epoch == b.epoch && b.ring != nil {
		return
	}

	b.epoch = epoch
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]discovery.Instance, len(instances)*b.replicas)
	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(inst.Addr + "#" + strconv.Itoa(i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
