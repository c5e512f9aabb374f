package discovery

// etcd acts as the phonebook for daemons:
//
//	Key:   /duplex-rpc/{service}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL leases: if a daemon dies without deregistering, the lease expires and the entry
// disappears on its own.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/duplex-rpc/"

func servicePrefix(service string) string {
	return keyPrefix + service + "/"
}

func instanceKey(service, addr string) string {
	return servicePrefix(service) + addr
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]leaseHandle // Keyed by instance key
}

type leaseHandle struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: make(map[string]leaseHandle),
	}, nil
}

// Register stores instance under a lease of ttl seconds and keeps the lease alive until Deregister or Close.
//
// The lease is local to the call, not shared state on the struct, so several daemons can share one EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("granting lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(service, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registering %s: %w", key, err)
	}

	// The keepalive outlives ctx, which only bounds registration itself.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keeping lease alive: %w", err)
	}

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
	}
	r.leases[key] = leaseHandle{id: lease.ID, cancel: cancel}
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		if kaCtx.Err() == nil {
			r.logger.Warn("lease keepalive stopped", zap.String("key", key))
		}
	}()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := instanceKey(service, addr)
	r.mu.Lock()
	h, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		h.cancel()
		if _, err := r.client.Revoke(ctx, h.id); err != nil {
			r.logger.Debug("revoking lease", zap.String("key", key), zap.Error(err))
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("deregistering %s: %w", key, err)
	}
	return nil
}

// Discover returns every instance currently registered under service. Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", service, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Debug("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the full instance list on every change under the service prefix
// (simpler than applying individual watch events).
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, service)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops every keepalive and closes the etcd client. Leases then expire on their own.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, h := range r.leases {
		h.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
