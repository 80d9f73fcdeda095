package registry

// etcd is a distributed key-value store that provides strong consistency
// (Raft protocol). We use it as a "distributed phonebook" for backends:
//
//	Key:   /coreband/{fleet}/{Addr}
//	Value: JSON-encoded Backend
//
// Registration uses TTL-based leases: if a backend's registering process
// crashes, the lease expires and the entry is automatically removed —
// preventing "ghost" backends from lingering in the fleet.

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a new registry connected to the given etcd
// endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func keyPrefix(fleet string) string { return "/coreband/" + fleet + "/" }

// Register adds a backend to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL.
//  2. Put the key-value pair with the lease attached.
//  3. Start KeepAlive to automatically renew the lease.
//
// leaseID is a local variable, not stored on the struct, so multiple
// callers sharing one EtcdRegistry don't race on it.
func (r *EtcdRegistry) Register(fleet string, backend Backend, ttlSeconds int64) error {
	ctx := context.Background()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(backend)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix(fleet)+backend.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a backend from etcd. Called during graceful shutdown
// before a backend stops serving traffic.
func (r *EtcdRegistry) Deregister(fleet string, addr string) error {
	_, err := r.client.Delete(context.Background(), keyPrefix(fleet)+addr)
	return err
}

// Watch monitors a fleet's prefix and emits the updated backend list
// whenever any change occurs (new registrations, deregistrations, lease
// expirations). Uses etcd's server-push Watch API rather than polling.
func (r *EtcdRegistry) Watch(fleet string) <-chan []Backend {
	ch := make(chan []Backend, 1)

	go func() {
		watchChan := r.client.Watch(context.Background(), keyPrefix(fleet), clientv3.WithPrefix())
		for range watchChan {
			backends, err := r.Discover(fleet)
			if err != nil {
				continue
			}
			ch <- backends
		}
	}()

	return ch
}

// Discover returns every backend currently registered for fleet.
func (r *EtcdRegistry) Discover(fleet string) ([]Backend, error) {
	resp, err := r.client.Get(context.Background(), keyPrefix(fleet), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	backends := make([]Backend, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var backend Backend
		if err := json.Unmarshal(kv.Value, &backend); err != nil {
			continue // skip malformed entries
		}
		backends = append(backends, backend)
	}

	return backends, nil
}
