package toolctl

import (
	"context"
	"encoding/json"
	"sync"
)

// StateStore is the pluggable persistence seam every gate reads and writes
// through. The in-memory default is process-local; a distributed adapter
// (see state_redis.go) is the seam for multi-process coordination named in
// §1/§5 of the runtime-control design.
//
// Implementations must be safe for concurrent use.
type StateStore interface {
	Get(ctx context.Context, key string) (value any, ok bool, err error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// memoryStateStore is the default in-process StateStore backed by a map.
type memoryStateStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemoryStateStore returns the default in-memory StateStore.
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{data: make(map[string]any)}
}

func (m *memoryStateStore) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStateStore) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStateStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStateStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// KeyEnumerator is implemented by adapters that can enumerate their own
// keys. Adapters that omit it (for example a thin wrapper over a KV store
// with no scan operation) fall back to keyTrackingStore below.
type KeyEnumerator interface {
	Keys(ctx context.Context) ([]string, error)
}

// partialStore is the minimal get/set/delete an adapter must implement;
// Keys is optional and detected via KeyEnumerator.
type partialStore interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// keyTrackingStore wraps an adapter that cannot enumerate its own keys. It
// mirrors every Set/Delete into a locally-tracked key set so Keys() keeps
// working for loop-breaker pruning even against such adapters.
type keyTrackingStore struct {
	inner partialStore
	mu    sync.Mutex
	seen  map[string]struct{}
}

// WrapWithKeyTracking adapts a partial StateStore (missing Keys) into a
// full StateStore by tracking written keys locally. If inner already
// implements KeyEnumerator, it is returned unchanged.
func WrapWithKeyTracking(inner partialStore) StateStore {
	if full, ok := inner.(StateStore); ok {
		if _, hasKeys := inner.(KeyEnumerator); hasKeys {
			return full
		}
	}
	return &keyTrackingStore{inner: inner, seen: make(map[string]struct{})}
}

func (k *keyTrackingStore) Get(ctx context.Context, key string) (any, bool, error) {
	return k.inner.Get(ctx, key)
}

func (k *keyTrackingStore) Set(ctx context.Context, key string, value any) error {
	if err := k.inner.Set(ctx, key, value); err != nil {
		return err
	}
	k.mu.Lock()
	k.seen[key] = struct{}{}
	k.mu.Unlock()
	return nil
}

func (k *keyTrackingStore) Delete(ctx context.Context, key string) error {
	if err := k.inner.Delete(ctx, key); err != nil {
		return err
	}
	k.mu.Lock()
	delete(k.seen, key)
	k.mu.Unlock()
	return nil
}

func (k *keyTrackingStore) Keys(_ context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	keys := make([]string, 0, len(k.seen))
	for key := range k.seen {
		keys = append(keys, key)
	}
	return keys, nil
}

// decodeStored recovers a concrete gate-state type from whatever a
// StateStore handed back. memoryStateStore returns the Go value as stored,
// so the direct type assertion succeeds. A JSON-backed adapter (e.g.
// RedisStateStore) instead returns the generic shape encoding/json produces
// on decode into any (maps, slices, float64s); decodeStored re-marshals
// that generic value and unmarshals it into T, so every gate's type
// assertion works identically against either backing store.
func decodeStored[T any](raw any) (T, bool) {
	var zero T
	if raw == nil {
		return zero, false
	}
	if v, ok := raw.(T); ok {
		return v, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}

// tenantStore prefixes every key with "tenant:" for multi-tenant isolation
// on a shared backend, and strips the prefix back off when listing keys.
type tenantStore struct {
	inner  StateStore
	tenant string
}

// newTenantStore scopes inner to tenant. Two controllers sharing both a
// tenant key and a state adapter observe one global view; different
// tenants on the same adapter are fully isolated.
func newTenantStore(inner StateStore, tenant string) *tenantStore {
	return &tenantStore{inner: inner, tenant: tenant}
}

func (t *tenantStore) prefix(key string) string {
	return t.tenant + ":" + key
}

func (t *tenantStore) Get(ctx context.Context, key string) (any, bool, error) {
	return t.inner.Get(ctx, t.prefix(key))
}

func (t *tenantStore) Set(ctx context.Context, key string, value any) error {
	return t.inner.Set(ctx, t.prefix(key), value)
}

func (t *tenantStore) Delete(ctx context.Context, key string) error {
	return t.inner.Delete(ctx, t.prefix(key))
}

func (t *tenantStore) Keys(ctx context.Context) ([]string, error) {
	all, err := t.inner.Keys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := t.tenant + ":"
	out := make([]string, 0, len(all))
	for _, k := range all {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	return out, nil
}
