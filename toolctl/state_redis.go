package toolctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/toolctl/secret"
)

// RedisStateStoreOptions configures RedisStateStore, mirroring the DB
// isolation and key-namespacing conventions the observe/ecosystem's own
// Redis wrapper uses: a dedicated DB number per concern and a namespace
// prefix to keep unrelated callers on a shared cluster from colliding.
type RedisStateStoreOptions struct {
	// DSN is a redis:// URL. It may embed a "secretref:<provider>:<ref>"
	// token (for example in the password segment) that Resolver expands
	// before the URL is parsed, so a DSN can be templated from a vault
	// reference instead of plaintext in Config.
	DSN string

	// Resolver expands secretref:/env tokens in DSN. Optional: a nil
	// Resolver defaults to secret.NewEnvResolver(true), which resolves
	// secretref:env:<NAME> tokens from the process environment in addition
	// to the ${VAR} expansion every Resolver performs.
	Resolver *secret.Resolver

	// DB selects a Redis logical database for isolation from unrelated
	// traffic on the same cluster. Default: 0.
	DB int

	// Namespace prefixes every key ("toolctl" if empty), ahead of the
	// tenantStore's own "tenant:" prefix applied above this StateStore.
	Namespace string
}

// RedisStateStore is a StateStore backed by Redis, for coordinating budget,
// loop-breaker, circuit-breaker, idempotency, and lock state across more
// than one process (§1/§5). Values are JSON-encoded so any type produced by
// this package's gates (lockRecord, loopState, circuitState, ...) round-trips
// without a custom codec per type.
type RedisStateStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStateStore resolves opts.DSN (expanding any secretref/env token),
// connects, and pings once to fail fast on misconfiguration.
func NewRedisStateStore(ctx context.Context, opts RedisStateStoreOptions) (*RedisStateStore, error) {
	if opts.DSN == "" {
		return nil, errors.New("toolctl: redis DSN is required")
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = secret.NewEnvResolver(true)
	}
	dsn, err := resolver.ResolveValue(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("toolctl: resolving redis DSN: %w", err)
	}

	redisOpts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("toolctl: invalid redis DSN: %w", err)
	}
	if opts.DB > 0 {
		redisOpts.DB = opts.DB
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("toolctl: redis connection failed: %w", err)
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "toolctl"
	}

	return &RedisStateStore{client: client, namespace: namespace}, nil
}

// Close releases the underlying connection pool.
func (r *RedisStateStore) Close() error {
	return r.client.Close()
}

func (r *RedisStateStore) formatKey(key string) string {
	return r.namespace + ":" + key
}

// Get unmarshals the stored JSON payload into an any, so a struct comes
// back as its generic JSON shape. Gates that need a concrete type (e.g.
// lockRecord) recover it through decodeStored rather than a type assertion.
func (r *RedisStateStore) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("toolctl: decoding redis value for %q: %w", key, err)
	}
	return value, true, nil
}

// Set JSON-encodes value and stores it with no TTL; gate-level expiry (lock
// leases, idempotency windows, loop quarantine/stop windows) is enforced by
// each gate comparing stored timestamps against Clock.NowMillis, not by
// Redis key expiry, so every gate behaves identically against
// memoryStateStore and RedisStateStore.
func (r *RedisStateStore) Set(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("toolctl: encoding redis value for %q: %w", key, err)
	}
	return r.client.Set(ctx, r.formatKey(key), encoded, 0).Err()
}

func (r *RedisStateStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.formatKey(key)).Err()
}

// Keys scans the namespace and strips the prefix back off, satisfying
// KeyEnumerator directly so RedisStateStore never needs keyTrackingStore.
func (r *RedisStateStore) Keys(ctx context.Context) ([]string, error) {
	prefix := r.namespace + ":"
	pattern := prefix + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
