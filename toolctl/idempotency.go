package toolctl

import "context"

// idempotencyRecord is the persisted shape for a replayed call (§3). Result
// replayed off a JSON-backed StateStore (state_redis.go) decodes to the
// generic shape encoding/json produces (map[string]any, []any, float64, ...)
// rather than the executor's original concrete type; callers that replay
// across process boundaries should treat Result accordingly.
type idempotencyRecord struct {
	StoredAt  int64
	ExpiresAt int64 // 0 means no expiry
	OK        bool
	Result    any
	Err       *Failure
}

func (r idempotencyRecord) expired(nowMs int64) bool {
	return r.ExpiresAt != 0 && nowMs >= r.ExpiresAt
}

// idempotencyScope resolves the scope component of the state key: the
// normalized run key when namespaceByRunKey is set, else "global".
func idempotencyScope(policy IdempotencyPolicy, runKey string) string {
	if policy.namespaceByRunKey() {
		return runKey
	}
	return "global"
}

func idempotencyStateKey(policy IdempotencyPolicy, toolName, runKey, idemKey string) string {
	scope := idempotencyScope(policy, runKey)
	return "idempotency:" + scope + ":" + toolName + ":" + HashString(idemKey)
}

// idempotencyReplay looks up a non-expired record for call. It must be
// called before any side-effecting gate (budget, loop, lock) per invariant
// (d) in §3.
func idempotencyReplay(ctx context.Context, store StateStore, clock Clock, policy IdempotencyPolicy, call CallContext) (*idempotencyRecord, bool, error) {
	if !policy.Enabled || call.IdempotencyKey == "" {
		return nil, false, nil
	}

	key := idempotencyStateKey(policy, call.ToolName, call.NormalizedRunKey(), call.IdempotencyKey)
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	record, ok := decodeStored[idempotencyRecord](raw)
	if !ok {
		return nil, false, nil
	}
	if record.expired(clock.NowMillis()) {
		return nil, false, nil
	}
	return &record, true, nil
}

func idempotencyStoreSuccess(ctx context.Context, store StateStore, clock Clock, policy IdempotencyPolicy, call CallContext, result any) error {
	if !policy.Enabled || call.IdempotencyKey == "" {
		return nil
	}
	key := idempotencyStateKey(policy, call.ToolName, call.NormalizedRunKey(), call.IdempotencyKey)
	now := clock.NowMillis()
	record := idempotencyRecord{StoredAt: now, OK: true, Result: result}
	if policy.TTLMs > 0 {
		record.ExpiresAt = now + policy.TTLMs
	}
	return store.Set(ctx, key, record)
}

func idempotencyStoreError(ctx context.Context, store StateStore, clock Clock, policy IdempotencyPolicy, call CallContext, failure *Failure) error {
	if !policy.Enabled || call.IdempotencyKey == "" || !policy.IncludeErrors {
		return nil
	}
	key := idempotencyStateKey(policy, call.ToolName, call.NormalizedRunKey(), call.IdempotencyKey)
	now := clock.NowMillis()
	record := idempotencyRecord{StoredAt: now, OK: false, Err: failure}
	if policy.TTLMs > 0 {
		record.ExpiresAt = now + policy.TTLMs
	}
	return store.Set(ctx, key, record)
}
