package toolctl

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

func lockStateKey(resourceKey string) string {
	return "lock:" + HashString(resourceKey)
}

// lockReads collapses concurrent in-process pollers of the same resourceKey
// onto a single backing-store read per instant, so a hot lock contended by
// many goroutines in one process doesn't multiply Get calls against a
// remote StateStore (e.g. state_redis.go) while every poller waits out the
// same lease.
var lockReads singleflight.Group

type lockReadResult struct {
	record lockRecord
	found  bool
}

// lockRecord is the persisted lease (§3). Release only succeeds if Owner
// still matches the caller's token, so a holder whose lease already
// expired cannot delete a successor's lock (§9, invariant (e)/(f)).
type lockRecord struct {
	Owner     string
	ExpiresAt int64
}

// lockOutcome reports what happened during acquire, for event emission.
type lockOutcome struct {
	waited   bool
	rejected bool
}

// acquireLock computes the lease key, and either reject-fails fast or
// polls (per policy.WaitMode) until the resource is free or
// policy.WaitTimeoutMs elapses. The lease lasts max(policy.LeaseMs,
// effectiveTimeoutMs+1000) per §4.12 so a lock outlives the call it guards.
func acquireLock(ctx context.Context, store StateStore, clock Clock, policy ConcurrencyPolicy, resourceKey string, effectiveTimeoutMs int64) (owner string, outcome lockOutcome, err error) {
	key := lockStateKey(resourceKey)
	leaseMs := policy.LeaseMs
	if minLease := effectiveTimeoutMs + 1000; minLease > leaseMs {
		leaseMs = minLease
	}
	owner = uuid.NewString()

	readLease := func() (lockReadResult, error) {
		v, err, _ := lockReads.Do(key, func() (any, error) {
			raw, ok, err := store.Get(ctx, key)
			if err != nil {
				return lockReadResult{}, err
			}
			existing, isRecord := decodeStored[lockRecord](raw)
			return lockReadResult{record: existing, found: ok && isRecord}, nil
		})
		if err != nil {
			return lockReadResult{}, err
		}
		return v.(lockReadResult), nil
	}

	tryAcquire := func() (bool, error) {
		now := clock.NowMillis()
		leased, err := readLease()
		if err != nil {
			return false, err
		}
		if leased.found && leased.record.ExpiresAt > now {
			return false, nil
		}
		return true, store.Set(ctx, key, lockRecord{Owner: owner, ExpiresAt: now + leaseMs})
	}

	acquired, err := tryAcquire()
	if err != nil {
		return "", lockOutcome{}, err
	}
	if acquired {
		return owner, lockOutcome{}, nil
	}

	if policy.WaitMode != WaitModeWait {
		return "", lockOutcome{rejected: true}, newFailure(CodeInvalidRequest, "concurrency lock rejected", 0, ErrConcurrencyRejected)
	}

	deadline := clock.NowMillis() + policy.WaitTimeoutMs
	for {
		if clock.NowMillis() >= deadline {
			return "", lockOutcome{waited: true, rejected: true}, newFailure(CodeInvalidRequest, "concurrency lock wait timed out", 0, ErrConcurrencyTimeout)
		}
		if err := Sleep(policy.PollIntervalMs, nil); err != nil {
			return "", lockOutcome{waited: true}, newFailure(CodeNetworkError, "cancelled while waiting for lock", 0, ErrCancelled)
		}
		acquired, err := tryAcquire()
		if err != nil {
			return "", lockOutcome{waited: true}, err
		}
		if acquired {
			return owner, lockOutcome{waited: true}, nil
		}
	}
}

// releaseLock deletes the lease only if it is still owned by owner.
func releaseLock(ctx context.Context, store StateStore, resourceKey, owner string) error {
	key := lockStateKey(resourceKey)
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	existing, isRecord := decodeStored[lockRecord](raw)
	if !isRecord || existing.Owner != owner {
		return nil
	}
	return store.Delete(ctx, key)
}
