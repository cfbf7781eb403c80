package toolctl

import "context"

const loopKeyPrefix = "loop:"

func loopStateKey(fingerprint string) string {
	return loopKeyPrefix + fingerprint
}

// loopState is the persisted per-fingerprint record (§3).
type loopState struct {
	Streak          int
	LastOutcomeHash string
	LastSeenAt      int64
	QuarantineUntil int64
	StopUntil       int64
}

func loadLoopState(ctx context.Context, store StateStore, fingerprint string) (loopState, error) {
	raw, ok, err := store.Get(ctx, loopStateKey(fingerprint))
	if err != nil || !ok {
		return loopState{}, err
	}
	s, ok := decodeStored[loopState](raw)
	if !ok {
		return loopState{}, nil
	}
	return s, nil
}

// loopBreakerPreCall blocks a call whose fingerprint is currently
// quarantined or stopped, otherwise refreshes LastSeenAt for LRU pruning.
func loopBreakerPreCall(ctx context.Context, store StateStore, clock Clock, fingerprint string) error {
	state, err := loadLoopState(ctx, store, fingerprint)
	if err != nil {
		return err
	}
	now := clock.NowMillis()

	if state.StopUntil > now {
		return newFailure(CodeInvalidRequest, "fingerprint stopped by loop breaker", 0, ErrLoopStopped)
	}
	if state.QuarantineUntil > now {
		return newFailure(CodeInvalidRequest, "fingerprint quarantined by loop breaker", 0, ErrLoopQuarantined)
	}

	state.LastSeenAt = now
	return store.Set(ctx, loopStateKey(fingerprint), state)
}

// loopOutcomeEvent is what loopBreakerRecordOutcome reports back to the
// orchestrator so it can emit the matching event.
type loopOutcomeEvent struct {
	kind   string // "" means no event
	reason string
}

// loopBreakerRecordOutcome updates the streak for fingerprint against
// outcomeHash, applying the stop > quarantine > warning precedence chain,
// then prunes the oldest tracked fingerprint if over capacity (§4.10).
// StopUntil/QuarantineUntil are refreshed on every call whose streak still
// crosses the threshold, not just the first, so a cooldown that lapsed
// while the identical outcome kept recurring is re-armed rather than left
// expired forever. The event fires only when the fingerprint wasn't already
// in that state as of now, so it stays silent while the cooldown is active
// and fires again once a lapsed cooldown is freshly re-armed.
func loopBreakerRecordOutcome(ctx context.Context, store StateStore, clock Clock, policy LoopBreakerPolicy, fingerprint, outcomeHash string) (loopOutcomeEvent, error) {
	state, err := loadLoopState(ctx, store, fingerprint)
	if err != nil {
		return loopOutcomeEvent{}, err
	}
	now := clock.NowMillis()

	if outcomeHash == state.LastOutcomeHash && state.Streak > 0 {
		state.Streak++
	} else {
		state.Streak = 1
		state.LastOutcomeHash = outcomeHash
		state.QuarantineUntil = 0
		state.StopUntil = 0
	}
	state.LastSeenAt = now

	var ev loopOutcomeEvent
	switch {
	case state.Streak >= policy.StopThreshold:
		wasStopped := state.StopUntil > now
		state.StopUntil = now + policy.StopCooldownMs
		if !wasStopped {
			ev = loopOutcomeEvent{kind: EventLoopStop, reason: "fingerprint reached stop threshold"}
		}
	case state.Streak >= policy.QuarantineThreshold:
		wasQuarantined := state.QuarantineUntil > now
		state.QuarantineUntil = now + policy.QuarantineMs
		if !wasQuarantined {
			ev = loopOutcomeEvent{kind: EventLoopQuarantine, reason: "fingerprint reached quarantine threshold"}
		}
	case state.Streak >= policy.WarningThreshold:
		ev = loopOutcomeEvent{kind: EventLoopWarning, reason: "fingerprint reached warning threshold"}
	}

	if err := store.Set(ctx, loopStateKey(fingerprint), state); err != nil {
		return ev, err
	}

	if err := pruneLoopState(ctx, store, policy.MaxFingerprints); err != nil {
		return ev, err
	}
	return ev, nil
}

// pruneLoopState drops the single oldest (by LastSeenAt) tracked
// fingerprint once the tracked count exceeds maxFingerprints.
func pruneLoopState(ctx context.Context, store StateStore, maxFingerprints int) error {
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}

	var loopKeys []string
	for _, k := range keys {
		if len(k) > len(loopKeyPrefix) && k[:len(loopKeyPrefix)] == loopKeyPrefix {
			loopKeys = append(loopKeys, k)
		}
	}
	if len(loopKeys) <= maxFingerprints {
		return nil
	}

	oldestKey := ""
	var oldestAt int64
	for _, k := range loopKeys {
		raw, ok, err := store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		s, ok := decodeStored[loopState](raw)
		if !ok {
			continue
		}
		if oldestKey == "" || s.LastSeenAt < oldestAt {
			oldestKey = k
			oldestAt = s.LastSeenAt
		}
	}
	if oldestKey == "" {
		return nil
	}
	return store.Delete(ctx, oldestKey)
}
