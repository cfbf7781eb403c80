package toolctl

import "context"

func budgetStateKey(runKey string) string {
	return "budget:" + runKey
}

// enforceBudget reads the current count for runKey and, if maxToolCalls is
// set and the count has already reached it, fails without incrementing.
// Otherwise it increments and stores the new count (§4.9).
func enforceBudget(ctx context.Context, store StateStore, maxToolCalls int, runKey string) error {
	if maxToolCalls <= 0 {
		return nil
	}

	key := budgetStateKey(runKey)
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	count := 0
	if ok {
		if c, ok := decodeStored[int](raw); ok {
			count = c
		}
	}
	if count >= maxToolCalls {
		return newFailure(CodeInvalidRequest, "budget exceeded for run key", 0, ErrBudgetExceeded)
	}
	return store.Set(ctx, key, count+1)
}

// resetBudget clears the budget counter for runKey only (§6 reset).
func resetBudget(ctx context.Context, store StateStore, runKey string) error {
	return store.Delete(ctx, budgetStateKey(runKey))
}
