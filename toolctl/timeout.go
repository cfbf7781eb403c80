package toolctl

import "errors"

// attemptOutcome is the classified result of one timeout-guarded attempt.
type attemptOutcome struct {
	result            any
	failure           *Failure
	cancelledByCaller bool
	timedOut          bool
}

// executeAttempt fuses callerSignal with timeoutMs, races executor against
// the fused signal, and classifies the outcome per §4.14: caller
// cancellation and timeout are distinguished before falling through to
// general failure normalization.
func executeAttempt(runtime Runtime, timeoutMs int64, callerSignal *AbortSignal, executor Executor) attemptOutcome {
	fused, stop := NewRunSignal(timeoutMs, callerSignal)
	defer stop()

	runtime.Signal = fused.AbortSignal

	result, err := Race(fused.AbortSignal, func() (any, error) {
		return executor(runtime)
	})

	if err == nil {
		return attemptOutcome{result: result}
	}

	cancelledByCaller := callerSignal != nil && callerSignal.Aborted() && !fused.DidTimeout()
	timedOut := fused.DidTimeout()

	if errors.Is(err, errAborted) {
		return attemptOutcome{
			failure:           NormalizeFailure(errors.New("aborted"), cancelledByCaller, timedOut),
			cancelledByCaller: cancelledByCaller,
			timedOut:          timedOut,
		}
	}

	return attemptOutcome{
		failure:           NormalizeFailure(err, cancelledByCaller, timedOut),
		cancelledByCaller: cancelledByCaller,
		timedOut:          timedOut,
	}
}
