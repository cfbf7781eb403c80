package toolctl

import (
	"errors"
	"sync"
	"time"
)

// errAborted is the distinguished marker returned by Race and Sleep when a
// signal fires before the awaited operation completes. It is exported as
// ErrAborted for errors.Is checks.
var errAborted = errors.New("toolctl: aborted")

type listenerEntry struct {
	cb   func(reason any)
	once bool
}

// AbortSignal is a cancellation token with listeners and a reason. It is
// safe for concurrent use. Abort is idempotent: only the first call has any
// effect, later calls and their reasons are discarded.
type AbortSignal struct {
	mu        sync.Mutex
	aborted   bool
	reason    any
	doneCh    chan struct{}
	listeners []listenerEntry
}

// NewAbortSignal returns a fresh, un-aborted signal.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{doneCh: make(chan struct{})}
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Reason returns the reason passed to the first Abort call, or nil.
func (s *AbortSignal) Reason() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns a channel that is closed when the signal fires.
func (s *AbortSignal) Done() <-chan struct{} {
	return s.doneCh
}

// Abort fires the signal with reason. Subsequent calls are no-ops.
func (s *AbortSignal) Abort(reason any) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.reason = reason
	listeners := s.listeners
	s.listeners = nil
	close(s.doneCh)
	s.mu.Unlock()

	for _, l := range listeners {
		if l.cb != nil {
			l.cb(reason)
		}
	}
}

// AddListener registers cb to run when the signal fires. If the signal has
// already fired, cb runs synchronously before AddListener returns. The
// returned remove func detaches the listener; it is a no-op once the
// listener has already run or been removed. When once is true the listener
// is detached automatically right before it runs.
func (s *AbortSignal) AddListener(cb func(reason any), once bool) (remove func()) {
	s.mu.Lock()
	if s.aborted {
		reason := s.reason
		s.mu.Unlock()
		cb(reason)
		return func() {}
	}

	entry := listenerEntry{cb: cb, once: once}
	s.listeners = append(s.listeners, entry)
	idx := len(s.listeners) - 1
	s.mu.Unlock()

	removed := false
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if removed || idx >= len(s.listeners) {
			return
		}
		if idx < len(s.listeners) && s.listeners[idx].cb != nil {
			s.listeners[idx].cb = nil
		}
		removed = true
	}
}

// AbortController is the mutator half of an AbortSignal, mirroring the
// JavaScript AbortController/AbortSignal split: callers that need to hand
// out cancellation capability without granting the ability to abort pass
// around the Signal() only.
type AbortController struct {
	signal *AbortSignal
}

// NewAbortController returns a controller over a fresh signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: NewAbortSignal()}
}

// Signal returns the controller's underlying AbortSignal.
func (c *AbortController) Signal() *AbortSignal { return c.signal }

// Abort fires the controller's signal.
func (c *AbortController) Abort(reason any) { c.signal.Abort(reason) }

// RunSignal fuses an optional externally-supplied caller signal with a
// per-attempt timeout. Firing either aborts the fused signal; DidTimeout
// distinguishes which cause fired.
type RunSignal struct {
	*AbortSignal
	timedOut bool
	mu       sync.Mutex
	timer    *time.Timer
	detach   func()
}

// NewRunSignal builds a fused signal. timeoutMs <= 0 disables the timeout
// leg entirely (only caller cancellation can fire it). The returned stop
// func must be called once the attempt completes to release the timer and
// detach from the caller signal, regardless of outcome.
func NewRunSignal(timeoutMs int64, caller *AbortSignal) (rs *RunSignal, stop func()) {
	rs = &RunSignal{AbortSignal: NewAbortSignal()}

	if caller != nil {
		if caller.Aborted() {
			rs.Abort(caller.Reason())
		} else {
			rs.detach = caller.AddListener(func(reason any) {
				rs.Abort(reason)
			}, true)
		}
	}

	if timeoutMs > 0 {
		rs.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			rs.mu.Lock()
			rs.timedOut = true
			rs.mu.Unlock()
			rs.Abort("timed out")
		})
	}

	stop = func() {
		if rs.timer != nil {
			rs.timer.Stop()
		}
		if rs.detach != nil {
			rs.detach()
		}
	}
	return rs, stop
}

// DidTimeout reports whether this fused signal fired because of its own
// timeout leg, as opposed to the caller's signal or an explicit Abort.
func (rs *RunSignal) DidTimeout() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.timedOut
}

// raceResult carries either fn's successful result or its error, used to
// funnel a goroutine's outcome back through a channel select.
type raceResult struct {
	val any
	err error
}

// Race awaits fn and signal concurrently. If signal fires first, Race
// returns errAborted immediately (fn's eventual result, if any, is
// discarded) without waiting for fn to return. Otherwise it returns
// whatever fn returned.
func Race(signal *AbortSignal, fn func() (any, error)) (any, error) {
	if signal != nil && signal.Aborted() {
		return nil, errAborted
	}

	resultCh := make(chan raceResult, 1)
	go func() {
		v, err := fn()
		resultCh <- raceResult{val: v, err: err}
	}()

	if signal == nil {
		r := <-resultCh
		return r.val, r.err
	}

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-signal.Done():
		return nil, errAborted
	}
}

// Sleep blocks for ms milliseconds, or until signal fires, whichever comes
// first. It returns errAborted if interrupted by the signal. ms <= 0
// returns immediately (after checking signal) without blocking.
func Sleep(ms int64, signal *AbortSignal) error {
	if signal != nil && signal.Aborted() {
		return errAborted
	}
	if ms <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	if signal == nil {
		<-timer.C
		return nil
	}

	select {
	case <-timer.C:
		return nil
	case <-signal.Done():
		return errAborted
	}
}
