package toolctl

import (
	"math/rand/v2"
	"time"
)

// Clock supplies monotonic wall-clock milliseconds. Tests substitute a fake
// clock to drive loop-breaker and circuit-breaker timing deterministically.
type Clock interface {
	NowMillis() int64
}

// systemClock is the default Clock backed by time.Now.
type systemClock struct{}

func (systemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SystemClock is the default Clock used when a Config leaves Clock nil.
var SystemClock Clock = systemClock{}

// Random supplies jitter. Not used for anything security sensitive, so the
// default implementation is math/rand/v2's process-global source.
type Random interface {
	Float64() float64
}

type systemRandom struct{}

func (systemRandom) Float64() float64 {
	return rand.Float64()
}

// SystemRandom is the default Random used when a Config leaves Random nil.
var SystemRandom Random = systemRandom{}
