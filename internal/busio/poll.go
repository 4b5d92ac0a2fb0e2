package busio

import (
	"errors"
	"time"
)

// ErrPollTimeout is returned by PollTimeout when the deadline elapses
// before the condition holds.
var ErrPollTimeout = errors.New("poll timed out")

// Clock abstracts time for the polling helpers so tests can run with
// a deterministic source.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// PollTimeout samples until cond holds for the sampled value or the
// deadline elapses. The value is sampled once more after the deadline
// so a final in-flight change still counts. sleep is the poll
// granularity; zero means busy-wait.
func PollTimeout(clock Clock, sample func() uint32, cond func(uint32) bool, sleep, timeout time.Duration) (uint32, error) {
	deadline := clock.Now().Add(timeout)
	for {
		val := sample()
		if cond(val) {
			return val, nil
		}
		if timeout != 0 && clock.Now().After(deadline) {
			val = sample()
			if cond(val) {
				return val, nil
			}
			return val, ErrPollTimeout
		}
		if sleep != 0 {
			clock.Sleep(sleep)
		}
	}
}
