package store

import (
	"math/rand/v2"
	"time"
)

// retrySchedule yields the wait between retry rounds: the delay doubles each
// failed round up to ceiling, and each wait is drawn from [delay/2, delay].
type retrySchedule struct {
	floor, ceiling time.Duration
	attempts       int
}

func newRetrySchedule(floor, ceiling time.Duration) *retrySchedule {
	return &retrySchedule{floor: floor, ceiling: ceiling}
}

// wait records a failed round and returns how long to sleep before the next.
func (s *retrySchedule) wait() time.Duration {
	d := s.floor
	for i := 0; i < s.attempts && d < s.ceiling; i++ {
		d *= 2
	}
	if d > s.ceiling {
		d = s.ceiling
	}
	s.attempts++
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1)) //nolint:gosec // not crypto
}

func (s *retrySchedule) succeeded() { s.attempts = 0 }
