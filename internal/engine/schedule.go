package engine

import "time"

// RetrySchedule holds fixed backoff delays indexed by attempt number
// (1-based). Its length is the maximum attempt count.
type RetrySchedule struct {
	delays []time.Duration
}

// DefaultSchedule waits 2s, 4s and 6s before the first, second and third
// rebuild.
func DefaultSchedule() RetrySchedule {
	return NewSchedule(2*time.Second, 4*time.Second, 6*time.Second)
}

// NewSchedule builds a schedule from the given delays.
func NewSchedule(delays ...time.Duration) RetrySchedule {
	d := make([]time.Duration, len(delays))
	copy(d, delays)
	return RetrySchedule{delays: d}
}

// MaxAttempts is the number of rebuilds allowed before the session
// downgrades to manual fallback.
func (s RetrySchedule) MaxAttempts() int { return len(s.delays) }

// Delay returns the wait before rebuild number attempt. Out-of-range
// attempts clamp to the first or last delay.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s.delays) {
		attempt = len(s.delays)
	}
	return s.delays[attempt-1]
}

// Last returns the longest configured delay.
func (s RetrySchedule) Last() time.Duration {
	return s.Delay(len(s.delays))
}
