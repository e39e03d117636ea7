package resilience

import "time"

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// FixedBackoff implements a simple fixed delay backoff, used for the
// short transport-level retries against the gateway.
type FixedBackoff struct {
	Delay time.Duration
}

// NextDelay returns the fixed delay regardless of attempt number
func (fb *FixedBackoff) NextDelay(attempt int) time.Duration {
	return fb.Delay
}

// ScheduleBackoff draws delays from a fixed ordered schedule.
// Attempts beyond the schedule's length reuse its last entry, so a
// schedule of [5s 5s 5s] keeps retrying every 5s until the attempt
// budget is exhausted.
type ScheduleBackoff struct {
	Schedule []time.Duration
}

// NextDelay returns the delay for the given attempt number (0-indexed)
func (sb *ScheduleBackoff) NextDelay(attempt int) time.Duration {
	if len(sb.Schedule) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(sb.Schedule) {
		return sb.Schedule[len(sb.Schedule)-1]
	}
	return sb.Schedule[attempt]
}
