package exam

import "time"

// Deadline is the server-side end of an attempt.
func Deadline(durationMinutes int, startedAt time.Time) time.Time {
	return startedAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// Remaining returns whole seconds left before the deadline, floored at zero.
// Client countdowns are advisory; this is the value they reconcile against.
func Remaining(durationMinutes int, startedAt, now time.Time) int64 {
	left := Deadline(durationMinutes, startedAt).Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// pastDeadline is the write cut-off used by RecordResponse.
func pastDeadline(durationMinutes int, startedAt, now time.Time) bool {
	return !now.Before(Deadline(durationMinutes, startedAt))
}
