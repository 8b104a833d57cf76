package util

import "time"

// Timer measures wall time from the moment it was started. The zero Timer
// reports no elapsed time.
type Timer struct {
	start time.Time
}

// StartTimer starts a timer at the current time.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t Timer) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return time.Since(t.start)
}

// ElapsedMs is Elapsed in whole milliseconds, the unit stored on results.
func (t Timer) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}
