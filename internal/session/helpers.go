package session

import "time"

// durationFromSeconds converts a fractional-seconds config value to a
// time.Duration, treating a non-positive value as "use the pacer's own
// default" by returning 0 (pacer.New fills in its default for <= 0).
func durationFromSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
