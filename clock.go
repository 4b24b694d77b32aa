package eventq

import "time"

// Clock supplies the current time. Stores stamp rows with it and the
// maintenance sweeps measure claim age and retention against it, so
// tests inject a fixed clock instead of sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock reads the system time in UTC. Persisted timestamps are
// always UTC so backoff and retention comparisons are zone-free.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
