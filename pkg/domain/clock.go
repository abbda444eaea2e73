package domain

import "time"

// TimeFunc is a function that returns the current time.
// This can be overridden for testing.
var TimeFunc = time.Now

// Now returns the current time using the configured TimeFunc,
// truncated to UTC for stable serialization.
func Now() time.Time {
	return TimeFunc().UTC()
}
