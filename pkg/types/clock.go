package types

import "time"

// Clock returns the current time. Components take one so tests and the
// chaincode can pin time.
type Clock func() time.Time

// SystemClock returns the wall-clock time in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}
