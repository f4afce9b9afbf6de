// Package system provides the wall clock used to stamp records.
package system

import "time"

// Clock implements harvest.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to the second, which keeps
// record timestamps stable in JSON.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
