// Package system provides the wall clock used to stamp runs.
package system

import "time"

// Clock reports the current UTC time.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns time.Now in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
