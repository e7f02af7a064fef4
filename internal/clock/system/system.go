// Package system provides the wall clock used for scan timestamps and TTLs.
package system

import "time"

// Clock implements restaurant.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// NowMillis returns the current time as epoch milliseconds.
func (c Clock) NowMillis() int64 {
	return c.Now().UnixMilli()
}
