// Package timeutil provides clock abstraction and timezone-aware calendar
// helpers. Streak days, week boundaries and quiet hours are all evaluated
// in a configured location rather than the host's local zone.
package timeutil

import (
	"sync"
	"time"
)

// Clock is a source of the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is a manually advanced clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// LoadLocation resolves a zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StartOfDay returns local midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek returns Monday 00:00 of t's week in loc.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	weekday := int(lt.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return StartOfDay(lt.AddDate(0, 0, -(weekday-1)), loc)
}

// EndOfWeek returns the instant the week starting at StartOfWeek ends (exclusive).
func EndOfWeek(t time.Time, loc *time.Location) time.Time {
	return StartOfWeek(t, loc).AddDate(0, 0, 7)
}

// InHourWindow reports whether t's local hour falls in the half-open window
// [start, end). A window with start > end wraps past midnight; start == end
// is an empty window.
func InHourWindow(t time.Time, loc *time.Location, start, end int) bool {
	if start == end {
		return false
	}
	h := t.In(loc).Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// NextHourBoundary returns the next instant at which the local hour equals hour.
func NextHourBoundary(t time.Time, loc *time.Location, hour int) time.Time {
	lt := t.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), hour, 0, 0, 0, loc)
	if !next.After(lt) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
