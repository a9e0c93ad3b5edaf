package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression represents a parsed cron expression.
// Supports standard 5-field format: minute hour day-of-month month day-of-week
// Examples:
//   - "* * * * *"    - every minute (attendance sweep)
//   - "0 0 * * 1"    - Mondays at midnight (weekly grace reset)
//   - "0 18 * * 0"   - Sundays at 18:00 (weekly report)
//   - "*/15 9-18 * * 1-5" - every 15 minutes during weekday working hours
//
// When both day-of-month and day-of-week are restricted, a time matches if
// either does.
type CronExpression struct {
	raw      string
	loc      *time.Location
	minutes  fieldSet
	hours    fieldSet
	days     fieldSet
	months   fieldSet
	weekdays fieldSet

	daysAny     bool
	weekdaysAny bool
}

// fieldSet is a bitmask of allowed values; every cron field fits in 64 bits.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

// Common cron expression presets.
const (
	EveryMinute      = "* * * * *"
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	MondayMidnight   = "0 0 * * 1"
	SundayEvening    = "0 18 * * 0"
)

// ParseCronExpression parses a cron expression evaluated in loc (UTC if nil).
// Each field accepts *, n, n-m, */s, n-m/s, n/s and comma lists of those.
// Day-of-week accepts 7 as Sunday.
func ParseCronExpression(expr string, loc *time.Location) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	ce := &CronExpression{raw: expr, loc: loc}
	ranges := []struct {
		name     string
		min, max int
		dst      *fieldSet
	}{
		{"minute", 0, 59, &ce.minutes},
		{"hour", 0, 23, &ce.hours},
		{"day", 1, 31, &ce.days},
		{"month", 1, 12, &ce.months},
		{"weekday", 0, 7, &ce.weekdays},
	}
	for i, r := range ranges {
		set, err := parseField(fields[i], r.min, r.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", r.name, err)
		}
		*r.dst = set
	}

	if ce.weekdays.has(7) {
		ce.weekdays |= 1
	}
	ce.daysAny = fields[2] == "*"
	ce.weekdaysAny = fields[4] == "*"
	return ce, nil
}

// ParseSchedule accepts either a cron expression or "@every <duration>".
func ParseSchedule(expr string, loc *time.Location) (Schedule, error) {
	if rest, ok := strings.CutPrefix(strings.TrimSpace(expr), "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", rest)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCronExpression(expr, loc)
}

// MustParseCronExpression parses a cron expression in UTC or panics.
// Use only for compile-time constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr, time.UTC)
	if err != nil {
		panic(err)
	}
	return ce
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parseRange(part, min, max)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func parseRange(part string, min, max int) (lo, hi, step int, err error) {
	step = 1
	base, s, hasStep := strings.Cut(part, "/")
	if hasStep {
		step, err = strconv.Atoi(s)
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step %q", s)
		}
		part = base
		hi = max
	}

	switch {
	case part == "*":
		lo, hi = min, max
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		if lo, err = strconv.Atoi(a); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start %q", a)
		}
		if hi, err = strconv.Atoi(b); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end %q", b)
		}
	default:
		if lo, err = strconv.Atoi(part); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value %q", part)
		}
		// "n/s" runs from n to max; a bare "n" is just n.
		if !hasStep {
			hi = lo
		}
	}

	if lo < min || hi > max || lo > hi {
		return 0, 0, 0, fmt.Errorf("value out of range [%d-%d]: %q", min, max, part)
	}
	return lo, hi, step, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time.
// The zero time means no match within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.In(ce.loc).Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if !ce.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, ce.loc)
			continue
		}
		if !ce.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, ce.loc)
			continue
		}
		if !ce.hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, ce.loc)
			continue
		}
		if !ce.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := ce.days.has(t.Day())
	dow := ce.weekdays.has(int(t.Weekday()))
	switch {
	case ce.daysAny && ce.weekdaysAny:
		return true
	case ce.daysAny:
		return dow
	case ce.weekdaysAny:
		return dom
	default:
		return dom || dow
	}
}
