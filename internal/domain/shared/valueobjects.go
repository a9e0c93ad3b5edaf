package shared

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER ID
// ══════════════════════════════════════════════════════════════════════════════

// UserID is an opaque reference to the owning account.
type UserID string

// MaxUserIDLength bounds identifiers accepted from callers.
const MaxUserIDLength = 128

// NewUserID validates and creates a UserID.
func NewUserID(raw string) (UserID, error) {
	id := UserID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks the identifier is usable as a key.
func (id UserID) Validate() error {
	if id == "" || len(id) > MaxUserIDLength {
		return ErrInvalidUserID
	}
	return nil
}

// String implements fmt.Stringer.
func (id UserID) String() string {
	return string(id)
}

// ══════════════════════════════════════════════════════════════════════════════
// DATE
// ══════════════════════════════════════════════════════════════════════════════

// DateLayout is the wire and storage format for Date.
const DateLayout = "2006-01-02"

// Date is an immutable calendar day with no time or zone component.
// The zero value means "no date".
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate creates a normalized Date (e.g. Feb 30 becomes Mar 2).
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return Date{year: lt.Year(), month: lt.Month(), day: lt.Day()}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, WrapError("date", "Parse", ErrInvalidFormat, fmt.Sprintf("invalid date %q", s), err)
	}
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}, nil
}

// MustParseDate parses a date or panics. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Year() int { return d.year }

func (d Date) Month() time.Month { return d.month }

func (d Date) Day() int { return d.day }

// IsZero reports whether d is the "no date" value.
func (d Date) IsZero() bool { return d.year == 0 && d.month == 0 && d.day == 0 }

func (d Date) Weekday() time.Weekday { return d.Midnight(time.UTC).Weekday() }

// Midnight returns the start of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// AddDays returns a new Date n days away.
func (d Date) AddDays(n int) Date {
	return NewDate(d.year, d.month, d.day+n)
}

// Compare returns -1, 0 or +1. The zero Date sorts before every real date.
func (d Date) Compare(o Date) int {
	switch {
	case d.year != o.year:
		return sign(d.year - o.year)
	case d.month != o.month:
		return sign(int(d.month) - int(o.month))
	default:
		return sign(d.day - o.day)
	}
}

func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

func (d Date) Equal(o Date) bool { return d.Compare(o) == 0 }

// DaysSince returns the number of whole days from o to d.
func (d Date) DaysSince(o Date) int {
	return int(d.Midnight(time.UTC).Sub(o.Midnight(time.UTC)).Hours() / 24)
}

// String renders YYYY-MM-DD, or the empty string for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// MarshalJSON renders the date as a string, or null when zero.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a YYYY-MM-DD string or null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
