package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var almaty = time.FixedZone("Asia/Almaty", 5*60*60)

func TestStartOfWeek(t *testing.T) {
	// Sunday 23:30 local belongs to the week that started the previous Monday.
	sunday := time.Date(2026, 10, 18, 23, 30, 0, 0, almaty)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, almaty), StartOfWeek(sunday, almaty))

	monday := time.Date(2026, 10, 19, 0, 0, 0, 0, almaty)
	assert.Equal(t, monday, StartOfWeek(monday, almaty))
	assert.Equal(t, monday.AddDate(0, 0, 7), EndOfWeek(monday, almaty))
}

func TestStartOfDay_UsesLocation(t *testing.T) {
	// 20:00 UTC is already the next day in Almaty.
	utc := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, almaty), StartOfDay(utc, almaty))
}

func TestInHourWindow(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 1, 1, h, 0, 0, 0, almaty) }

	tests := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"inside daytime", 9, 17, 12, true},
		{"start inclusive", 9, 17, 9, true},
		{"end exclusive", 9, 17, 17, false},
		{"wrap late", 22, 8, 23, true},
		{"wrap early", 22, 8, 7, true},
		{"wrap end exclusive", 22, 8, 8, false},
		{"wrap outside", 22, 8, 12, false},
		{"empty window", 5, 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InHourWindow(at(tt.hour), almaty, tt.start, tt.end))
		})
	}
}

func TestNextHourBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 15, 0, 0, almaty)
	assert.Equal(t, time.Date(2026, 1, 2, 8, 0, 0, 0, almaty), NextHourBoundary(now, almaty, 8))

	early := time.Date(2026, 1, 1, 6, 0, 0, 0, almaty)
	assert.Equal(t, time.Date(2026, 1, 1, 8, 0, 0, 0, almaty), NextHourBoundary(early, almaty, 8))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)
	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestLoadLocation_Fallback(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}
