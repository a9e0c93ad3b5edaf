package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// Timetable is an in-memory attendance feed and profile directory.
type Timetable struct {
	mu       sync.RWMutex
	missed   []attendance.MissedClass
	profiles map[shared.UserID]attendance.Profile
}

var (
	_ attendance.Feed      = (*Timetable)(nil)
	_ attendance.Directory = (*Timetable)(nil)
)

// NewTimetable creates an empty timetable.
func NewTimetable() *Timetable {
	return &Timetable{profiles: make(map[shared.UserID]attendance.Profile)}
}

// AddMissed records a missed class.
func (t *Timetable) AddMissed(m attendance.MissedClass) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missed = append(t.missed, m)
}

// SetProfile stores a profile.
func (t *Timetable) SetProfile(p attendance.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.profiles[p.UserID] = p
}

// MissedBetween implements attendance.Feed.
func (t *Timetable) MissedBetween(_ context.Context, from, to time.Time) ([]attendance.MissedClass, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []attendance.MissedClass
	for _, m := range t.missed {
		if !m.ScheduledAt.Before(from) && m.ScheduledAt.Before(to) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// Profile implements attendance.Directory.
func (t *Timetable) Profile(_ context.Context, userID shared.UserID) (attendance.Profile, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.profiles[userID]; ok {
		return p, nil
	}
	return attendance.Profile{UserID: userID}, nil
}
