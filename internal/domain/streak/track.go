package streak

import (
	"strings"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// Track - тип отслеживаемого поведения.
type Track string

const (
	// TrackAttendance - посещение занятий.
	TrackAttendance Track = "attendance"

	// TrackTask - выполнение задач.
	TrackTask Track = "task"
)

// AllTracks возвращает все известные треки.
func AllTracks() []Track {
	return []Track{TrackAttendance, TrackTask}
}

// ParseTrack разбирает строку. Неизвестный трек - ошибка, а не молчаливый пропуск.
func ParseTrack(s string) (Track, error) {
	t := Track(strings.ToLower(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate проверяет, что трек известен.
func (t Track) Validate() error {
	switch t {
	case TrackAttendance, TrackTask:
		return nil
	default:
		return shared.ErrUnknownTrack
	}
}

func (t Track) String() string {
	return string(t)
}

// TrackState - состояние одного трека.
type TrackState struct {
	// Current - текущая серия дней подряд.
	Current int `json:"current"`

	// Longest - лучшая серия за всё время.
	Longest int `json:"longest"`

	// LastUpdated - последний учтённый день. Никогда не движется назад.
	LastUpdated shared.Date `json:"last_updated"`
}
