package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// Timetable reads missed classes and user profiles written by the
// timetable importer.
type Timetable struct {
	conn *Connection
}

var (
	_ attendance.Feed      = (*Timetable)(nil)
	_ attendance.Directory = (*Timetable)(nil)
)

// NewTimetable creates a timetable over an open connection.
func NewTimetable(conn *Connection) *Timetable {
	return &Timetable{conn: conn}
}

// MissedBetween returns classes scheduled in [from, to), oldest first.
func (t *Timetable) MissedBetween(ctx context.Context, from, to time.Time) ([]attendance.MissedClass, error) {
	query := `
		SELECT user_id, class_ref, class_title, scheduled_at
		FROM missed_classes
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at, id`

	rows, err := t.conn.Pool().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query missed classes: %w", err)
	}
	defer rows.Close()

	var out []attendance.MissedClass
	for rows.Next() {
		var (
			m      attendance.MissedClass
			userID string
		)
		if err := rows.Scan(&userID, &m.ClassRef, &m.ClassTitle, &m.ScheduledAt); err != nil {
			return nil, fmt.Errorf("failed to scan missed class: %w", err)
		}
		m.UserID = shared.UserID(userID)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMissed records a missed class.
func (t *Timetable) AddMissed(ctx context.Context, m attendance.MissedClass) error {
	query := `
		INSERT INTO missed_classes (user_id, class_ref, class_title, scheduled_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := t.conn.Pool().Exec(ctx, query, m.UserID.String(), m.ClassRef, m.ClassTitle, m.ScheduledAt); err != nil {
		return fmt.Errorf("failed to add missed class: %w", err)
	}
	return nil
}

// Profile returns the user's profile. A missing profile has an empty persona.
func (t *Timetable) Profile(ctx context.Context, userID shared.UserID) (attendance.Profile, error) {
	p := attendance.Profile{UserID: userID}
	err := t.conn.Pool().QueryRow(ctx,
		`SELECT persona, motivation_style FROM user_profiles WHERE user_id = $1`, userID.String(),
	).Scan(&p.Persona, &p.MotivationStyle)
	if err != nil {
		if IsNoRows(err) {
			return p, nil
		}
		return p, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// SetProfile upserts a profile.
func (t *Timetable) SetProfile(ctx context.Context, p attendance.Profile) error {
	query := `
		INSERT INTO user_profiles (user_id, persona, motivation_style, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			persona = EXCLUDED.persona,
			motivation_style = EXCLUDED.motivation_style,
			updated_at = NOW()`

	if _, err := t.conn.Pool().Exec(ctx, query, p.UserID.String(), p.Persona, p.MotivationStyle); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}
