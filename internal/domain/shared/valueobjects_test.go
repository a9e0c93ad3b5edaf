package shared

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_Ordering(t *testing.T) {
	a := MustParseDate("2026-10-14")
	b := MustParseDate("2026-10-15")

	assert.True(t, b.After(a))
	assert.True(t, a.Before(b))
	assert.True(t, a.Equal(NewDate(2026, time.October, 14)))
	assert.True(t, a.After(Date{}), "every real date is after the zero date")
	assert.Equal(t, 1, b.DaysSince(a))
}

func TestDate_AddDaysIsImmutable(t *testing.T) {
	d := MustParseDate("2026-02-28")
	next := d.AddDays(1)

	assert.Equal(t, "2026-02-28", d.String())
	assert.Equal(t, "2026-03-01", next.String())
	assert.Equal(t, "2025-12-31", MustParseDate("2026-01-01").AddDays(-1).String())
}

func TestDateOf_UsesLocation(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	instant := time.Date(2026, 10, 14, 21, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-10-14", DateOf(instant, time.UTC).String())
	assert.Equal(t, "2026-10-15", DateOf(instant, almaty).String())
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		D Date `json:"d"`
	}

	out, err := json.Marshal(wrapper{D: MustParseDate("2026-10-15")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2026-10-15"}`, string(out))

	out, err = json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":null}`, string(out))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2026-01-02"}`), &w))
	assert.Equal(t, NewDate(2026, time.January, 2), w.D)

	assert.Error(t, json.Unmarshal([]byte(`{"d":"02/01/2026"}`), &w))
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("yesterday")
	assert.True(t, IsValidation(err))
}

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  student-42 ")
	require.NoError(t, err)
	assert.Equal(t, UserID("student-42"), id)

	_, err = NewUserID("   ")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	assert.True(t, IsValidation(err))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, IsConflict(ErrMicroTaskAlreadyCompleted))
	assert.True(t, IsConflict(ErrMicroTaskExpired))
	assert.True(t, IsConflict(ErrGraceAlreadyUsed))
	assert.True(t, IsValidation(ErrUnknownTrack))
	assert.True(t, IsValidation(ErrInvalidEstimate))
	assert.True(t, IsNotFound(ErrLedgerNotFound))
	assert.False(t, IsConflict(ErrLedgerNotFound))
	assert.True(t, IsRetryable(ErrNotificationFailed))
}
