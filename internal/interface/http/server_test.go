package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/application/engagement"
	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/streak-engine/internal/interface/http/handlers"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// Wednesday.
var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type mapFlags map[string]bool

func (f mapFlags) IsEnabled(name string) bool { return f[name] }

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

type testAPI struct {
	t      *testing.T
	server *Server
	health *handlers.HealthChecker
}

func newTestAPI(t *testing.T, flags engagement.Flags) *testAPI {
	t.Helper()
	clock := timeutil.NewFixedClock(testNow)
	svc := engagement.NewService(engagement.Config{
		Deps:  command.Deps{Store: memory.NewStore(), Clock: clock, Location: time.UTC},
		Flags: flags,
	})
	health := handlers.NewHealthChecker("test")
	cfg := DefaultConfig()
	cfg.GinMode = gin.TestMode
	return &testAPI{
		t:      t,
		health: health,
		server: NewServer(cfg, Dependencies{Engine: svc, Health: health, Clock: clock, Location: time.UTC}),
	}
}

func (a *testAPI) do(method, path, body string) (int, envelope, http.Header) {
	a.t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env, rec.Header()
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// ═══════════════════════════════════════════════════════════════════════════
// HEALTH & MIDDLEWARE
// ═══════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)

	code, env, hdr := api.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, hdr.Get(handlers.RequestIDHeader))
	assert.Equal(t, hdr.Get(handlers.RequestIDHeader), env.RequestID)

	api.health.AddCheck("database", func(context.Context) error { return errors.New("connection refused") })
	code, env, _ = api.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	status := decode[handlers.HealthStatus](t, env.Data)
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks["database"].Message)

	api.health.AddInfo("event_bus", func() any { return map[string]int{"failed": 3} })
	_, env, _ = api.do(http.MethodGet, "/health", "")
	status = decode[handlers.HealthStatus](t, env.Data)
	assert.Equal(t, map[string]any{"failed": float64(3)}, status.Info["event_bus"])
}

func TestRequestIDIsReused(t *testing.T) {
	api := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(handlers.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	api.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(handlers.RequestIDHeader))
}

// ═══════════════════════════════════════════════════════════════════════════
// STREAKS
// ═══════════════════════════════════════════════════════════════════════════

func TestUpdateStreakAndGetLedger(t *testing.T) {
	api := newTestAPI(t, nil)

	code, env, _ := api.do(http.MethodPost, "/api/v1/users/alice/streaks",
		`{"track":"attendance","date":"2026-03-04","success":true}`)
	require.Equal(t, http.StatusOK, code, env.Error)

	body := decode[struct {
		Ledger  streak.Ledger   `json:"ledger"`
		Outcome OutcomeResponse `json:"outcome"`
	}](t, env.Data)
	assert.Equal(t, 1, body.Ledger.Attendance.Current)
	assert.True(t, body.Outcome.Incremented)
	assert.Positive(t, body.Outcome.PointsAwarded)

	// Same day again is a duplicate.
	_, env, _ = api.do(http.MethodPost, "/api/v1/users/alice/streaks",
		`{"track":"attendance","date":"2026-03-04","success":true}`)
	dup := decode[struct {
		Outcome OutcomeResponse `json:"outcome"`
	}](t, env.Data)
	assert.True(t, dup.Outcome.Duplicate)

	code, env, _ = api.do(http.MethodGet, "/api/v1/users/alice/ledger", "")
	require.Equal(t, http.StatusOK, code)
	ledger := decode[struct {
		Attendance streak.TrackState `json:"attendance"`
	}](t, env.Data)
	assert.Equal(t, 1, ledger.Attendance.Current)
}

func TestUpdateStreak_InvalidInput(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown track", "/api/v1/users/alice/streaks", `{"track":"gym","success":true}`},
		{"missing success", "/api/v1/users/alice/streaks", `{"track":"task"}`},
		{"bad date", "/api/v1/users/alice/streaks", `{"track":"task","success":true,"date":"04/03/2026"}`},
		{"malformed json", "/api/v1/users/alice/streaks", `{"track":`},
		{"user id too long", "/api/v1/users/" + strings.Repeat("x", 200) + "/streaks", `{"track":"task","success":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env, _ := api.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "invalid_input", env.Error.Code)
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// GRACE
// ═══════════════════════════════════════════════════════════════════════════

func TestConsumeGraceOncePerWeek(t *testing.T) {
	api := newTestAPI(t, nil)

	_, env, _ := api.do(http.MethodPost, "/api/v1/users/bob/grace", "")
	first := decode[struct {
		Consumed bool `json:"consumed"`
	}](t, env.Data)
	assert.True(t, first.Consumed)

	_, env, _ = api.do(http.MethodPost, "/api/v1/users/bob/grace", `{"date":"2026-03-05"}`)
	second := decode[struct {
		Consumed bool `json:"consumed"`
	}](t, env.Data)
	assert.False(t, second.Consumed)

	code, env, _ := api.do(http.MethodPost, "/api/v1/admin/grace/reset", "")
	require.Equal(t, http.StatusOK, code)
	reset := decode[struct {
		UsersReset int64 `json:"users_reset"`
	}](t, env.Data)
	assert.Equal(t, int64(1), reset.UsersReset)
}

// ═══════════════════════════════════════════════════════════════════════════
// MICRO-TASKS
// ═══════════════════════════════════════════════════════════════════════════

func TestMissedClassAndMicroTaskLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	code, env, _ := api.do(http.MethodPost, "/api/v1/users/carol/missed-classes",
		`{"class_ref":"algo-101","class_title":"Algorithms","scheduled_at":"2026-03-04T09:00:00Z"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	missed := decode[MissedClassResponse](t, env.Data)
	assert.True(t, missed.TaskCreated)
	assert.True(t, missed.GraceConsumed)
	require.NotNil(t, missed.Task)

	// The same class again returns the existing task.
	code, env, _ = api.do(http.MethodPost, "/api/v1/users/carol/missed-classes",
		`{"class_ref":"algo-101","class_title":"Algorithms","scheduled_at":"2026-03-04T09:00:00Z"}`)
	require.Equal(t, http.StatusOK, code)
	again := decode[MissedClassResponse](t, env.Data)
	assert.False(t, again.TaskCreated)
	assert.Equal(t, missed.Task.ID, again.Task.ID)

	_, env, _ = api.do(http.MethodGet, "/api/v1/users/carol/micro-tasks?pending=true", "")
	pending := decode[[]map[string]any](t, env.Data)
	assert.Len(t, pending, 1)

	code, env, _ = api.do(http.MethodPost, "/api/v1/micro-tasks/"+missed.Task.ID+"/complete", `{"user_id":"carol"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	done := decode[struct {
		Task        microtask.MicroTask  `json:"task"`
		Restoration *RestorationResponse `json:"restoration"`
	}](t, env.Data)
	assert.True(t, done.Task.Completed)
	require.NotNil(t, done.Restoration)
	assert.False(t, done.Restoration.Applied)

	code, env, _ = api.do(http.MethodPost, "/api/v1/micro-tasks/"+missed.Task.ID+"/complete", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", env.Error.Code)

	code, _, _ = api.do(http.MethodPost, "/api/v1/micro-tasks/"+missed.Task.ID+"/complete", `{"user_id":"mallory"}`)
	assert.NotEqual(t, http.StatusOK, code)

	code, env, _ = api.do(http.MethodPost, "/api/v1/micro-tasks/does-not-exist/complete", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Code)

	code, env, _ = api.do(http.MethodPost, "/api/v1/users/carol/restore", "")
	require.Equal(t, http.StatusOK, code)
	restore := decode[RestorationResponse](t, env.Data)
	assert.False(t, restore.Applied)
}

func TestRestoreDisabledByFlag(t *testing.T) {
	api := newTestAPI(t, mapFlags{engagement.FlagMicroTasks: true})

	code, env, hdr := api.do(http.MethodPost, "/api/v1/users/dave/restore", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", env.Error.Code)
	assert.Equal(t, "1", hdr.Get("Retry-After"))
}
