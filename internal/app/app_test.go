package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/config"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/streak-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("NOTIFY_WEBHOOK_URL", "")
	t.Setenv("ENGINE_CATALOG_FILE", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_InMemory(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.JobLocker)
	assert.IsType(t, &memory.Timetable{}, a.Timetable)
	status := a.Health.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.IsType(t, messaging.Stats{}, status.Info["event_bus"])

	ledger, err := a.Engine.GetLedger(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.Attendance.Current)
}

func TestBuild_SweepThroughScheduler(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	tt := a.Timetable.(*memory.Timetable)
	tt.AddMissed(attendance.MissedClass{
		UserID:      "bob",
		ClassRef:    "algo-7",
		ClassTitle:  "Graphs",
		ScheduledAt: time.Now().Add(-2 * time.Hour),
	})

	sched, err := a.NewScheduler()
	require.NoError(t, err)
	assert.Len(t, sched.ListJobs(), 3)

	_, err = sched.RunNow(context.Background(), "attendance_sweep")
	require.NoError(t, err)

	tasks, err := a.Engine.ListMicroTasks(context.Background(), shared.UserID("bob"), true)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// A second sweep sees nothing new.
	_, err = sched.RunNow(context.Background(), "attendance_sweep")
	require.NoError(t, err)
	tasks, err = a.Engine.ListMicroTasks(context.Background(), shared.UserID("bob"), false)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestBuild_BadCronIsRejected(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Scheduler.GraceResetCron = "every monday"

	a, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.NewScheduler()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly_grace_reset")
}

func TestLoadCatalog(t *testing.T) {
	c, err := loadCatalog("")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("default_type: juggling\n"), 0o600))
	_, err = loadCatalog(bad)
	assert.Error(t, err)
}
