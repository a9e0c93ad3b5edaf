package app

import (
	"fmt"

	"github.com/alem-hub/streak-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/streak-engine/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// NewScheduler создаёт планировщик в часовом поясе движка и регистрирует
// фоновые задачи: обход посещаемости, сброс недельного пропуска и
// недельный отчёт.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	cfg := a.Config
	loc := cfg.App.Location

	s := scheduler.New(scheduler.Config{
		Logger:     a.Logger,
		Clock:      a.Clock,
		Timezone:   loc,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Locker:     a.JobLocker,
	})

	jobLog := a.Logger.Named("jobs")
	entries := []struct {
		job  scheduler.Job
		cron string // cron или "@every <duration>"
	}{
		{
			job: jobs.NewAttendanceSweepJob(a.Timetable, a.Engine, a.Clock, jobLog, jobs.AttendanceSweepConfig{
				Concurrency: cfg.Scheduler.WorkerConcurrency,
				Lookback:    cfg.Scheduler.SweepLookback,
			}),
			cron: cfg.Scheduler.SweepCron,
		},
		{
			job:  jobs.NewWeeklyGraceResetJob(a.Engine),
			cron: cfg.Scheduler.GraceResetCron,
		},
		{
			job: jobs.NewWeeklyReportJob(a.Engine, a.Notifier, cfg.Features, a.Clock, jobLog, jobs.WeeklyReportConfig{
				Concurrency: cfg.Scheduler.WorkerConcurrency,
				SkipEmpty:   true,
			}),
			cron: cfg.Scheduler.WeeklyReportCron,
		},
	}

	for _, e := range entries {
		schedule, err := scheduler.ParseSchedule(e.cron, loc)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", e.job.Name(), err)
		}
		if err := s.Register(e.job, schedule); err != nil {
			return nil, fmt.Errorf("register %s: %w", e.job.Name(), err)
		}
		a.Logger.Info("job registered",
			logger.Job(e.job.Name()),
			logger.String("schedule", schedule.String()),
		)
	}
	return s, nil
}
