package jobs

import (
	"context"
	"fmt"

	"github.com/alem-hub/streak-engine/pkg/logger"
)

// GraceResetter снимает флаг недельного пропуска у всех пользователей.
type GraceResetter interface {
	ResetWeeklyGrace(ctx context.Context) (int64, error)
}

// WeeklyGraceResetJob выполняет сброс в начале недели (понедельник 00:00
// в часовом поясе движка). Повторный запуск ничего не меняет.
type WeeklyGraceResetJob struct {
	resetter GraceResetter
}

// NewWeeklyGraceResetJob создаёт задачу.
func NewWeeklyGraceResetJob(resetter GraceResetter) *WeeklyGraceResetJob {
	return &WeeklyGraceResetJob{resetter: resetter}
}

// Name реализует scheduler.Job.
func (j *WeeklyGraceResetJob) Name() string { return "weekly_grace_reset" }

// Description реализует scheduler.Job.
func (j *WeeklyGraceResetJob) Description() string {
	return "Clears the weekly grace flag for every user"
}

// Run реализует scheduler.Job.
func (j *WeeklyGraceResetJob) Run(ctx context.Context) error {
	n, err := j.resetter.ResetWeeklyGrace(ctx)
	if err != nil {
		return fmt.Errorf("reset weekly grace: %w", err)
	}
	logger.FromContext(ctx).Info("weekly grace reset", logger.Int64("users_reset", n))
	return nil
}
