// Package jobs содержит периодические задачи движка серий: обход
// пропущенных занятий, недельный сброс пропусков и недельный отчёт.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/streak-engine/internal/application/engagement"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// MissedClassHandler обрабатывает одно пропущенное занятие.
type MissedClassHandler interface {
	HandleMissedClass(ctx context.Context, m attendance.MissedClass) (*engagement.MissedClassResult, error)
}

// AttendanceSweepConfig - настройки обхода.
type AttendanceSweepConfig struct {
	// Concurrency - сколько пользователей обрабатывается параллельно.
	Concurrency int

	// Lookback - глубина первого обхода после запуска процесса.
	Lookback time.Duration
}

// DefaultAttendanceSweepConfig возвращает настройки по умолчанию.
func DefaultAttendanceSweepConfig() AttendanceSweepConfig {
	return AttendanceSweepConfig{
		Concurrency: 8,
		Lookback:    24 * time.Hour,
	}
}

// SweepStats - итоги одного обхода.
type SweepStats struct {
	From          time.Time
	To            time.Time
	Classes       int
	Users         int
	Processed     int
	GraceConsumed int
	StreaksBroken int
	TasksCreated  int
	Failed        int
	Duration      time.Duration
}

// AttendanceSweepJob забирает из расписания пропущенные занятия с прошлого
// обхода и прогоняет каждое через конвейер: пропуск дня, недельный пропуск,
// микро-задача.
//
// Ошибка по одному пользователю пишется в лог и не останавливает обход.
// Повторная выдача занятия безопасна: день и задача идемпотентны.
type AttendanceSweepJob struct {
	feed    attendance.Feed
	handler MissedClassHandler
	clock   timeutil.Clock
	logger  *logger.Logger
	config  AttendanceSweepConfig

	mu        sync.Mutex
	watermark time.Time

	lastStats atomic.Value // *SweepStats
}

// NewAttendanceSweepJob создаёт задачу обхода.
func NewAttendanceSweepJob(
	feed attendance.Feed,
	handler MissedClassHandler,
	clock timeutil.Clock,
	log *logger.Logger,
	config AttendanceSweepConfig,
) *AttendanceSweepJob {
	def := DefaultAttendanceSweepConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AttendanceSweepJob{
		feed:    feed,
		handler: handler,
		clock:   clock,
		logger:  log,
		config:  config,
	}
}

// Name реализует scheduler.Job.
func (j *AttendanceSweepJob) Name() string { return "attendance_sweep" }

// Description реализует scheduler.Job.
func (j *AttendanceSweepJob) Description() string {
	return "Records missed classes since the last sweep and issues micro-tasks"
}

// Run выполняет один обход. Окно [watermark, now) сдвигается только если
// расписание удалось прочитать.
func (j *AttendanceSweepJob) Run(ctx context.Context) error {
	startedAt := j.clock.Now()

	j.mu.Lock()
	from := j.watermark
	j.mu.Unlock()
	if from.IsZero() {
		from = startedAt.Add(-j.config.Lookback)
	}

	classes, err := j.feed.MissedBetween(ctx, from, startedAt)
	if err != nil {
		return fmt.Errorf("read missed classes: %w", err)
	}

	byUser := groupByUser(classes)
	stats := &SweepStats{From: from, To: startedAt, Classes: len(classes), Users: len(byUser)}
	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, userClasses := range byUser {
		userClasses := userClasses
		g.Go(func() error {
			for _, m := range userClasses {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res, err := j.handler.HandleMissedClass(gctx, m)

				statsMu.Lock()
				j.record(stats, m, res, err)
				statsMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.mu.Lock()
	j.watermark = startedAt
	j.mu.Unlock()

	stats.Duration = j.clock.Now().Sub(startedAt)
	j.lastStats.Store(stats)

	j.logger.Info("attendance sweep finished",
		logger.Int("classes", stats.Classes),
		logger.Int("users", stats.Users),
		logger.Int("processed", stats.Processed),
		logger.Int("tasks_created", stats.TasksCreated),
		logger.Int("failed", stats.Failed),
	)
	return nil
}

// record must be called with the stats lock held.
func (j *AttendanceSweepJob) record(stats *SweepStats, m attendance.MissedClass, res *engagement.MissedClassResult, err error) {
	if res != nil && res.Attendance != nil {
		if res.Attendance.GraceConsumed {
			stats.GraceConsumed++
		}
		if res.Attendance.Outcome.Broken {
			stats.StreaksBroken++
		}
	}
	if res != nil && res.Task != nil && res.Task.Created {
		stats.TasksCreated++
	}
	if err != nil {
		stats.Failed++
		j.logger.Warn("missed class skipped",
			logger.UserID(m.UserID.String()),
			logger.String("class_ref", m.ClassRef),
			logger.Err(err),
		)
		return
	}
	stats.Processed++
}

// LastStats возвращает итоги последнего успешного обхода или nil.
func (j *AttendanceSweepJob) LastStats() *SweepStats {
	if s, ok := j.lastStats.Load().(*SweepStats); ok {
		return s
	}
	return nil
}

// Watermark возвращает конец последнего обработанного окна.
func (j *AttendanceSweepJob) Watermark() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.watermark
}

// groupByUser сохраняет порядок занятий внутри пользователя.
func groupByUser(classes []attendance.MissedClass) map[shared.UserID][]attendance.MissedClass {
	sorted := make([]attendance.MissedClass, len(classes))
	copy(sorted, classes)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].ScheduledAt.Before(sorted[b].ScheduledAt) })

	out := make(map[shared.UserID][]attendance.MissedClass)
	for _, m := range sorted {
		out[m.UserID] = append(out[m.UserID], m)
	}
	return out
}
