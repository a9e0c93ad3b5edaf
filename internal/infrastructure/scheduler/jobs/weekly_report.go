package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/streak-engine/internal/application/query"
	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// FlagWeeklyReport включает рассылку недельных отчётов.
const FlagWeeklyReport = "reports.weekly"

// SummarySource отдаёт пользователей и их недельные сводки.
type SummarySource interface {
	UserIDs(ctx context.Context) ([]shared.UserID, error)
	WeeklySummary(ctx context.Context, userID shared.UserID) (*query.WeeklySummaryDTO, error)
}

// FlagChecker сообщает, включена ли функция.
type FlagChecker interface {
	IsEnabled(name string) bool
}

// WeeklyReportConfig - настройки отчёта.
type WeeklyReportConfig struct {
	// Concurrency - сколько отчётов строится и отправляется параллельно.
	Concurrency int

	// SkipEmpty - не слать отчёт, если за неделю ничего не произошло.
	SkipEmpty bool
}

// DefaultWeeklyReportConfig возвращает настройки по умолчанию.
func DefaultWeeklyReportConfig() WeeklyReportConfig {
	return WeeklyReportConfig{Concurrency: 4, SkipEmpty: true}
}

// ReportStats - итоги рассылки.
type ReportStats struct {
	Users      int
	Sent       int
	Empty      int
	Suppressed int
	Failed     int
}

// WeeklyReportJob рассылает каждому пользователю недельную сводку:
// серии, очки, новые бейджи и выполненные микро-задачи.
//
// Отправка идёт вне блокировок пользователя: сводка только читает данные.
type WeeklyReportJob struct {
	source   SummarySource
	notifier notification.Notifier
	flags    FlagChecker
	clock    timeutil.Clock
	logger   *logger.Logger
	config   WeeklyReportConfig

	mu   sync.Mutex
	last ReportStats
}

// NewWeeklyReportJob создаёт задачу. flags может быть nil - тогда отчёт включён.
func NewWeeklyReportJob(
	source SummarySource,
	notifier notification.Notifier,
	flags FlagChecker,
	clock timeutil.Clock,
	log *logger.Logger,
	config WeeklyReportConfig,
) *WeeklyReportJob {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultWeeklyReportConfig().Concurrency
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WeeklyReportJob{
		source:   source,
		notifier: notifier,
		flags:    flags,
		clock:    clock,
		logger:   log,
		config:   config,
	}
}

// Name реализует scheduler.Job.
func (j *WeeklyReportJob) Name() string { return "weekly_report" }

// Description реализует scheduler.Job.
func (j *WeeklyReportJob) Description() string {
	return "Sends every user a summary of their week"
}

// Run реализует scheduler.Job. Ошибка по одному пользователю не прерывает рассылку.
func (j *WeeklyReportJob) Run(ctx context.Context) error {
	if j.flags != nil && !j.flags.IsEnabled(FlagWeeklyReport) {
		j.logger.Info("weekly report disabled by flag")
		return nil
	}

	ids, err := j.source.UserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	stats := ReportStats{Users: len(ids)}
	var statsMu sync.Mutex
	count := func(field *int) {
		statsMu.Lock()
		*field++
		statsMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			switch err := j.sendOne(gctx, id); {
			case err == nil:
				count(&stats.Sent)
			case errors.Is(err, errEmptyWeek):
				count(&stats.Empty)
			case notification.IsSuppressed(err):
				count(&stats.Suppressed)
			default:
				count(&stats.Failed)
				j.logger.Warn("weekly report failed", logger.UserID(id.String()), logger.Err(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.mu.Lock()
	j.last = stats
	j.mu.Unlock()

	j.logger.Info("weekly report finished",
		logger.Int("users", stats.Users),
		logger.Int("sent", stats.Sent),
		logger.Int("empty", stats.Empty),
		logger.Int("suppressed", stats.Suppressed),
		logger.Int("failed", stats.Failed),
	)
	return nil
}

// LastStats возвращает итоги последней рассылки.
func (j *WeeklyReportJob) LastStats() ReportStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

var errEmptyWeek = errors.New("empty week")

func (j *WeeklyReportJob) sendOne(ctx context.Context, userID shared.UserID) error {
	summary, err := j.source.WeeklySummary(ctx, userID)
	if err != nil {
		return err
	}
	if j.config.SkipEmpty && summary.IsEmpty() {
		return errEmptyWeek
	}

	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:       uuid.NewString(),
		Type:     notification.TypeWeeklyReport,
		UserID:   userID,
		Title:    "Your week in review",
		Message:  FormatWeeklySummary(summary),
		Metadata: map[string]string{"week_start": summary.WeekStart.String()},
		Now:      j.clock.Now(),
	})
	if err != nil {
		return err
	}
	return j.notifier.Notify(ctx, n)
}

// FormatWeeklySummary рендерит сводку в текст уведомления.
func FormatWeeklySummary(s *query.WeeklySummaryDTO) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Week of %s\n", s.WeekStart.Midnight(time.UTC).Format("Jan 2"))
	fmt.Fprintf(&b, "Attendance streak: %d (best %d)\n", s.Attendance.Current, s.Attendance.Longest)
	fmt.Fprintf(&b, "Task streak: %d (best %d)\n", s.Task.Current, s.Task.Longest)
	fmt.Fprintf(&b, "Points: %d\n", s.TotalPoints)
	if s.MicroTasksCompleted > 0 {
		fmt.Fprintf(&b, "Micro-tasks completed: %d\n", s.MicroTasksCompleted)
	}
	if len(s.BadgesThisWeek) > 0 {
		names := make([]string, len(s.BadgesThisWeek))
		for i, badge := range s.BadgesThisWeek {
			names[i] = badge.Icon + " " + badge.Name
		}
		b.WriteString("New badges: " + strings.Join(names, ", ") + "\n")
	}
	if s.GraceUsed {
		b.WriteString("Grace day used this week.\n")
	} else {
		b.WriteString("Grace day still available.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
