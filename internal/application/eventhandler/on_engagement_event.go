// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ENGAGEMENT NOTIFICATION HANDLER
// Превращает события движка серий в уведомления пользователю.
//
// Вызывается шиной событий асинхронно, уже после фиксации изменений и
// снятия блокировки пользователя, поэтому сетевой ввод-вывод здесь допустим.
// ═══════════════════════════════════════════════════════════════════════════

// FlagNotifications выключает все уведомления по событиям.
const FlagNotifications = "notifications.enabled"

// Flags сообщает, включена ли функция.
type Flags interface {
	IsEnabled(name string) bool
}

// NotifyConfig содержит конфигурацию обработчика.
type NotifyConfig struct {
	// Flags - необязательный источник флагов; без него уведомления включены.
	Flags Flags

	// NotifyOnBrokenStreak - уведомлять ли о прерванной серии посещаемости.
	NotifyOnBrokenStreak bool

	// NotifyOnGrace - уведомлять ли об использовании недельного пропуска.
	NotifyOnGrace bool

	// SendTimeout - таймаут одной отправки.
	SendTimeout time.Duration
}

// DefaultNotifyConfig возвращает конфигурацию по умолчанию.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		NotifyOnBrokenStreak: true,
		NotifyOnGrace:        true,
		SendTimeout:          10 * time.Second,
	}
}

// NotifyHandler отправляет уведомления по событиям.
type NotifyHandler struct {
	notifier notification.Notifier
	logger   *logger.Logger
	config   NotifyConfig
	now      func() time.Time
}

// NewNotifyHandler создаёт обработчик.
func NewNotifyHandler(notifier notification.Notifier, log *logger.Logger, config NotifyConfig) *NotifyHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultNotifyConfig().SendTimeout
	}
	return &NotifyHandler{
		notifier: notifier,
		logger:   log.With(logger.Component("notify_handler")),
		config:   config,
		now:      time.Now,
	}
}

// EventTypes возвращает типы событий, на которые подписан обработчик.
func (h *NotifyHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventMicroTaskCreated,
		shared.EventStreakBroken,
		shared.EventStreakRestored,
		shared.EventBadgeEarned,
		shared.EventGraceConsumed,
	}
}

// Register подписывает обработчик на шину. Если шина пересылает события
// между процессами, обработчик получает только события своего процесса:
// иначе одно событие дало бы по уведомлению на каждый запущенный процесс.
func (h *NotifyHandler) Register(sub shared.EventSubscriber) error {
	subscribe := sub.Subscribe
	if origin, ok := sub.(shared.OriginSubscriber); ok {
		subscribe = origin.SubscribeOrigin
	}
	for _, t := range h.EventTypes() {
		if err := subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
// Отброшенное политикой уведомление не считается ошибкой.
func (h *NotifyHandler) Handle(event shared.Event) error {
	if h.config.Flags != nil && !h.config.Flags.IsEnabled(FlagNotifications) {
		return nil
	}
	params, ok := h.build(event)
	if !ok {
		return nil
	}
	params.ID = uuid.NewString()
	params.Now = h.now()

	n, err := notification.NewNotification(params)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, n); err != nil {
		if notification.IsSuppressed(err) {
			h.logger.Debug("notification suppressed",
				logger.UserID(n.UserID.String()),
				logger.String("type", string(n.Type)),
				logger.Err(err),
			)
			return nil
		}
		return fmt.Errorf("notify %s: %w", n.Type, err)
	}
	return nil
}

// build формирует уведомление по событию. false - уведомлять не нужно.
func (h *NotifyHandler) build(event shared.Event) (notification.NewNotificationParams, bool) {
	switch e := event.(type) {
	case shared.MicroTaskCreatedEvent:
		return notification.NewNotificationParams{
			Type:    notification.TypeMissedClass,
			UserID:  shared.UserID(e.UserID),
			Title:   "We missed you in class",
			Message: fmt.Sprintf("%s (about %d min). Finish it within 48 hours to keep your streak alive.", e.Title, e.EstimatedMinutes),
			Metadata: map[string]string{
				"task_id":  e.TaskID,
				"class_id": e.RelatedClassID,
			},
		}, true

	case shared.StreakBrokenEvent:
		if !h.config.NotifyOnBrokenStreak || e.Track != "attendance" || e.PreviousStreak == 0 {
			return notification.NewNotificationParams{}, false
		}
		return notification.NewNotificationParams{
			Type:    notification.TypeStreakBroken,
			UserID:  shared.UserID(e.UserID),
			Title:   "Your streak was reset",
			Message: fmt.Sprintf("Your %d-day attendance streak ended. Complete two micro-tasks within 48 hours to win back %d days.", e.PreviousStreak, e.Longest/2),
		}, true

	case shared.StreakRestoredEvent:
		return notification.NewNotificationParams{
			Type:    notification.TypeStreakRestored,
			UserID:  shared.UserID(e.UserID),
			Title:   "Streak restored",
			Message: fmt.Sprintf("Nice comeback! Your attendance streak is back to %d days and you earned %d bonus points.", e.RestoredTo, e.BonusPoints),
		}, true

	case shared.BadgeEarnedEvent:
		return notification.NewNotificationParams{
			Type:    notification.TypeBadgeEarned,
			UserID:  shared.UserID(e.UserID),
			Title:   "New badge: " + e.BadgeName,
			Message: fmt.Sprintf("%s %s: %s", e.Icon, e.BadgeName, e.Description),
			Metadata: map[string]string{
				"badge": e.BadgeName,
			},
		}, true

	case shared.GraceConsumedEvent:
		if !h.config.NotifyOnGrace {
			return notification.NewNotificationParams{}, false
		}
		return notification.NewNotificationParams{
			Type:    notification.TypeGraceUsed,
			UserID:  shared.UserID(e.UserID),
			Title:   "Grace day used",
			Message: "You missed a class, but your weekly grace day kept your streak safe. It renews on Monday.",
		}, true

	default:
		h.logger.Debug("event ignored", logger.String("event_type", string(event.EventType())))
		return notification.NewNotificationParams{}, false
	}
}
