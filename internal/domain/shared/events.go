package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published only after the state change
// that produced them has been committed.
const (
	// Streak events
	EventStreakUpdated  EventType = "streak.updated"
	EventStreakBroken   EventType = "streak.broken"
	EventStreakRestored EventType = "streak.restored"
	EventBadgeEarned    EventType = "badge.earned"

	// Grace events
	EventGraceConsumed EventType = "grace.consumed"
	EventGraceReset    EventType = "grace.reset"

	// Micro-task events
	EventMicroTaskCreated   EventType = "microtask.created"
	EventMicroTaskCompleted EventType = "microtask.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given instant.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted when a streak track advances or is preserved by grace.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	Track          string `json:"track"`
	Current        int    `json:"current"`
	Longest        int    `json:"longest"`
	PointsAwarded  int    `json:"points_awarded"`
	GracePreserved bool   `json:"grace_preserved"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"track":           e.Track,
		"current":         e.Current,
		"longest":         e.Longest,
		"points_awarded":  e.PointsAwarded,
		"grace_preserved": e.GracePreserved,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID, track string, current, longest, points int, grace bool, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, userID, at),
		UserID:         userID,
		Track:          track,
		Current:        current,
		Longest:        longest,
		PointsAwarded:  points,
		GracePreserved: grace,
	}
}

// StreakBrokenEvent is emitted when a streak track resets to zero.
type StreakBrokenEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	Track          string `json:"track"`
	PreviousStreak int    `json:"previous_streak"`
	Longest        int    `json:"longest"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"track":           e.Track,
		"previous_streak": e.PreviousStreak,
		"longest":         e.Longest,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(userID, track string, previous, longest int, at time.Time) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID, at),
		UserID:         userID,
		Track:          track,
		PreviousStreak: previous,
		Longest:        longest,
	}
}

// StreakRestoredEvent is emitted when completed micro-tasks restore the attendance streak.
type StreakRestoredEvent struct {
	BaseEvent
	UserID        string   `json:"user_id"`
	RestoredTo    int      `json:"restored_to"`
	BonusPoints   int      `json:"bonus_points"`
	ConsumedTasks []string `json:"consumed_tasks"`
}

// Payload implements Event interface.
func (e StreakRestoredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"restored_to":    e.RestoredTo,
		"bonus_points":   e.BonusPoints,
		"consumed_tasks": e.ConsumedTasks,
	}
}

// NewStreakRestoredEvent creates a new StreakRestoredEvent.
func NewStreakRestoredEvent(userID string, restoredTo, bonus int, consumed []string, at time.Time) StreakRestoredEvent {
	return StreakRestoredEvent{
		BaseEvent:     NewBaseEvent(EventStreakRestored, userID, at),
		UserID:        userID,
		RestoredTo:    restoredTo,
		BonusPoints:   bonus,
		ConsumedTasks: consumed,
	}
}

// BadgeEarnedEvent is emitted once per newly appended badge.
type BadgeEarnedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	BadgeName   string `json:"badge_name"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
}

// Payload implements Event interface.
func (e BadgeEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"badge_name":  e.BadgeName,
		"description": e.Description,
		"icon":        e.Icon,
	}
}

// NewBadgeEarnedEvent creates a new BadgeEarnedEvent.
func NewBadgeEarnedEvent(userID, name, description, icon string, at time.Time) BadgeEarnedEvent {
	return BadgeEarnedEvent{
		BaseEvent:   NewBaseEvent(EventBadgeEarned, userID, at),
		UserID:      userID,
		BadgeName:   name,
		Description: description,
		Icon:        icon,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Grace Events
// ═══════════════════════════════════════════════════════════════════════════

// GraceConsumedEvent is emitted when the weekly grace shields a missed class.
type GraceConsumedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Date   Date   `json:"date"`
}

// Payload implements Event interface.
func (e GraceConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"date":    e.Date.String(),
	}
}

// NewGraceConsumedEvent creates a new GraceConsumedEvent.
func NewGraceConsumedEvent(userID string, date Date, at time.Time) GraceConsumedEvent {
	return GraceConsumedEvent{
		BaseEvent: NewBaseEvent(EventGraceConsumed, userID, at),
		UserID:    userID,
		Date:      date,
	}
}

// GraceResetEvent is emitted once per weekly reset run.
type GraceResetEvent struct {
	BaseEvent
	UsersReset int64 `json:"users_reset"`
}

// Payload implements Event interface.
func (e GraceResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"users_reset": e.UsersReset,
	}
}

// NewGraceResetEvent creates a new GraceResetEvent.
func NewGraceResetEvent(usersReset int64, at time.Time) GraceResetEvent {
	return GraceResetEvent{
		BaseEvent:  NewBaseEvent(EventGraceReset, "system", at),
		UsersReset: usersReset,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Micro-task Events
// ═══════════════════════════════════════════════════════════════════════════

// MicroTaskCreatedEvent is emitted when a remediation task is issued.
type MicroTaskCreatedEvent struct {
	BaseEvent
	UserID           string    `json:"user_id"`
	TaskID           string    `json:"task_id"`
	TaskType         string    `json:"task_type"`
	Title            string    `json:"title"`
	RelatedClassID   string    `json:"related_class_id"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Payload implements Event interface.
func (e MicroTaskCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":           e.UserID,
		"task_id":           e.TaskID,
		"task_type":         e.TaskType,
		"title":             e.Title,
		"related_class_id":  e.RelatedClassID,
		"estimated_minutes": e.EstimatedMinutes,
		"expires_at":        e.ExpiresAt.Format(time.RFC3339),
	}
}

// NewMicroTaskCreatedEvent creates a new MicroTaskCreatedEvent.
func NewMicroTaskCreatedEvent(userID, taskID, taskType, title, classID string, minutes int, expiresAt, at time.Time) MicroTaskCreatedEvent {
	return MicroTaskCreatedEvent{
		BaseEvent:        NewBaseEvent(EventMicroTaskCreated, userID, at),
		UserID:           userID,
		TaskID:           taskID,
		TaskType:         taskType,
		Title:            title,
		RelatedClassID:   classID,
		EstimatedMinutes: minutes,
		ExpiresAt:        expiresAt,
	}
}

// MicroTaskCompletedEvent is emitted when a user finishes a micro-task.
type MicroTaskCompletedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
}

// Payload implements Event interface.
func (e MicroTaskCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"task_id":   e.TaskID,
		"task_type": e.TaskType,
	}
}

// NewMicroTaskCompletedEvent creates a new MicroTaskCompletedEvent.
func NewMicroTaskCompletedEvent(userID, taskID, taskType string, at time.Time) MicroTaskCompletedEvent {
	return MicroTaskCompletedEvent{
		BaseEvent: NewBaseEvent(EventMicroTaskCompleted, userID, at),
		UserID:    userID,
		TaskID:    taskID,
		TaskType:  taskType,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event's payload into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	raw, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     raw,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env, nil
}

// Correlation exposes the correlation ID to envelope construction.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// OriginSubscriber is implemented by buses that relay events between
// processes. A handler registered with SubscribeOrigin sees only events
// published by its own process, so every event reaches it exactly once
// across all running instances.
type OriginSubscriber interface {
	SubscribeOrigin(eventType EventType, handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PublishAll publishes events in order and returns the first error.
// Every event is attempted even when an earlier one fails.
func PublishAll(p EventPublisher, events []Event) error {
	if p == nil {
		return nil
	}
	var first error
	for _, e := range events {
		if err := p.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DecodeEvent rebuilds a typed event from its JSON encoding.
func DecodeEvent(eventType EventType, data []byte) (Event, error) {
	var (
		e   Event
		err error
	)
	switch eventType {
	case EventStreakUpdated:
		e, err = decodeAs[StreakUpdatedEvent](data)
	case EventStreakBroken:
		e, err = decodeAs[StreakBrokenEvent](data)
	case EventStreakRestored:
		e, err = decodeAs[StreakRestoredEvent](data)
	case EventBadgeEarned:
		e, err = decodeAs[BadgeEarnedEvent](data)
	case EventGraceConsumed:
		e, err = decodeAs[GraceConsumedEvent](data)
	case EventGraceReset:
		e, err = decodeAs[GraceResetEvent](data)
	case EventMicroTaskCreated:
		e, err = decodeAs[MicroTaskCreatedEvent](data)
	case EventMicroTaskCompleted:
		e, err = decodeAs[MicroTaskCompletedEvent](data)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return e, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
