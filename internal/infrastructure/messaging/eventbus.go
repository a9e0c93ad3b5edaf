// Package messaging implements the event bus used to fan streak engine
// events out to notification and audit handlers.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events to handlers in-process.
// In async mode handlers run on a bounded worker pool, so Publish never
// blocks on a slow handler.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	closed      bool

	asyncMode  bool
	workerPool chan struct{}
	closeCh    chan struct{}
	wg         sync.WaitGroup

	logger      *logger.Logger
	metrics     *counters
	deadLetters *DeadLetterQueue
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode enables asynchronous event processing.
	AsyncMode bool

	// WorkerPoolSize is the number of concurrent handler executions.
	WorkerPoolSize int

	// DeadLetterSize bounds the failed-delivery buffer. Zero disables it.
	DeadLetterSize int

	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		DeadLetterSize: 100,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	b := &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		closeCh:    make(chan struct{}),
		logger:     config.Logger.With(logger.Component("event_bus")),
		metrics:    &counters{},
	}
	if config.DeadLetterSize > 0 {
		b.deadLetters = NewDeadLetterQueue(config.DeadLetterSize)
	}
	return b
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", logger.String("event_type", string(eventType)))
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers. Handler failures are
// logged and recorded, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	b.metrics.published.Add(1)
	if len(handlers) == 0 {
		return nil
	}

	for _, h := range handlers {
		if b.asyncMode {
			b.executeAsync(event, h)
			continue
		}
		b.execute(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}
		b.execute(event, handler)
	}()
}

func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	err := safeCall(handler, event)
	b.metrics.record(err == nil)

	if err != nil {
		b.logger.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		if b.deadLetters != nil {
			b.deadLetters.Add(event, err)
		}
	}
}

func safeCall(handler shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(event)
}

// Drain waits until every in-flight async handler has finished.
func (b *InMemoryEventBus) Drain() {
	b.wg.Wait()
}

// Close stops accepting events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.closeCh)
	b.logger.Info("event bus closed")
	return nil
}

// Stats returns the delivery counters and the newest dead letter.
func (b *InMemoryEventBus) Stats() Stats {
	st := Stats{
		Published: b.metrics.published.Load(),
		Succeeded: b.metrics.succeeded.Load(),
		Failed:    b.metrics.failed.Load(),
	}
	if b.deadLetters != nil {
		entries := b.deadLetters.Entries()
		st.DeadLetters = len(entries)
		if n := len(entries); n > 0 {
			st.LastFailure = entries[n-1].Error
		}
	}
	return st
}

// DeadLetters returns the failed-delivery buffer, or nil when disabled.
func (b *InMemoryEventBus) DeadLetters() *DeadLetterQueue { return b.deadLetters }

// Stats is reported under "event_bus" on GET /health.
type Stats struct {
	Published   int64  `json:"published"`
	Succeeded   int64  `json:"succeeded"`
	Failed      int64  `json:"failed"`
	DeadLetters int    `json:"dead_letters"`
	LastFailure string `json:"last_failure,omitempty"`
}

// merge adds o's counters; the newest failure of either side wins when set.
func (s Stats) merge(o Stats) Stats {
	s.Published += o.Published
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.DeadLetters += o.DeadLetters
	if o.LastFailure != "" {
		s.LastFailure = o.LastFailure
	}
	return s
}

type counters struct {
	published atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func (m *counters) record(ok bool) {
	if ok {
		m.succeeded.Add(1)
		return
	}
	m.failed.Add(1)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is one failed delivery.
type DeadLetterEntry struct {
	Event    shared.Event
	Error    string
	FailedAt time.Time
}

// DeadLetterQueue keeps the most recent failed deliveries.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add records a failure, evicting the oldest entry when full.
func (q *DeadLetterQueue) Add(event shared.Event, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, DeadLetterEntry{Event: event, Error: err.Error(), FailedAt: time.Now()})
}

// Entries returns a copy of the queue contents, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
