package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COUNTER
// ══════════════════════════════════════════════════════════════════════════════

// Counter increments an expiring per-key counter and returns the new value.
// Decr gives one unit back and never creates or revives a key.
// The Redis DailyCounter implements it for multi-instance deployments.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) error
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	entries map[string]counterEntry
}

type counterEntry struct {
	n         int64
	expiresAt time.Time
}

// NewMemoryCounter creates a counter. A nil clock uses the system clock.
func NewMemoryCounter(clock timeutil.Clock) *MemoryCounter {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &MemoryCounter{clock: clock, entries: make(map[string]counterEntry)}
}

// Incr implements Counter. Expired entries are dropped lazily.
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	e := c.entries[key]
	if e.n == 0 {
		e.expiresAt = now.Add(ttl)
	}
	e.n++
	c.entries[key] = e
	return e.n, nil
}

// Decr implements Counter.
func (c *MemoryCounter) Decr(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.n == 0 || !c.clock.Now().Before(e.expiresAt) {
		return nil
	}
	e.n--
	c.entries[key] = e
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GATE
// ══════════════════════════════════════════════════════════════════════════════

// GateConfig configures a Gate.
type GateConfig struct {
	QuietHours notification.QuietHours
	DailyCap   notification.DailyCap

	// Counter backs the daily cap. Defaults to a MemoryCounter.
	Counter Counter

	// RatePerSecond caps sends across all users. Zero disables the limit.
	RatePerSecond float64
	Burst         int

	Clock  timeutil.Clock
	Logger *logger.Logger
}

// Gate applies delivery policy before handing a notification to the next
// Notifier. A dropped notification returns shared.ErrNotificationSuppressed.
type Gate struct {
	next    notification.Notifier
	quiet   notification.QuietHours
	cap     notification.DailyCap
	counter Counter
	limiter *rate.Limiter
	clock   timeutil.Clock
	logger  *logger.Logger
}

var _ notification.Notifier = (*Gate)(nil)

// NewGate wraps next.
func NewGate(next notification.Notifier, cfg GateConfig) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Counter == nil {
		cfg.Counter = NewMemoryCounter(cfg.Clock)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.QuietHours.Location == nil {
		cfg.QuietHours.Location = time.UTC
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Gate{
		next:    next,
		quiet:   cfg.QuietHours,
		cap:     cfg.DailyCap,
		counter: cfg.Counter,
		limiter: limiter,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With(logger.Component("notify_gate")),
	}
}

// Notify checks quiet hours, waits for the global rate limiter, then takes
// one unit of the user's daily cap and delivers. A failed delivery gives
// the unit back, so only sent notifications count toward the cap.
func (g *Gate) Notify(ctx context.Context, n *notification.Notification) error {
	now := g.clock.Now()

	if g.quiet.Contains(now) {
		return fmt.Errorf("%w: quiet hours until %s", shared.ErrNotificationSuppressed,
			g.quiet.NextAllowed(now).Format(time.RFC3339))
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	counted := false
	capKey := g.cap.Key(n.UserID, now)
	if g.cap.Max > 0 {
		count, err := g.counter.Incr(ctx, capKey, g.cap.TTL(now))
		switch {
		case err != nil:
			// Fail open.
			g.logger.Warn("daily cap counter unavailable",
				logger.UserID(n.UserID.String()),
				logger.Err(err),
			)
		case g.cap.IsExceeded(count):
			return fmt.Errorf("%w: daily cap of %d reached", shared.ErrNotificationSuppressed, g.cap.Max)
		default:
			counted = true
		}
	}

	if err := g.next.Notify(ctx, n); err != nil {
		if counted {
			g.refund(n.UserID, capKey)
		}
		return err
	}
	return nil
}

func (g *Gate) refund(userID shared.UserID, key string) {
	// The caller's ctx may be the reason delivery failed.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.counter.Decr(ctx, key); err != nil {
		g.logger.Warn("daily cap refund failed",
			logger.UserID(userID.String()),
			logger.Err(err),
		)
	}
}
