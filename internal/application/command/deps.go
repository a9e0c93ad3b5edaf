// Package command contains write operations (CQRS - Commands).
//
// Every handler follows the same shape: validate, take the per-user lock,
// run the domain transition inside one unit of work, release the lock,
// then publish events. Nothing in a handler performs network I/O while
// the user's records are locked.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// UserLocker serializes work on one user across processes.
// Implementations return shared.ErrConcurrentModification when the lock
// cannot be acquired.
type UserLocker interface {
	LockUser(ctx context.Context, userID shared.UserID) (unlock func(), err error)
}

// LedgerCache is a read-through cache of ledgers. Commands only invalidate it.
type LedgerCache interface {
	Get(ctx context.Context, userID shared.UserID) (*streak.Ledger, error)
	Set(ctx context.Context, ledger *streak.Ledger) error
	Invalidate(ctx context.Context, userID shared.UserID) error
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Deps holds what every command handler needs.
type Deps struct {
	Store     streak.Store
	Publisher shared.EventPublisher
	Clock     timeutil.Clock
	Location  *time.Location
	Policy    streak.Policy
	Logger    *logger.Logger

	// Optional.
	Locker UserLocker
	Cache  LedgerCache
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Policy == (streak.Policy{}) {
		d.Policy = streak.DefaultPolicy()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// Today returns the current calendar day in the configured location.
func (d Deps) Today() shared.Date {
	return shared.DateOf(d.Clock.Now(), d.Location)
}

// execute runs fn as one unit of work for userID and publishes the returned
// events after the lock is released. Publish failures are logged; the state
// change is already committed.
func (d Deps) execute(ctx context.Context, op string, userID shared.UserID, fn func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error)) error {
	var events []shared.Event

	err := func() error {
		if d.Locker != nil && userID != "" {
			unlock, err := d.Locker.LockUser(ctx, userID)
			switch {
			case err == nil:
				defer unlock()
			case errors.Is(err, shared.ErrConcurrentModification), ctx.Err() != nil:
				return err
			default:
				// The store still serializes the user; the lock only spans processes.
				d.Logger.Warn("user lock unavailable, relying on store serialization",
					logger.Operation(op), logger.UserID(userID.String()), logger.Err(err))
			}
		}
		return d.Store.Atomic(ctx, userID, func(ctx context.Context, repos streak.Repositories) error {
			var err error
			events, err = fn(ctx, repos)
			return err
		})
	}()
	if err != nil {
		return err
	}

	if d.Cache != nil && userID != "" {
		if err := d.Cache.Invalidate(ctx, userID); err != nil {
			d.Logger.Warn("ledger cache invalidation failed",
				logger.Operation(op), logger.UserID(userID.String()), logger.Err(err))
		}
	}

	if err := shared.PublishAll(d.Publisher, events); err != nil {
		d.Logger.Warn("event publish failed",
			logger.Operation(op), logger.UserID(userID.String()), logger.Err(err))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LAZY CREATION
// ══════════════════════════════════════════════════════════════════════════════

// EnsureLedger loads the user's ledger, creating an empty one on first access.
// The second return value is true when the ledger was created.
func EnsureLedger(ctx context.Context, repos streak.Repositories, userID shared.UserID, now time.Time) (*streak.Ledger, bool, error) {
	l, err := repos.Ledgers().Get(ctx, userID)
	if err == nil {
		return l, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}
	l, err = streak.NewLedger(userID, now)
	if err != nil {
		return nil, false, err
	}
	if err := repos.Ledgers().Save(ctx, l); err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// EnsureGrace loads the user's grace state, creating an unused one on first access.
func EnsureGrace(ctx context.Context, repos streak.Repositories, userID shared.UserID, now time.Time) (*streak.GraceState, error) {
	g, err := repos.Grace().Get(ctx, userID)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	g, err = streak.NewGraceState(userID, now)
	if err != nil {
		return nil, err
	}
	if err := repos.Grace().Save(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}
