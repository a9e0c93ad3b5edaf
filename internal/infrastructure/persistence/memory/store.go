// Package memory provides an in-process implementation of the streak store.
// It backs tests and local development; production deployments use postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps ledgers, grace states and micro-tasks in maps.
//
// Per-user units of work hold a per-user mutex plus a shared hold on the
// global lock; bulk units of work (empty user id) hold the global lock
// exclusively. Writes inside a unit of work are staged and applied only
// when fn returns nil.
type Store struct {
	global sync.RWMutex
	users  *keyedMutex

	mu      sync.RWMutex
	ledgers map[shared.UserID]*streak.Ledger
	grace   map[shared.UserID]*streak.GraceState
	tasks   map[string]*microtask.MicroTask
}

var _ streak.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:   newKeyedMutex(),
		ledgers: make(map[shared.UserID]*streak.Ledger),
		grace:   make(map[shared.UserID]*streak.GraceState),
		tasks:   make(map[string]*microtask.MicroTask),
	}
}

// Ledgers returns a non-transactional ledger repository.
func (s *Store) Ledgers() streak.LedgerRepository { return ledgerRepo{s: s} }

// Grace returns a non-transactional grace repository.
func (s *Store) Grace() streak.GraceRepository { return graceRepo{s: s} }

// MicroTasks returns a non-transactional micro-task repository.
func (s *Store) MicroTasks() microtask.Repository { return taskRepo{s: s} }

// Atomic runs fn as a single unit of work.
func (s *Store) Atomic(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos streak.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if userID == "" {
		s.global.Lock()
		defer s.global.Unlock()
	} else {
		s.global.RLock()
		defer s.global.RUnlock()
		unlock := s.users.Lock(userID)
		defer unlock()
	}

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Seed stores a ledger directly. Intended for tests and fixtures.
func (s *Store) Seed(l *streak.Ledger, g *streak.GraceState, tasks ...*microtask.MicroTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.ledgers[l.UserID] = l.Clone()
	}
	if g != nil {
		gc := *g
		s.grace[g.UserID] = &gc
	}
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READ/WRITE PRIMITIVES (caller holds no s.mu)
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) getLedger(userID shared.UserID) (*streak.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers[userID]
	if !ok {
		return nil, shared.ErrLedgerNotFound
	}
	return l.Clone(), nil
}

func (s *Store) putLedger(l *streak.Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := l.Clone()
	if prev, ok := s.ledgers[l.UserID]; ok {
		c.Version = prev.Version + 1
	} else {
		c.Version = 1
	}
	l.Version = c.Version
	s.ledgers[l.UserID] = c
}

func (s *Store) getGrace(userID shared.UserID) (*streak.GraceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grace[userID]
	if !ok {
		return nil, shared.ErrGraceNotFound
	}
	c := *g
	return &c, nil
}

func (s *Store) putGrace(g *streak.GraceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *g
	s.grace[g.UserID] = &c
}

func (s *Store) getTask(id string) (*microtask.MicroTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, shared.ErrMicroTaskNotFound
	}
	return t.Clone(), nil
}

func (s *Store) putTask(t *microtask.MicroTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
}

func (s *Store) userTasks(userID shared.UserID) []*microtask.MicroTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*microtask.MicroTask
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Store) userIDs() []shared.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]shared.UserID, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) graceSnapshot() []*streak.GraceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*streak.GraceState, 0, len(s.grace))
	for _, g := range s.grace {
		c := *g
		out = append(out, &c)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECT REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Get(_ context.Context, userID shared.UserID) (*streak.Ledger, error) {
	return r.s.getLedger(userID)
}

func (r ledgerRepo) Save(_ context.Context, l *streak.Ledger) error {
	r.s.putLedger(l)
	return nil
}

func (r ledgerRepo) ListUserIDs(_ context.Context) ([]shared.UserID, error) {
	return r.s.userIDs(), nil
}

type graceRepo struct{ s *Store }

func (r graceRepo) Get(_ context.Context, userID shared.UserID) (*streak.GraceState, error) {
	return r.s.getGrace(userID)
}

func (r graceRepo) Save(_ context.Context, g *streak.GraceState) error {
	r.s.putGrace(g)
	return nil
}

func (r graceRepo) ResetAll(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.s.Atomic(ctx, "", func(ctx context.Context, repos streak.Repositories) error {
		var err error
		n, err = repos.Grace().ResetAll(ctx, now)
		return err
	})
	return n, err
}

func (r graceRepo) CountUsed(_ context.Context) (int64, error) {
	var n int64
	for _, g := range r.s.graceSnapshot() {
		if g.UsedThisWeek {
			n++
		}
	}
	return n, nil
}

type taskRepo struct{ s *Store }

func (r taskRepo) Get(_ context.Context, id string) (*microtask.MicroTask, error) {
	return r.s.getTask(id)
}

func (r taskRepo) Save(_ context.Context, t *microtask.MicroTask) error {
	r.s.putTask(t)
	return nil
}

func (r taskRepo) ListByUser(_ context.Context, userID shared.UserID) ([]*microtask.MicroTask, error) {
	return sortNewestFirst(r.s.userTasks(userID)), nil
}

func (r taskRepo) FindByClass(_ context.Context, userID shared.UserID, classRef string) (*microtask.MicroTask, error) {
	return findByClass(r.s.userTasks(userID), classRef)
}

func (r taskRepo) ListCompletedSince(_ context.Context, userID shared.UserID, since time.Time) ([]*microtask.MicroTask, error) {
	return completedSince(r.s.userTasks(userID), since), nil
}

func sortNewestFirst(tasks []*microtask.MicroTask) []*microtask.MicroTask {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

func findByClass(tasks []*microtask.MicroTask, classRef string) (*microtask.MicroTask, error) {
	for _, t := range tasks {
		if classRef != "" && t.RelatedClassID == classRef {
			return t, nil
		}
	}
	return nil, shared.ErrMicroTaskNotFound
}

func completedSince(tasks []*microtask.MicroTask, since time.Time) []*microtask.MicroTask {
	var out []*microtask.MicroTask
	for _, t := range tasks {
		if t.Completed && t.StreakRestoreEligible && t.CompletedAt != nil && !t.CompletedAt.Before(since) {
			out = append(out, t)
		}
	}
	return sortNewestFirst(out)
}
