package memory

import (
	"context"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
)

// tx stages writes until commit. Reads see staged values first.
type tx struct {
	s       *Store
	ledgers map[shared.UserID]*streak.Ledger
	grace   map[shared.UserID]*streak.GraceState
	tasks   map[string]*microtask.MicroTask
}

func newTx(s *Store) *tx {
	return &tx{
		s:       s,
		ledgers: make(map[shared.UserID]*streak.Ledger),
		grace:   make(map[shared.UserID]*streak.GraceState),
		tasks:   make(map[string]*microtask.MicroTask),
	}
}

func (t *tx) Ledgers() streak.LedgerRepository { return txLedgers{t} }

func (t *tx) Grace() streak.GraceRepository { return txGrace{t} }

func (t *tx) MicroTasks() microtask.Repository { return txTasks{t} }

func (t *tx) commit() {
	for _, l := range t.ledgers {
		t.s.putLedger(l)
	}
	for _, g := range t.grace {
		t.s.putGrace(g)
	}
	for _, task := range t.tasks {
		t.s.putTask(task)
	}
}

// mergedTasks returns the user's tasks with staged versions overriding stored ones.
func (t *tx) mergedTasks(userID shared.UserID) []*microtask.MicroTask {
	byID := make(map[string]*microtask.MicroTask)
	for _, task := range t.s.userTasks(userID) {
		byID[task.ID] = task
	}
	for id, task := range t.tasks {
		if task.UserID == userID {
			byID[id] = task.Clone()
		}
	}
	out := make([]*microtask.MicroTask, 0, len(byID))
	for _, task := range byID {
		out = append(out, task)
	}
	return out
}

type txLedgers struct{ t *tx }

func (r txLedgers) Get(_ context.Context, userID shared.UserID) (*streak.Ledger, error) {
	if l, ok := r.t.ledgers[userID]; ok {
		return l.Clone(), nil
	}
	return r.t.s.getLedger(userID)
}

func (r txLedgers) Save(_ context.Context, l *streak.Ledger) error {
	r.t.ledgers[l.UserID] = l.Clone()
	return nil
}

func (r txLedgers) ListUserIDs(_ context.Context) ([]shared.UserID, error) {
	ids := r.t.s.userIDs()
	seen := make(map[shared.UserID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for id := range r.t.ledgers {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type txGrace struct{ t *tx }

func (r txGrace) Get(_ context.Context, userID shared.UserID) (*streak.GraceState, error) {
	if g, ok := r.t.grace[userID]; ok {
		c := *g
		return &c, nil
	}
	return r.t.s.getGrace(userID)
}

func (r txGrace) Save(_ context.Context, g *streak.GraceState) error {
	c := *g
	r.t.grace[g.UserID] = &c
	return nil
}

func (r txGrace) ResetAll(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, g := range r.t.s.graceSnapshot() {
		if staged, ok := r.t.grace[g.UserID]; ok {
			g = staged
		}
		if g.Reset(now) {
			r.t.grace[g.UserID] = g
			n++
		}
	}
	for id, g := range r.t.grace {
		if _, err := r.t.s.getGrace(id); err != nil && g.Reset(now) {
			n++
		}
	}
	return n, nil
}

func (r txGrace) CountUsed(_ context.Context) (int64, error) {
	var n int64
	for _, g := range r.t.s.graceSnapshot() {
		if staged, ok := r.t.grace[g.UserID]; ok {
			g = staged
		}
		if g.UsedThisWeek {
			n++
		}
	}
	return n, nil
}

type txTasks struct{ t *tx }

func (r txTasks) Get(_ context.Context, id string) (*microtask.MicroTask, error) {
	if task, ok := r.t.tasks[id]; ok {
		return task.Clone(), nil
	}
	return r.t.s.getTask(id)
}

func (r txTasks) Save(_ context.Context, task *microtask.MicroTask) error {
	r.t.tasks[task.ID] = task.Clone()
	return nil
}

func (r txTasks) ListByUser(_ context.Context, userID shared.UserID) ([]*microtask.MicroTask, error) {
	return sortNewestFirst(r.t.mergedTasks(userID)), nil
}

func (r txTasks) FindByClass(_ context.Context, userID shared.UserID, classRef string) (*microtask.MicroTask, error) {
	return findByClass(sortNewestFirst(r.t.mergedTasks(userID)), classRef)
}

func (r txTasks) ListCompletedSince(_ context.Context, userID shared.UserID, since time.Time) ([]*microtask.MicroTask, error) {
	return completedSince(r.t.mergedTasks(userID), since), nil
}
