package memory

import (
	"sync"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// keyedMutex hands out one mutex per user and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[shared.UserID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[shared.UserID]*refMutex)}
}

// Lock blocks until the key is free and returns its release func.
func (k *keyedMutex) Lock(key shared.UserID) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
