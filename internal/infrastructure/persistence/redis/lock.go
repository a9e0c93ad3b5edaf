package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockerConfig configures a Locker.
type LockerConfig struct {
	// TTL is the lock lease. Defaults to TTLUserLock.
	TTL time.Duration

	// Wait is how long LockUser keeps retrying. Defaults to 2s.
	Wait time.Duration

	// RetryEvery is the polling interval while waiting. Defaults to 25ms.
	RetryEvery time.Duration
}

// Locker hands out SET NX leases. A lease expires on its own if the holder dies.
type Locker struct {
	client *redis.Client
	cfg    LockerConfig
}

// NewLocker creates a locker.
func NewLocker(client *redis.Client, cfg LockerConfig) *Locker {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLUserLock
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 2 * time.Second
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 25 * time.Millisecond
	}
	return &Locker{client: client, cfg: cfg}
}

// LockUser blocks until the user's lock is held or Wait elapses.
// It returns shared.ErrConcurrentModification on timeout.
func (l *Locker) LockUser(ctx context.Context, userID shared.UserID) (func(), error) {
	key := LockKey("user:" + userID.String())
	deadline := time.Now().Add(l.cfg.Wait)

	for {
		unlock, ok, err := l.acquire(ctx, key, l.cfg.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		if time.Now().After(deadline) {
			return nil, shared.ErrConcurrentModification
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.RetryEvery):
		}
	}
}

// TryLock makes one attempt at a named lease. ok is false when another
// holder has it.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error) {
	if ttl <= 0 {
		ttl = l.cfg.TTL
	}
	return l.acquire(ctx, LockKey(name), ttl)
}

func (l *Locker) acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// The caller's ctx may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}
