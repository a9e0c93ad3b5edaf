package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// decrScript decrements only a live positive counter, so a late refund never
// creates a key without expiry.
var decrScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// DailyCounter counts events per key with an expiry, e.g. notifications
// sent to a user today.
type DailyCounter struct {
	client *redis.Client
}

// NewDailyCounter creates a counter.
func NewDailyCounter(client *redis.Client) *DailyCounter {
	return &DailyCounter{client: client}
}

// Incr increments key and returns the new value. The expiry is set in the
// same transaction so a counter never outlives its day.
func (c *DailyCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	key = NotifyCountKey(key)
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Decr gives one unit back to key.
func (c *DailyCounter) Decr(ctx context.Context, key string) error {
	return decrScript.Run(ctx, c.client, []string{NotifyCountKey(key)}).Err()
}
