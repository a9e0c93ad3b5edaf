package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/application/eventhandler"
	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

type countingNotifier struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (c *countingNotifier) Notify(_ context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// newRelayBus builds a bus without subscribing to Redis; remote delivery is
// driven through handleMessage. The client points nowhere, so the relay
// publish fails and is only logged.
func newRelayBus(t *testing.T, instanceID string) *RedisEventBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cfg := InMemoryEventBusConfig{AsyncMode: false}
	return &RedisEventBus{
		client:     client,
		local:      NewInMemoryEventBus(cfg),
		origin:     NewInMemoryEventBus(cfg),
		channel:    DefaultChannel,
		instanceID: instanceID,
		logger:     logger.Nop(),
	}
}

func TestRedisEventBus_NotifiesOncePerEventAcrossInstances(t *testing.T) {
	api := newRelayBus(t, "api")
	worker := newRelayBus(t, "worker")

	apiNotifier := &countingNotifier{}
	workerNotifier := &countingNotifier{}
	require.NoError(t, eventhandler.NewNotifyHandler(apiNotifier, nil, eventhandler.DefaultNotifyConfig()).Register(api))
	require.NoError(t, eventhandler.NewNotifyHandler(workerNotifier, nil, eventhandler.DefaultNotifyConfig()).Register(worker))

	var workerSaw int
	require.NoError(t, worker.Subscribe(shared.EventBadgeEarned, func(shared.Event) error {
		workerSaw++
		return nil
	}))

	event := shared.NewBadgeEarnedEvent("u1", "Week Warrior", "7-day streak", "🔥", testNow)
	require.NoError(t, api.Publish(event))

	wire, err := encodeWire("api", event)
	require.NoError(t, err)
	worker.handleMessage(string(wire))

	assert.Equal(t, 1, apiNotifier.count()+workerNotifier.count())
	assert.Equal(t, 1, apiNotifier.count(), "the publishing instance notifies")
	assert.Equal(t, 1, workerSaw, "relayed events still reach regular subscribers")
}

func TestRedisEventBus_IgnoresOwnEcho(t *testing.T) {
	bus := newRelayBus(t, "worker")

	var local, origin int
	require.NoError(t, bus.Subscribe(shared.EventGraceReset, func(shared.Event) error {
		local++
		return nil
	}))
	require.NoError(t, bus.SubscribeOrigin(shared.EventGraceReset, func(shared.Event) error {
		origin++
		return nil
	}))

	event := shared.NewGraceResetEvent(3, testNow)
	require.NoError(t, bus.Publish(event))
	wire, err := encodeWire("worker", event)
	require.NoError(t, err)
	bus.handleMessage(string(wire))

	assert.Equal(t, 1, local)
	assert.Equal(t, 1, origin)
	assert.Equal(t, int64(2), bus.Stats().Published)
}
