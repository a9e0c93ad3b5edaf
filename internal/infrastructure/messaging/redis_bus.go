package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the pub/sub channel shared by api and worker processes.
const DefaultChannel = "streak:events"

// RedisEventBus relays events between processes over Redis Pub/Sub.
// Events are delivered to local handlers immediately and to other
// instances through the channel; an instance ignores its own messages.
//
// Handlers registered with SubscribeOrigin run only for events published
// by this instance. Side effects that must happen once per event across
// the fleet (notifications) subscribe there.
type RedisEventBus struct {
	client     *redis.Client
	local      *InMemoryEventBus
	origin     *InMemoryEventBus
	channel    string
	instanceID string
	logger     *logger.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client  *redis.Client
	Channel string

	// InstanceID defaults to a random uuid.
	InstanceID string

	Local  InMemoryEventBusConfig
	Logger *logger.Logger
}

// wireMessage is what travels over the channel.
type wireMessage struct {
	InstanceID string           `json:"instance_id"`
	Type       shared.EventType `json:"type"`
	Event      json.RawMessage  `json:"event"`
}

var (
	_ shared.EventBus         = (*RedisEventBus)(nil)
	_ shared.OriginSubscriber = (*RedisEventBus)(nil)
)

// NewRedisEventBus subscribes to the channel and starts the receive loop.
func NewRedisEventBus(ctx context.Context, config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Local.Logger == nil {
		config.Local.Logger = config.Logger
	}

	pubsub := config.Client.Subscribe(ctx, config.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.Local),
		origin:     NewInMemoryEventBus(config.Local),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		logger:     config.Logger.With(logger.Component("redis_event_bus")),
		pubsub:     pubsub,
		cancel:     cancel,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.receiveLoop(loopCtx, pubsub.Channel())
	}()
	return b, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// SubscribeOrigin registers a handler for events published by this instance only.
func (b *RedisEventBus) SubscribeOrigin(eventType shared.EventType, handler shared.EventHandler) error {
	return b.origin.Subscribe(eventType, handler)
}

// Publish relays the event to other instances and delivers it locally.
// A Redis failure is logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := encodeWire(b.instanceID, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
		b.logger.Error("redis publish failed",
			logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
	if err := b.local.Publish(event); err != nil {
		return err
	}
	return b.origin.Publish(event)
}

func (b *RedisEventBus) receiveLoop(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleMessage(payload string) {
	event, from, err := decodeWire([]byte(payload))
	if err != nil {
		b.logger.Warn("dropping malformed event", logger.Err(err))
		return
	}
	if from == b.instanceID {
		return
	}
	if err := b.local.Publish(event); err != nil {
		b.logger.Error("failed to deliver remote event", logger.Err(err))
	}
}

func encodeWire(instanceID string, event shared.Event) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return json.Marshal(wireMessage{InstanceID: instanceID, Type: event.EventType(), Event: raw})
}

func decodeWire(data []byte) (shared.Event, string, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	event, err := shared.DecodeEvent(msg.Type, msg.Event)
	if err != nil {
		return nil, "", err
	}
	return event, msg.InstanceID, nil
}

// Stats reports local delivery, remote events included.
func (b *RedisEventBus) Stats() Stats { return b.local.Stats().merge(b.origin.Stats()) }

// Close stops the receive loop and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	if cerr := b.local.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := b.origin.Close(); cerr != nil && err == nil {
		err = cerr
	}
	b.logger.Info("redis event bus closed")
	return err
}
