package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the Redis Pub/Sub channel shared by every replica.
const DefaultChannel = "watchparty:bus"

type wireMessage struct {
	Origin  string          `json:"origin"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBus extends a LocalBus across processes through Redis Pub/Sub. Local
// subscribers are notified synchronously on Publish; the echo of our own
// publication is dropped so each change is delivered once per process.
// Payloads must be valid JSON.
type RedisBus struct {
	*LocalBus
	client  *redis.Client
	channel string
	origin  string
	pubsub  *redis.PubSub
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRedisBus subscribes to channel and starts the receive loop.
func NewRedisBus(ctx context.Context, client *redis.Client, channel string) (*RedisBus, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis bus: subscribe %s: %w", channel, err)
	}

	b := &RedisBus{
		LocalBus: NewLocalBus(),
		client:   client,
		channel:  channel,
		origin:   uuid.NewString(),
		pubsub:   pubsub,
	}
	b.wg.Add(1)
	go b.receiveLoop()
	return b, nil
}

// Publish notifies local subscribers, then the other replicas.
func (b *RedisBus) Publish(ctx context.Context, key string, payload []byte) error {
	b.deliver(key, payload)

	data, err := json.Marshal(wireMessage{Origin: b.origin, Key: key, Payload: payload})
	if err != nil {
		return fmt.Errorf("redis bus: encode: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis bus: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) receiveLoop() {
	defer b.wg.Done()
	for msg := range b.pubsub.Channel() {
		var wire wireMessage
		if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("redis bus: dropping undecodable message")
			continue
		}
		if wire.Origin == b.origin {
			continue
		}
		b.deliver(wire.Key, wire.Payload)
	}
}

// Close stops the receive loop. The Redis client stays open.
func (b *RedisBus) Close() error {
	var err error
	b.once.Do(func() {
		err = b.pubsub.Close()
		b.wg.Wait()
	})
	return err
}
