package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel events travel on between instances.
const DefaultRedisChannel = "threadline:docstore:events"

// RedisBus fans events out across server instances through Redis pub/sub.
//
// Publish only writes to Redis; every instance (the publisher included)
// delivers to its local subscribers when the message comes back, so all
// instances observe the same order.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   *MemoryBus
	pubsub  *redis.PubSub
	done    chan struct{}
}

// NewRedisBus connects to redisURL and starts the receive loop.
func NewRedisBus(ctx context.Context, redisURL string) (*RedisBus, error) {
	if redisURL == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return newRedisBus(ctx, client, DefaultRedisChannel)
}

func newRedisBus(ctx context.Context, client *redis.Client, channel string) (*RedisBus, error) {
	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published right
	// after construction is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	b := &RedisBus{
		client:  client,
		channel: channel,
		local:   NewMemoryBus(),
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}
	go b.receiveLoop()
	return b, nil
}

func (b *RedisBus) receiveLoop() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("[docstore] dropping malformed redis event: %v", err)
			continue
		}
		b.local.deliver(ev)
	}
}

// Publish sends ev to every instance.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Subscribe registers fn for events on channel delivered to this instance.
func (b *RedisBus) Subscribe(channel string, fn func(Event)) func() {
	return b.local.Subscribe(channel, fn)
}

// Close stops the receive loop and closes the Redis client.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	_ = b.local.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
