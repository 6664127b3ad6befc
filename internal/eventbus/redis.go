/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans events out across server instances over Redis
// pub/sub, so a WebSocket client connected to one instance still sees events
// produced on another. Without Redis it degrades to the in-process bus.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/events"
)

const channelPrefix = "supermix:events:"

// message is the wire format on the Redis channel. NodeID suppresses echo:
// an instance ignores messages it published itself.
type message struct {
	NodeID  string         `json:"node_id"`
	Type    string         `json:"type"`
	Payload events.Payload `json:"payload"`
}

// RedisBus bridges the local event bus to Redis pub/sub. Local delivery
// always works; Redis extends it across instances when available.
type RedisBus struct {
	local  *events.Bus
	client *redis.Client
	nodeID string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[events.EventType]*redis.PubSub
}

// NewRedisBus wraps local with Redis fan-out. client may be nil, in which
// case the bus is purely local.
func NewRedisBus(local *events.Bus, client *redis.Client, nodeID string, logger zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		local:    local,
		client:   client,
		nodeID:   nodeID,
		logger:   logger.With().Str("component", "eventbus").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[events.EventType]*redis.PubSub),
	}
}

// Subscribe registers a local subscriber and, on first use of an event type,
// starts relaying the matching Redis channel into the local bus.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.local.Subscribe(eventType)

	if rb.client != nil {
		rb.mu.Lock()
		if _, exists := rb.channels[eventType]; !exists {
			pubsub := rb.client.Subscribe(rb.ctx, channelPrefix+string(eventType))
			rb.channels[eventType] = pubsub
			rb.wg.Add(1)
			go rb.relay(eventType, pubsub)
		}
		rb.mu.Unlock()
	}

	return sub
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and broadcasts to other instances.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if rb.client == nil {
		return
	}

	data, err := json.Marshal(message{NodeID: rb.nodeID, Type: string(eventType), Payload: payload})
	if err != nil {
		rb.logger.Error().Err(err).Msg("marshalling event for broadcast")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, channelPrefix+string(eventType), data).Err(); err != nil {
		// Local subscribers already got the event; cross-instance delivery
		// is best effort.
		rb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("redis broadcast failed")
	}
}

// relay pumps remote events from a Redis channel into the local bus.
func (rb *RedisBus) relay(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()
	ch := pubsub.Channel()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Str("event_type", string(eventType)).Msg("redis subscription closed")
				return
			}
			var remote message
			if err := json.Unmarshal([]byte(msg.Payload), &remote); err != nil {
				rb.logger.Error().Err(err).Msg("decoding remote event")
				continue
			}
			if remote.NodeID == rb.nodeID {
				continue
			}
			rb.local.Publish(eventType, remote.Payload)
		}
	}
}

// Close stops the relays and closes the Redis subscriptions. The wrapped
// local bus stays usable.
func (rb *RedisBus) Close() error {
	rb.cancel()

	rb.mu.Lock()
	for _, pubsub := range rb.channels {
		_ = pubsub.Close()
	}
	rb.channels = make(map[events.EventType]*redis.PubSub)
	rb.mu.Unlock()

	rb.wg.Wait()
	return nil
}
