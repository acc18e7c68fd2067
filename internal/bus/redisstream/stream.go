package redisstream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pulse/internal/bus"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

// payloadField is the single flat field carrying the JSON payload,
// since Redis streams store flat string maps.
const payloadField = "payload"

// Stream implements bus.Bus on Redis Streams.
// Publish maps to XADD, Read to XAUTOCLAIM+XREADGROUP, Ack to XACK.
type Stream struct {
	rdb        *redis.Client
	visibility time.Duration
	log        *logger.Logger

	mu     sync.Mutex
	groups map[string]struct{} // "topic/group" pairs already created
}

// Config holds stream bus configuration
type Config struct {
	// Visibility is how long a delivered message stays invisible before
	// it can be reclaimed by another consumer in the group
	Visibility time.Duration
}

// New creates a stream bus on an existing Redis client
func New(rdb *redis.Client, cfg Config) *Stream {
	if cfg.Visibility == 0 {
		cfg.Visibility = 30 * time.Second
	}
	return &Stream{
		rdb:        rdb,
		visibility: cfg.Visibility,
		log:        logger.Get().With("component", "redis_stream_bus"),
		groups:     make(map[string]struct{}),
	}
}

// Publish appends a payload to a topic stream
func (s *Stream) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
	if err != nil {
		return "", errors.Wrapf(errors.ErrBusUnavailable, "xadd %s: %v", topic, err)
	}
	return id, nil
}

// ensureGroup creates the consumer group once per (topic, group).
// BUSYGROUP means another instance created it first, which is fine.
func (s *Stream) ensureGroup(ctx context.Context, topic, group string) error {
	key := topic + "/" + group

	s.mu.Lock()
	_, known := s.groups[key]
	s.mu.Unlock()
	if known {
		return nil
	}

	err := s.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(errors.ErrBusUnavailable, "create group %s on %s: %v", group, topic, err)
	}

	s.mu.Lock()
	s.groups[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Read delivers up to maxCount messages. Pending messages whose visibility
// window expired are reclaimed first, then new messages are read with a
// bounded block. An empty batch on timeout is not an error.
func (s *Stream) Read(ctx context.Context, topic, group, consumer string, maxCount int, block time.Duration) ([]bus.Message, error) {
	if err := s.ensureGroup(ctx, topic, group); err != nil {
		return nil, err
	}

	out := make([]bus.Message, 0, maxCount)

	// Reclaim abandoned deliveries before reading new ones
	claimed, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: consumer,
		MinIdle:  s.visibility,
		Start:    "0-0",
		Count:    int64(maxCount),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrapf(errors.ErrBusUnavailable, "xautoclaim %s/%s: %v", topic, group, err)
	}
	for _, m := range claimed {
		out = append(out, s.toMessage(ctx, topic, group, m, true))
	}
	if len(out) >= maxCount {
		return out, nil
	}

	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    int64(maxCount - len(out)),
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			// Block timeout with nothing to deliver
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return nil, errors.Wrapf(errors.ErrBusUnavailable, "xreadgroup %s/%s: %v", topic, group, err)
	}

	for _, stream := range streams {
		for _, m := range stream.Messages {
			out = append(out, s.toMessage(ctx, topic, group, m, false))
		}
	}
	return out, nil
}

// Ack acknowledges messages for a group
func (s *Stream) Ack(ctx context.Context, topic, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.XAck(ctx, topic, group, ids...).Err(); err != nil {
		return errors.Wrapf(errors.ErrBusUnavailable, "xack %s/%s: %v", topic, group, err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (s *Stream) Close() error {
	return nil
}

func (s *Stream) toMessage(ctx context.Context, topic, group string, m redis.XMessage, reclaimed bool) bus.Message {
	msg := bus.Message{ID: m.ID, DeliveryCount: 1}

	if raw, ok := m.Values[payloadField]; ok {
		switch v := raw.(type) {
		case string:
			msg.Payload = []byte(v)
		case []byte:
			msg.Payload = v
		}
	}

	if reclaimed {
		// Delivery count lives in the PEL; one lookup only for redeliveries
		pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: topic,
			Group:  group,
			Start:  m.ID,
			End:    m.ID,
			Count:  1,
		}).Result()
		if err == nil && len(pending) == 1 {
			msg.DeliveryCount = pending[0].RetryCount
		} else {
			msg.DeliveryCount = 2
		}
	}
	return msg
}
