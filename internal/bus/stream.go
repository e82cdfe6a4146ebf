package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ldtteam/rewardsync/pkg/logger"
	"github.com/ldtteam/rewardsync/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Alerter raises an operator-visible alert when an event is dead-lettered.
type Alerter interface {
	Alert(subject, message string) error
}

// StreamBus is a durable, per-user-ordered, at-least-once bus on redis
// streams. Messages are sharded by user id onto N streams; one consumer
// goroutine owns each shard, so events for a user are handled in enqueue
// order by at most one worker at a time.
type StreamBus struct {
	client      *redis.Client
	prefix      string
	group       string
	shards      int
	maxAttempts int
	alerter     Alerter
}

func NewStreamBus(client *redis.Client, prefix, group string, shards, maxAttempts int, alerter Alerter) *StreamBus {
	return &StreamBus{
		client:      client,
		prefix:      prefix,
		group:       group,
		shards:      shards,
		maxAttempts: maxAttempts,
		alerter:     alerter,
	}
}

func (b *StreamBus) shardStream(shard int) string {
	return fmt.Sprintf("%s:events:%d", b.prefix, shard)
}

func (b *StreamBus) deadStream() string {
	return fmt.Sprintf("%s:dead", b.prefix)
}

// EnsureGroups creates the consumer group on every shard stream plus the
// dead-letter stream. Safe to call on every startup.
func (b *StreamBus) EnsureGroups(ctx context.Context) error {
	streams := make([]string, 0, b.shards+1)
	for i := 0; i < b.shards; i++ {
		streams = append(streams, b.shardStream(i))
	}
	streams = append(streams, b.deadStream())

	for _, stream := range streams {
		err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}

	return nil
}

// Publish appends the message to its user's shard stream.
func (b *StreamBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	shard := ShardFor(msg.UserID, b.shards)

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.shardStream(shard),
		Values: map[string]any{
			"event_id": msg.EventID,
			"user_id":  strconv.FormatUint(uint64(msg.UserID), 10),
			"topic":    msg.Topic,
			"payload":  string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to shard %d: %w", shard, err)
	}

	return nil
}

// Run starts one consumer goroutine per shard and blocks until the context
// is cancelled and all shards have drained their in-flight message.
func (b *StreamBus) Run(ctx context.Context, router *Router) {
	var wg sync.WaitGroup

	for shard := 0; shard < b.shards; shard++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			b.consumeShard(ctx, shard, router)
		}(shard)
	}

	wg.Wait()
}

func (b *StreamBus) consumeShard(ctx context.Context, shard int, router *Router) {
	stream := b.shardStream(shard)
	consumer := fmt.Sprintf("worker-%d", shard)

	// First drain this consumer's pending entries from a previous run, then
	// switch to new messages.
	cursor := "0"

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    16,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				if cursor == "0" {
					cursor = ">"
				}
				continue
			}
			logger.Error("Bus read failed", "shard", shard, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		delivered := 0
		for _, s := range res {
			for _, entry := range s.Messages {
				delivered++
				b.process(ctx, shard, stream, consumer, entry, router)
			}
		}

		// Pending backlog exhausted; read new entries from now on.
		if cursor == "0" && delivered == 0 {
			cursor = ">"
		}
	}
}

// process handles one entry with bounded in-place retries. Retrying inside
// the shard loop keeps later messages for the same user from overtaking a
// failing one. Exhausted messages move to the dead-letter stream.
func (b *StreamBus) process(ctx context.Context, shard int, stream, consumer string, entry redis.XMessage, router *Router) {
	msg, err := decodeEntry(entry)
	if err != nil {
		logger.Error("Bus entry is malformed, dead-lettering", "shard", shard, "id", entry.ID, "error", err)
		b.deadLetter(ctx, entry, "malformed entry")
		b.ack(ctx, stream, entry.ID)
		return
	}

	wait := func(d time.Duration) bool {
		metrics.ReconcileRetries.Inc()
		logger.Warn("Handler failed, backing off",
			"topic", msg.Topic,
			"event_id", msg.EventID,
			"delay", d,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	err = deliverWithRetry(ctx, router, msg, b.maxAttempts, wait)
	if err == nil {
		b.ack(ctx, stream, entry.ID)
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-delivery: leave the entry pending so the next run
		// redelivers it.
		logger.Warn("Shutdown during delivery, leaving message pending", "event_id", msg.EventID)
		return
	}

	logger.Error("Delivery attempts exhausted, dead-lettering",
		"topic", msg.Topic,
		"event_id", msg.EventID,
		"user_id", msg.UserID,
		"error", err,
	)
	b.deadLetter(ctx, entry, err.Error())
	b.ack(ctx, stream, entry.ID)
}

func (b *StreamBus) ack(ctx context.Context, stream, id string) {
	if err := b.client.XAck(ctx, stream, b.group, id).Err(); err != nil {
		logger.Error("Failed to ack message", "stream", stream, "id", id, "error", err)
	}
}

// deadLetter copies the entry onto the dead stream and alerts an operator.
// The user's external state stays pending until a later retry or a manual
// resync; this is reported, never fatal.
func (b *StreamBus) deadLetter(ctx context.Context, entry redis.XMessage, reason string) {
	values := make(map[string]any, len(entry.Values)+2)
	for k, v := range entry.Values {
		values[k] = v
	}
	values["failure"] = reason
	values["failed_at"] = time.Now().Format(time.RFC3339)

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.deadStream(),
		Values: values,
	}).Err(); err != nil {
		logger.Error("Failed to write dead letter", "id", entry.ID, "error", err)
		return
	}

	metrics.DeadLetteredEvents.Inc()

	if b.alerter != nil {
		subject := fmt.Sprintf("Event dead-lettered: %v", entry.Values["event_id"])
		if err := b.alerter.Alert(subject, reason); err != nil {
			logger.Warn("Failed to send dead-letter alert", "error", err)
		}
	}
}

func decodeEntry(entry redis.XMessage) (Message, error) {
	eventID, _ := entry.Values["event_id"].(string)
	topic, _ := entry.Values["topic"].(string)
	userStr, _ := entry.Values["user_id"].(string)
	payloadStr, _ := entry.Values["payload"].(string)

	if topic == "" {
		return Message{}, fmt.Errorf("entry %s has no topic", entry.ID)
	}

	userID, err := strconv.ParseUint(userStr, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("entry %s has invalid user_id %q", entry.ID, userStr)
	}

	payload := map[string]any{}
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return Message{}, fmt.Errorf("entry %s has invalid payload: %w", entry.ID, err)
		}
	}

	return Message{
		ID:      entry.ID,
		EventID: eventID,
		UserID:  uint(userID),
		Topic:   topic,
		Payload: payload,
	}, nil
}
