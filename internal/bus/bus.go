package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ldtteam/rewardsync/domain"
)

// Topics carried on the bus. Both ride the same user-keyed shard so all
// events for one user stay strictly ordered.
const (
	TopicFactsChanged = domain.TopicFactsChanged
	TopicRewardEvents = domain.TopicRewardEvents
)

// Message is the envelope delivered to handlers. Delivery is at-least-once;
// handlers must be idempotent.
type Message struct {
	ID      string // stream entry id
	EventID string // producer-assigned idempotency key
	UserID  uint
	Topic   string
	Payload map[string]any
}

// HandlerFunc processes one message. Returning an error triggers the bounded
// retry/dead-letter cycle.
type HandlerFunc func(ctx context.Context, msg Message) error

// Router dispatches messages to the handler registered for their topic.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Register(topic string, h HandlerFunc) {
	r.handlers[topic] = h
}

func (r *Router) Handle(ctx context.Context, msg Message) error {
	h, ok := r.handlers[msg.Topic]
	if !ok {
		return fmt.Errorf("no handler registered for topic %q", msg.Topic)
	}

	return h(ctx, msg)
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// ShardFor hashes a user id onto a shard. All messages for one user land on
// one shard, and each shard has exactly one active consumer.
func ShardFor(userID uint, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%d", userID)))

	return int(h.Sum32() % uint32(shards))
}

// backoffDelay grows exponentially from 500ms, capped at 30s. Attempt is
// 1-based.
func backoffDelay(attempt int) time.Duration {
	delay := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 30*time.Second {
			return 30 * time.Second
		}
	}

	return delay
}

// deliverWithRetry runs the handler with bounded in-place retries. Retrying
// inside the shard loop keeps later messages for the same user from
// overtaking a failing one. wait sleeps for the backoff delay and returns
// false on shutdown, in which case the last error is returned with retries
// abandoned.
func deliverWithRetry(ctx context.Context, router *Router, msg Message, maxAttempts int, wait func(time.Duration) bool) error {
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = router.Handle(ctx, msg)
		if err == nil {
			return nil
		}

		if attempt < maxAttempts {
			if !wait(backoffDelay(attempt)) {
				return err
			}
		}
	}

	return err
}
