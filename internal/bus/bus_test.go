package bus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/ldtteam/rewardsync/domain"
)

func TestShardForIsStable(t *testing.T) {
	for userID := uint(1); userID <= 100; userID++ {
		first := ShardFor(userID, 8)
		for i := 0; i < 10; i++ {
			if got := ShardFor(userID, 8); got != first {
				t.Fatalf("ShardFor(%d) unstable: %d then %d", userID, first, got)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("ShardFor(%d) = %d, out of range [0,8)", userID, first)
		}
	}
}

func TestShardForSpreadsUsers(t *testing.T) {
	counts := make([]int, 8)
	for userID := uint(1); userID <= 10000; userID++ {
		counts[ShardFor(userID, 8)]++
	}

	for shard, n := range counts {
		t.Logf("shard %d: %d users", shard, n)
		if n == 0 {
			t.Errorf("shard %d received no users", shard)
		}
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{7, 30 * time.Second}, // capped
		{100, 30 * time.Second},
	}

	for _, tc := range cases {
		if got := backoffDelay(tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRouterDispatchesByTopic(t *testing.T) {
	router := NewRouter()

	var handled string
	router.Register("facts-changed", func(ctx context.Context, msg Message) error {
		handled = msg.EventID
		return nil
	})

	msg := Message{EventID: "ev-1", Topic: "facts-changed"}
	if err := router.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if handled != "ev-1" {
		t.Errorf("handler saw event %q, want ev-1", handled)
	}
}

func TestRouterRejectsUnknownTopic(t *testing.T) {
	router := NewRouter()
	if err := router.Handle(context.Background(), Message{Topic: "unknown"}); err == nil {
		t.Error("expected error for unregistered topic")
	}
}

func TestDeliverWithRetryConvergesAfterTransientFailures(t *testing.T) {
	router := NewRouter()

	attempts := 0
	router.Register(TopicRewardEvents, func(ctx context.Context, msg Message) error {
		attempts++
		if attempts <= 3 {
			return errors.New("directory unavailable")
		}
		return nil
	})

	var delays []time.Duration
	wait := func(d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	msg := Message{EventID: "ev-1", Topic: TopicRewardEvents}
	if err := deliverWithRetry(context.Background(), router, msg, 10, wait); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}

	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	want := []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Errorf("backoff delays = %v, want %v", delays, want)
	}
}

func TestDeliverWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	router := NewRouter()

	attempts := 0
	router.Register(TopicRewardEvents, func(ctx context.Context, msg Message) error {
		attempts++
		return errors.New("permanent failure")
	})

	wait := func(d time.Duration) bool { return true }

	msg := Message{EventID: "ev-1", Topic: TopicRewardEvents}
	err := deliverWithRetry(context.Background(), router, msg, 5, wait)
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if attempts != 5 {
		t.Errorf("attempts = %d, want 5", attempts)
	}
}

func TestDeliverWithRetryStopsOnShutdown(t *testing.T) {
	router := NewRouter()

	attempts := 0
	router.Register(TopicRewardEvents, func(ctx context.Context, msg Message) error {
		attempts++
		return errors.New("still failing")
	})

	// wait reports shutdown; the message must be left for redelivery
	wait := func(d time.Duration) bool { return false }

	msg := Message{EventID: "ev-1", Topic: TopicRewardEvents}
	if err := deliverWithRetry(context.Background(), router, msg, 10, wait); err == nil {
		t.Fatal("expected the last handler error on shutdown")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDecodeEntry(t *testing.T) {
	entry := redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"event_id": "ev-1",
			"user_id":  "42",
			"topic":    TopicFactsChanged,
			"payload":  `{"user_id":42,"reward_type":"patreon"}`,
		},
	}

	msg, err := decodeEntry(entry)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.EventID != "ev-1" || msg.UserID != 42 || msg.Topic != TopicFactsChanged {
		t.Errorf("decoded %+v", msg)
	}
	if msg.Payload["reward_type"] != "patreon" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestDecodeEntryRejectsMalformedEntries(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]any
	}{
		{"missing topic", map[string]any{"user_id": "42", "payload": "{}"}},
		{"missing user id", map[string]any{"topic": TopicFactsChanged}},
		{"non numeric user id", map[string]any{"topic": TopicFactsChanged, "user_id": "abc"}},
		{"broken payload", map[string]any{"topic": TopicFactsChanged, "user_id": "42", "payload": "{nope"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeEntry(redis.XMessage{ID: "1-0", Values: tc.values}); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

type fakeOutboxRepo struct {
	rows       []domain.OutboxEvent
	dispatched []uint
	findErr    error
}

func (f *fakeOutboxRepo) FindUndispatched(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.OutboxEvent
	for _, row := range f.rows {
		if !row.Dispatched {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutboxRepo) MarkDispatched(ctx context.Context, ids []uint) error {
	for _, id := range ids {
		for i := range f.rows {
			if f.rows[i].ID == id {
				f.rows[i].Dispatched = true
			}
		}
	}
	f.dispatched = append(f.dispatched, ids...)
	return nil
}

type fakePublisher struct {
	published []Message
	failAfter int // fail every publish once this many have succeeded; -1 never fails
}

func (f *fakePublisher) Publish(ctx context.Context, msg Message) error {
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return errors.New("bus unavailable")
	}
	f.published = append(f.published, msg)
	return nil
}

func outboxRow(id uint, eventID string, userID uint) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:      id,
		EventID: eventID,
		UserID:  userID,
		Topic:   TopicRewardEvents,
		Payload: datatypes.JSONMap{"event_id": eventID},
	}
}

func TestDispatcherDrainsInCommitOrder(t *testing.T) {
	repo := &fakeOutboxRepo{rows: []domain.OutboxEvent{
		outboxRow(1, "ev-1", 7),
		outboxRow(2, "ev-2", 7),
		outboxRow(3, "ev-3", 9),
	}}
	pub := &fakePublisher{failAfter: -1}
	d := NewDispatcher(repo, pub)

	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if len(pub.published) != 3 {
		t.Fatalf("published %d messages, want 3", len(pub.published))
	}
	for i, want := range []string{"ev-1", "ev-2", "ev-3"} {
		if pub.published[i].EventID != want {
			t.Errorf("publish %d = %s, want %s", i, pub.published[i].EventID, want)
		}
		if pub.published[i].Topic != domain.TopicRewardEvents {
			t.Errorf("publish %d topic = %q, want %q", i, pub.published[i].Topic, domain.TopicRewardEvents)
		}
	}
	if fmt.Sprint(repo.dispatched) != "[1 2 3]" {
		t.Errorf("marked dispatched %v, want [1 2 3]", repo.dispatched)
	}

	// a second drain finds nothing
	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(pub.published) != 3 {
		t.Errorf("redundant publishes after full drain: %d", len(pub.published))
	}
}

func TestDispatcherStopsAtFirstPublishFailure(t *testing.T) {
	repo := &fakeOutboxRepo{rows: []domain.OutboxEvent{
		outboxRow(1, "ev-1", 7),
		outboxRow(2, "ev-2", 7),
		outboxRow(3, "ev-3", 7),
	}}
	pub := &fakePublisher{failAfter: 1}
	d := NewDispatcher(repo, pub)

	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	// only the first row went out and got marked; the rest wait intact
	if len(pub.published) != 1 || pub.published[0].EventID != "ev-1" {
		t.Fatalf("published %v, want only ev-1", pub.published)
	}
	if fmt.Sprint(repo.dispatched) != "[1]" {
		t.Errorf("marked dispatched %v, want [1]", repo.dispatched)
	}

	// once the bus recovers the remaining rows go out in order
	pub.failAfter = -1
	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("recovery drain failed: %v", err)
	}
	if len(pub.published) != 3 || pub.published[1].EventID != "ev-2" || pub.published[2].EventID != "ev-3" {
		t.Errorf("recovery published %v", pub.published)
	}
}

func TestDispatcherSurfacesStoreFailure(t *testing.T) {
	repo := &fakeOutboxRepo{findErr: errors.New("db down")}
	d := NewDispatcher(repo, &fakePublisher{failAfter: -1})

	if err := d.drainOnce(context.Background()); err == nil {
		t.Error("expected error when outbox store is unavailable")
	}
}
