package mqx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"assettrack/shared/fault"
	"assettrack/shared/logx"
)

func TestBackoffGrowsAndStaysWithinBounds(t *testing.T) {
	max := 5 * time.Second
	base := 100 * time.Millisecond

	for attempt := 1; attempt <= 10; attempt++ {
		// Jitter subtracts up to a quarter, so sample repeatedly.
		for i := 0; i < 50; i++ {
			d := Backoff(attempt, max)
			if d > max {
				t.Fatalf("Backoff(%d) = %s, exceeds cap %s", attempt, d, max)
			}
			if d <= 0 {
				t.Fatalf("Backoff(%d) = %s, want positive", attempt, d)
			}
		}
	}

	// Attempt 1 stays near the base delay.
	for i := 0; i < 50; i++ {
		if d := Backoff(1, max); d > base {
			t.Fatalf("Backoff(1) = %s, exceeds base %s", d, base)
		}
	}
}

func TestBackoffClampsBadAttempt(t *testing.T) {
	max := time.Second
	for i := 0; i < 50; i++ {
		if d := Backoff(0, max); d > 100*time.Millisecond {
			t.Fatalf("Backoff(0) = %s, want base-delay behavior", d)
		}
		if d := Backoff(-3, max); d > 100*time.Millisecond {
			t.Fatalf("Backoff(-3) = %s, want base-delay behavior", d)
		}
	}
}

func TestBackoffJitterVaries(t *testing.T) {
	max := 5 * time.Second
	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		seen[Backoff(6, max)] = true
	}
	if len(seen) < 2 {
		t.Fatal("jitter produced a single value across 200 samples")
	}
}

type fakeDLQ struct {
	published []fakeDLQRecord
	err       error
}

type fakeDLQRecord struct {
	topic   string
	value   []byte
	headers map[string]string
}

func (f *fakeDLQ) PublishWithRetry(_ context.Context, topic string, _ []byte, value []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, fakeDLQRecord{topic: topic, value: value, headers: headers})
	return nil
}

func newTestConsumer(dlq *fakeDLQ, maxRedelivery int) *Consumer {
	return &Consumer{
		dlq:           dlq,
		dlqTopic:      "asset.events.dlq",
		topic:         "asset.events",
		groupID:       "test-group",
		maxRedelivery: maxRedelivery,
		backoffMax:    time.Millisecond,
		logger:        logx.New("mqx-test", "test", "", "error"),
	}
}

func testMessage() kafka.Message {
	return kafka.Message{
		Topic:  "asset.events",
		Offset: 7,
		Key:    []byte("asset-1"),
		Value:  []byte(`{"event":"payload"}`),
	}
}

func TestRedeliverySucceedsMidLadder(t *testing.T) {
	dlq := &fakeDLQ{}
	c := newTestConsumer(dlq, 3)

	calls := 0
	err := c.handleWithRedelivery(context.Background(), testMessage(), func(_ context.Context, d Delivery) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: broker flake", fault.ErrStoreUnavailable)
		}
		if d.Redeliveries != 2 {
			t.Errorf("redeliveries = %d on the succeeding attempt, want 2", d.Redeliveries)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("handleWithRedelivery: %v", err)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
	if len(dlq.published) != 0 {
		t.Errorf("dead-lettered %d messages after eventual success", len(dlq.published))
	}
}

func TestValidationFailureDeadLettersImmediately(t *testing.T) {
	dlq := &fakeDLQ{}
	c := newTestConsumer(dlq, 3)

	calls := 0
	err := c.handleWithRedelivery(context.Background(), testMessage(), func(context.Context, Delivery) error {
		calls++
		return fmt.Errorf("%w: bad envelope", fault.ErrValidation)
	})
	if err != nil {
		t.Fatalf("handleWithRedelivery: %v", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, validation failures must not be retried", calls)
	}
	if len(dlq.published) != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", len(dlq.published))
	}
	got := dlq.published[0]
	if got.topic != "asset.events.dlq" {
		t.Errorf("dlq topic = %q", got.topic)
	}
	if got.headers["x-dead-reason"] != "validation_failed" {
		t.Errorf("x-dead-reason = %q", got.headers["x-dead-reason"])
	}
	if got.headers["x-source-topic"] != "asset.events" {
		t.Errorf("x-source-topic = %q", got.headers["x-source-topic"])
	}
	if string(got.value) != `{"event":"payload"}` {
		t.Errorf("dlq payload = %s, must carry the original bytes", got.value)
	}
}

func TestRedeliveryExhaustionDeadLetters(t *testing.T) {
	dlq := &fakeDLQ{}
	c := newTestConsumer(dlq, 2)

	calls := 0
	err := c.handleWithRedelivery(context.Background(), testMessage(), func(context.Context, Delivery) error {
		calls++
		return fmt.Errorf("%w: still down", fault.ErrStoreUnavailable)
	})
	if err != nil {
		t.Fatalf("handleWithRedelivery: %v", err)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want initial + 2 redeliveries", calls)
	}
	if len(dlq.published) != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", len(dlq.published))
	}
	got := dlq.published[0]
	if got.headers["x-dead-reason"] != "redelivery_exhausted" {
		t.Errorf("x-dead-reason = %q", got.headers["x-dead-reason"])
	}
	if got.headers["x-redeliveries"] != "2" {
		t.Errorf("x-redeliveries = %q, want 2", got.headers["x-redeliveries"])
	}
}

func TestDLQPublishFailureSurfaces(t *testing.T) {
	dlq := &fakeDLQ{err: fmt.Errorf("%w: dlq down", fault.ErrQueueUnavailable)}
	c := newTestConsumer(dlq, 0)

	err := c.handleWithRedelivery(context.Background(), testMessage(), func(context.Context, Delivery) error {
		return fmt.Errorf("%w: bad envelope", fault.ErrValidation)
	})
	// The offset must not be committed while the message sits nowhere.
	if !errors.Is(err, fault.ErrQueueUnavailable) {
		t.Fatalf("err = %v, want the dead-letter publish failure", err)
	}
}

func TestNoDLQConfiguredDropsWithAck(t *testing.T) {
	c := newTestConsumer(nil, 0)
	c.dlq = nil

	err := c.handleWithRedelivery(context.Background(), testMessage(), func(context.Context, Delivery) error {
		return fmt.Errorf("%w: bad envelope", fault.ErrValidation)
	})
	if err != nil {
		t.Fatalf("handleWithRedelivery without a DLQ: %v", err)
	}
}
