package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"assettrack/shared/events"
	"assettrack/shared/logx"
)

type fakePublisher struct {
	sent []sentRecord
	err  error
}

type sentRecord struct {
	topic string
	key   string
	id    string
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, topic string, key []byte, _ []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentRecord{topic: topic, key: string(key), id: headers["event_id"]})
	return nil
}

func testLogger() logx.Logger {
	return logx.New("agent-test", "test", "", "error")
}

func metricsEnvelope(nodeID string) events.Envelope {
	return events.Envelope{
		EventID:    uuid.New(),
		EventType:  events.TypeSystemMetrics,
		NodeID:     nodeID,
		OccurredAt: time.Now().UTC(),
		Data:       events.Payload{"load_1m": 0.5},
	}
}

func TestFlushPublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, events.TopicAssetEvents, 10, testLogger())

	var want []string
	for i := 0; i < 3; i++ {
		env := metricsEnvelope("node-a")
		want = append(want, env.EventID.String())
		em.Enqueue(env)
	}

	if err := em.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if em.Pending() != 0 {
		t.Fatalf("pending = %d after flush, want 0", em.Pending())
	}
	if len(pub.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(pub.sent))
	}
	for i, rec := range pub.sent {
		if rec.id != want[i] {
			t.Errorf("sent[%d] = %s, want %s", i, rec.id, want[i])
		}
		if rec.topic != events.TopicAssetEvents {
			t.Errorf("sent[%d] topic = %q", i, rec.topic)
		}
		if rec.key != "node-a" {
			t.Errorf("sent[%d] key = %q, want node id", i, rec.key)
		}
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, events.TopicAssetEvents, 2, testLogger())

	first := metricsEnvelope("node-a")
	second := metricsEnvelope("node-a")
	third := metricsEnvelope("node-a")
	em.Enqueue(first)
	em.Enqueue(second)
	em.Enqueue(third)

	if em.Pending() != 2 {
		t.Fatalf("pending = %d, want buffer cap 2", em.Pending())
	}
	if em.Drops() != 1 {
		t.Fatalf("drops = %d, want 1", em.Drops())
	}

	if err := em.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(pub.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(pub.sent))
	}
	// The oldest event was the one dropped.
	if pub.sent[0].id != second.EventID.String() || pub.sent[1].id != third.EventID.String() {
		t.Errorf("sent order = %s, %s; want %s, %s",
			pub.sent[0].id, pub.sent[1].id, second.EventID, third.EventID)
	}
}

func TestFlushStopsAtFirstFailureAndKeepsTail(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	em := New(pub, events.TopicAssetEvents, 10, testLogger())

	envs := []events.Envelope{metricsEnvelope("node-a"), metricsEnvelope("node-a"), metricsEnvelope("node-a")}
	for _, env := range envs {
		em.Enqueue(env)
	}

	if err := em.Flush(context.Background()); err == nil {
		t.Fatal("Flush succeeded with broker down")
	}
	if em.Pending() != 3 {
		t.Fatalf("pending = %d after failed flush, want all 3 kept", em.Pending())
	}

	// Recovery flushes everything in the original order.
	pub.err = nil
	if err := em.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after recovery: %v", err)
	}
	if len(pub.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(pub.sent))
	}
	for i, rec := range pub.sent {
		if rec.id != envs[i].EventID.String() {
			t.Errorf("sent[%d] = %s, want %s", i, rec.id, envs[i].EventID)
		}
	}
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, events.TopicAssetEvents, 10, testLogger())
	if err := em.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("sent %d messages from empty buffer", len(pub.sent))
	}
}
