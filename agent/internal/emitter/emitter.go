// Package emitter buffers envelopes on the agent and flushes them to the
// queue in arrival order. The buffer is bounded; when full, the oldest
// unsent event is dropped and counted, never the newest.
package emitter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"log/slog"

	"assettrack/shared/events"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
)

// Publisher is the slice of mqx.Producer the emitter needs.
type Publisher interface {
	PublishWithRetry(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Emitter struct {
	mu      sync.Mutex
	buf     []events.Envelope
	maxSize int
	drops   int64

	pub    Publisher
	topic  string
	logger logx.Logger
}

func New(pub Publisher, topic string, maxSize int, logger logx.Logger) *Emitter {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Emitter{
		buf:     make([]events.Envelope, 0, maxSize),
		maxSize: maxSize,
		pub:     pub,
		topic:   topic,
		logger:  logger,
	}
}

// Enqueue appends one envelope, evicting the oldest buffered event when the
// buffer is at capacity.
func (e *Emitter) Enqueue(env events.Envelope) {
	e.mu.Lock()
	if len(e.buf) >= e.maxSize {
		dropped := e.buf[0]
		e.buf = e.buf[1:]
		e.drops++
		metricsx.IncAgentBufferDrop()
		e.logger.Warn(context.Background(), "buffer_drop", "buffer full, dropped oldest event",
			slog.String("dropped_event_id", dropped.EventID.String()),
			slog.Int64("total_drops", e.drops),
		)
	}
	e.buf = append(e.buf, env)
	e.mu.Unlock()
}

// Flush publishes buffered envelopes in order. On the first publish failure
// it stops, keeps the unsent tail (including the failed event) for the next
// flush, and returns the error.
func (e *Emitter) Flush(ctx context.Context) error {
	for {
		e.mu.Lock()
		if len(e.buf) == 0 {
			e.mu.Unlock()
			return nil
		}
		env := e.buf[0]
		e.mu.Unlock()

		value, err := json.Marshal(env)
		if err != nil {
			// Unserializable events can never succeed; drop and continue.
			e.logger.Error(ctx, "event_marshal_failed", "dropping unserializable event",
				slog.String("event_id", env.EventID.String()),
				slog.String("error", err.Error()),
			)
			e.popFront(env)
			continue
		}
		if err := e.pub.PublishWithRetry(ctx, e.topic, []byte(env.NodeID), value, map[string]string{
			"event_id":   env.EventID.String(),
			"event_type": env.EventType,
		}); err != nil {
			return err
		}
		metricsx.IncEventPublished(e.topic)
		e.popFront(env)
	}
}

// popFront removes the head only if it is still the same event; Enqueue may
// have evicted it while the publish was in flight.
func (e *Emitter) popFront(env events.Envelope) {
	e.mu.Lock()
	if len(e.buf) > 0 && e.buf[0].EventID == env.EventID {
		e.buf = e.buf[1:]
	}
	e.mu.Unlock()
}

func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

func (e *Emitter) Drops() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drops
}

// Run emits one snapshot per tick plus one per trigger signal, flushing the
// buffer after each emit. A flush failure leaves everything buffered for
// the next round.
func (e *Emitter) Run(ctx context.Context, interval time.Duration, snapshot func() events.Envelope, trigger <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func() {
		e.Enqueue(snapshot())
		if err := e.Flush(ctx); err != nil {
			e.logger.Warn(ctx, "flush_failed", "flush failed, events buffered",
				slog.Int("pending", e.Pending()),
				slog.String("error", err.Error()),
			)
		}
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit()
		case <-trigger:
			emit()
		}
	}
}
