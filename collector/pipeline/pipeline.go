// Package pipeline is the collector's validate, dedup, aggregate, forward
// path. Every raw delivery ends in exactly one of four states: rejected,
// dropped as duplicate, forwarded, or retried by the consumer.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"log/slog"

	"assettrack/shared/events"
	"assettrack/shared/fault"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"

	"assettrack/collector/internal/dedup"
)

const defaultRecentSize = 1000

// Forwarder publishes a validated envelope downstream.
type Forwarder interface {
	PublishWithRetry(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Collector struct {
	window  dedup.Window
	forward Forwarder
	stats   *Stats
	logger  logx.Logger

	mu     sync.Mutex
	recent []events.Envelope
	next   int
	filled bool
}

func New(window dedup.Window, forward Forwarder, stats *Stats, logger logx.Logger) *Collector {
	return &Collector{
		window:  window,
		forward: forward,
		stats:   stats,
		logger:  logger,
		recent:  make([]events.Envelope, defaultRecentSize),
	}
}

// Process handles one raw delivery. Validation failures return
// fault.ErrValidation so the consumer dead-letters them; duplicates are
// acked silently; forward failures bubble up retryable.
func (c *Collector) Process(ctx context.Context, raw []byte) error {
	c.stats.Received()

	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.stats.Invalid()
		return fmt.Errorf("%w: malformed envelope: %v", fault.ErrValidation, err)
	}
	if err := env.Validate(); err != nil {
		c.stats.Invalid()
		c.logger.Warn(ctx, "event_rejected", "envelope failed validation",
			slog.String("event_id", env.EventID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", fault.ErrValidation, err)
	}

	dup, err := c.window.CheckAndMark(ctx, env.EventID)
	if err != nil {
		return err
	}
	if dup {
		c.stats.Duplicate()
		metricsx.IncEventDuplicate("collector")
		c.logger.Info(ctx, "event_duplicate", "duplicate event dropped",
			slog.String("event_id", env.EventID.String()),
		)
		return nil
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrValidation, err)
	}
	key := []byte(env.NodeID)
	if env.AssetID != nil {
		key = []byte(env.AssetID.String())
	}
	if err := c.forward.PublishWithRetry(ctx, events.TopicAssetValidated, key, value, map[string]string{
		"event_id":   env.EventID.String(),
		"event_type": env.EventType,
	}); err != nil {
		// Unmark so the consumer's retry of this delivery is not dropped
		// as a duplicate.
		if fErr := c.window.Forget(ctx, env.EventID); fErr != nil {
			c.logger.Warn(ctx, "dedup_unmark_failed", "failed to unmark event after forward failure",
				slog.String("event_id", env.EventID.String()),
				slog.String("error", fErr.Error()),
			)
		}
		return err
	}

	// Aggregates and the recent buffer move only after the forward lands;
	// a failed delivery retried by the consumer must not count twice.
	c.stats.Processed(env.EventType, env.NodeID, env.OccurredAt)
	c.remember(env)
	metricsx.IncEventPublished(events.TopicAssetValidated)
	metricsx.IncEventConsumed(events.TopicAssetEvents, "forwarded")
	return nil
}

func (c *Collector) remember(env events.Envelope) {
	c.mu.Lock()
	c.recent[c.next] = env
	c.next++
	if c.next == len(c.recent) {
		c.next = 0
		c.filled = true
	}
	c.mu.Unlock()
}

// Recent returns up to limit of the latest forwarded envelopes, newest first.
func (c *Collector) Recent(limit int) []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.next
	if c.filled {
		size = len(c.recent)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]events.Envelope, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (c.next - 1 - i + len(c.recent)) % len(c.recent)
		out = append(out, c.recent[idx])
	}
	return out
}
