// Package mqx wraps kafka-go with the delivery contract the pipeline relies
// on: at-least-once consumption, bounded in-place redelivery for transient
// failures, and dead-lettering for messages that can never succeed.
package mqx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"log/slog"

	"assettrack/shared/config"
	"assettrack/shared/fault"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
)

type Producer struct {
	writer     *kafka.Writer
	retryMax   int
	backoffMax time.Duration
}

func NewProducer(cfg config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		MaxAttempts:  maxInt(cfg.KafkaRetryMax, 1),
		BatchTimeout: time.Duration(cfg.KafkaWriteMS) * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID: cfg.KafkaClientID,
		},
	}
	return &Producer{
		writer:     w,
		retryMax:   cfg.PublishRetryMax,
		backoffMax: time.Duration(cfg.PublishBackoffMaxMS) * time.Millisecond,
	}, nil
}

// Publish writes one message. Broker failures come back wrapped in
// fault.ErrQueueUnavailable so callers can classify without knowing kafka.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("%w: producer not initialized", fault.ErrQueueUnavailable)
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "kafka.produce")
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
	)
	defer span.End()

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	if len(headers) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(headers))
		for k, v := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", fault.ErrQueueUnavailable, err)
	}
	return nil
}

// PublishWithRetry retries transient publish failures with jittered
// exponential backoff. Returns the last error once attempts are exhausted.
func (p *Producer) PublishWithRetry(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	var lastErr error
	for attempt := 0; attempt <= p.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, Backoff(attempt, p.backoffMax)); err != nil {
				return err
			}
		}
		lastErr = p.Publish(ctx, topic, key, value, headers)
		if lastErr == nil {
			return nil
		}
		if !fault.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Delivery is one received message plus its redelivery count so far.
type Delivery struct {
	Topic        string
	Partition    int
	Offset       int64
	Key          []byte
	Value        []byte
	Headers      map[string]string
	Redeliveries int
}

// Handler processes one delivery. A nil return acks the message. An error
// wrapping fault.ErrValidation rejects it straight to the dead-letter topic.
// Any other error nacks it: the consumer redelivers in place with backoff
// until MAX_REDELIVERY_COUNT, then dead-letters.
type Handler func(ctx context.Context, d Delivery) error

// dlqPublisher is the slice of Producer the consumer needs for
// dead-lettering.
type dlqPublisher interface {
	PublishWithRetry(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Consumer struct {
	reader        *kafka.Reader
	dlq           dlqPublisher
	dlqTopic      string
	topic         string
	groupID       string
	maxRedelivery int
	backoffMax    time.Duration
	logger        logx.Logger
}

func NewConsumer(cfg config.Config, topic string, groupID string, dlq *Producer, logger logx.Logger) (*Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}
	if groupID == "" {
		return nil, errors.New("KAFKA_CONSUMER_GROUP is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	c := &Consumer{
		reader:        reader,
		dlqTopic:      cfg.ServiceName + ".dlq",
		topic:         topic,
		groupID:       groupID,
		maxRedelivery: cfg.MaxRedeliveryCount,
		backoffMax:    time.Duration(cfg.PublishBackoffMaxMS) * time.Millisecond,
		logger:        logger,
	}
	if dlq != nil {
		c.dlq = dlq
	}
	return c, nil
}

// SetDLQTopic overrides the default "<service>.dlq" dead-letter topic.
func (c *Consumer) SetDLQTopic(topic string) { c.dlqTopic = topic }

// Run fetches and handles messages until ctx is cancelled. Offsets are
// committed only after a delivery is acked or dead-lettered, never before,
// so a crash mid-handling yields redelivery rather than loss.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "QUEUE_UNAVAILABLE"),
				slog.String("topic", c.topic),
				slog.String("error", err.Error()),
			)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}
		metricsx.SetKafkaLag(c.topic, c.groupID, c.reader.Lag())

		if err := c.handleWithRedelivery(ctx, msg, handler); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error(ctx, "kafka_commit_failed", "failed to commit offset",
				slog.String("error_code", "QUEUE_UNAVAILABLE"),
				slog.String("topic", c.topic),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Consumer) handleWithRedelivery(ctx context.Context, msg kafka.Message, handler Handler) error {
	d := Delivery{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headerMap(msg.Headers),
	}

	var lastErr error
	for d.Redeliveries = 0; d.Redeliveries <= c.maxRedelivery; d.Redeliveries++ {
		if d.Redeliveries > 0 {
			metricsx.IncEventRedelivered(c.topic)
			if err := sleepCtx(ctx, Backoff(d.Redeliveries, c.backoffMax)); err != nil {
				return err
			}
		}
		lastErr = handler(ctx, d)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, fault.ErrValidation) {
			return c.deadLetter(ctx, msg, d.Redeliveries, "validation_failed", lastErr)
		}
		if !fault.Retryable(lastErr) {
			return c.deadLetter(ctx, msg, d.Redeliveries, "permanent_failure", lastErr)
		}
		c.logger.Warn(ctx, "delivery_retry", "handler failed, will redeliver",
			slog.String("topic", c.topic),
			slog.Int64("offset", msg.Offset),
			slog.Int("redeliveries", d.Redeliveries),
			slog.String("error", lastErr.Error()),
		)
	}
	return c.deadLetter(ctx, msg, c.maxRedelivery, "redelivery_exhausted", lastErr)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, redeliveries int, reason string, cause error) error {
	if c.dlq == nil {
		c.logger.Error(ctx, "delivery_dropped", "no dead-letter producer configured",
			slog.String("topic", c.topic),
			slog.Int64("offset", msg.Offset),
			slog.String("reason", reason),
		)
		return nil
	}
	headers := headerMap(msg.Headers)
	headers["x-dead-reason"] = reason
	headers["x-dead-error"] = cause.Error()
	headers["x-source-topic"] = msg.Topic
	headers["x-redeliveries"] = fmt.Sprintf("%d", redeliveries)

	if err := c.dlq.PublishWithRetry(ctx, c.dlqTopic, msg.Key, msg.Value, headers); err != nil {
		// Without the DLQ write the message would be lost on commit, so
		// surface the error and let the service restart and refetch.
		return fmt.Errorf("dead-letter publish: %w", err)
	}
	metricsx.IncEventDeadLettered(c.topic, reason)
	c.logger.Error(ctx, "delivery_dead_lettered", "message moved to dead-letter topic",
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("topic", c.topic),
		slog.String("dlq_topic", c.dlqTopic),
		slog.Int64("offset", msg.Offset),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	return nil
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Backoff returns the jittered exponential delay for the given attempt,
// capped at max. Attempt 1 starts around 100ms.
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 100 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d - jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func headerMap(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
