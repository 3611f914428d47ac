// The consumer applies validated envelopes to the asset store. It reads
// asset.events.validated, applies each event exactly once via the
// idempotency ledger, and forwards system_metrics snapshots to InfluxDB
// when a sink is configured.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"assettrack/processor/internal/apply"
	"assettrack/processor/repos"
	"assettrack/shared/config"
	"assettrack/shared/dbx"
	"assettrack/shared/events"
	"assettrack/shared/fault"
	"assettrack/shared/influxx"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
	"assettrack/shared/mqx"
	"assettrack/shared/observability"
)

func main() {
	cfg, problems := config.Load("store-consumer", 8004)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Version:     version,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	if err := repos.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error(context.Background(), "migrate_failed", "schema migration failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	consumer, err := mqx.NewConsumer(cfg, events.TopicAssetValidated, cfg.KafkaGroupID, producer, logger)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka consumer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	consumer.SetDLQTopic(events.TopicAssetDLQ)
	defer consumer.Close()

	var influx *influxx.Client
	if cfg.InfluxURL != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx sink disabled",
				slog.String("error", err.Error()),
			)
		} else {
			defer influx.Close()
		}
	}

	store := apply.NewStore(dbPool, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "consumer_start", "store consumer started",
		slog.String("topic", events.TopicAssetValidated),
		slog.String("group", cfg.KafkaGroupID),
	)

	err = consumer.Run(ctx, func(ctx context.Context, d mqx.Delivery) error {
		ctx, span := otel.Tracer("consumer").Start(ctx, "event.apply")
		span.SetAttributes(attribute.String("messaging.destination", d.Topic))
		defer span.End()

		var env events.Envelope
		if err := json.Unmarshal(d.Value, &env); err != nil {
			return fmt.Errorf("%w: malformed envelope: %v", fault.ErrValidation, err)
		}

		outcome, err := store.Apply(ctx, env)
		if err != nil {
			return err
		}
		metricsx.IncEventConsumed(d.Topic, outcome)
		if outcome == apply.OutcomeDuplicate {
			logger.Info(ctx, "event_duplicate", "event already applied",
				slog.String("event_id", env.EventID.String()),
			)
			return nil
		}

		if env.EventType == events.TypeSystemMetrics && influx != nil {
			// Failures only count a metric; the event is already applied.
			if _, err := influx.WriteSystemMetrics(ctx, env.NodeID, env.Data, env.OccurredAt); err != nil {
				metricsx.IncInfluxWriteFailure()
				logger.Warn(ctx, "influx_write_failed", "failed to write metrics point",
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(context.Background(), "consumer_failed", "consumer loop failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info(context.Background(), "consumer_stop", "store consumer stopped")
}
