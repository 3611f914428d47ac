// The collector sits between the agents and the store: it validates raw
// envelopes, drops duplicates inside a bounded window, keeps running
// aggregates, and forwards clean events to the validated topic.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"assettrack/collector/internal/dedup"
	"assettrack/collector/pipeline"
	"assettrack/shared/cachex"
	"assettrack/shared/config"
	"assettrack/shared/events"
	"assettrack/shared/httpx"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
	"assettrack/shared/mqx"
	"assettrack/shared/observability"
)

const statsSnapshotKey = "assettrack:collector:stats"

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, problems := config.Load("collector-service", 8001)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

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

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	consumer, err := mqx.NewConsumer(cfg, events.TopicAssetEvents, cfg.KafkaGroupID, producer, logger)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka consumer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	consumer.SetDLQTopic(events.TopicAssetDLQ)
	defer consumer.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "falling back to in-memory dedup window",
				slog.String("error", err.Error()),
			)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	var window dedup.Window
	if cache != nil {
		window = dedup.NewRedis(cache, time.Duration(cfg.DedupWindowTTLSec)*time.Second)
	} else {
		window = dedup.NewMemory(cfg.DedupWindowSize, time.Duration(cfg.DedupWindowTTLSec)*time.Second)
	}

	stats := pipeline.NewStats()
	collector := pipeline.New(window, producer, stats, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, stats.Snapshot())
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid limit", nil)
				return
			}
			limit = n
		}
		recent := collector.Recent(limit)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"events": recent,
			"count":  len(recent),
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	handler := httpx.WithTimeout(cfg.RequestTimeout, http.Handler(mux))
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Mirror the stats snapshot to redis so the query service can degrade
	// gracefully when the collector's HTTP endpoint is unreachable.
	if cache != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					snapCtx, snapCancel := context.WithTimeout(ctx, 2*time.Second)
					if err := cache.SetJSON(snapCtx, statsSnapshotKey, stats.Snapshot(), time.Minute); err != nil {
						logger.Warn(ctx, "stats_snapshot_failed", "failed to mirror stats to redis",
							slog.String("error", err.Error()),
						)
					}
					snapCancel()
				}
			}
		}()
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "service_start", "collector started",
			slog.String("addr", server.Addr),
			slog.String("topic", events.TopicAssetEvents),
			slog.String("group", cfg.KafkaGroupID),
		)
		errCh <- server.ListenAndServe()
	}()
	go func() {
		errCh <- consumer.Run(ctx, func(ctx context.Context, d mqx.Delivery) error {
			return collector.Process(ctx, d.Value)
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error(context.Background(), "service_failed", "collector failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "collector stopped")
}
