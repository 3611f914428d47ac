// The agent emits a system_metrics snapshot for its node on a fixed
// interval, buffering locally when the queue is down. POST /trigger forces
// an immediate emit.
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

	"github.com/google/uuid"

	"assettrack/agent/internal/emitter"
	"assettrack/agent/internal/sysinfo"
	"assettrack/shared/config"
	"assettrack/shared/events"
	"assettrack/shared/httpx"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
	"assettrack/shared/mqx"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, problems := config.Load("agent-service", 8002)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			nodeID = hostname
		} else {
			problems = append(problems, config.Problem{Field: "NODE_ID", Message: "NODE_ID is required"})
		}
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
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

	collector := sysinfo.New()
	em := emitter.New(producer, events.TopicAssetEvents, cfg.AgentBufferSize, logger)

	snapshot := func() events.Envelope {
		return events.Envelope{
			EventID:    uuid.New(),
			EventType:  events.TypeSystemMetrics,
			NodeID:     nodeID,
			OccurredAt: time.Now().UTC(),
			Data:       collector.Collect(),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 1)
	go em.Run(ctx, time.Duration(cfg.PublishIntervalSec)*time.Second, snapshot, trigger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("POST /trigger", func(w http.ResponseWriter, r *http.Request) {
		select {
		case trigger <- struct{}{}:
		default:
			// An emit is already queued; the snapshot it sends will be
			// at least as fresh as one queued now.
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
			"status":  "triggered",
			"node_id": nodeID,
		})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"node_id":          nodeID,
			"pending_events":   em.Pending(),
			"dropped_events":   em.Drops(),
			"publish_interval": cfg.PublishIntervalSec,
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

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "service_start", "agent started",
			slog.String("addr", server.Addr),
			slog.String("node_id", nodeID),
			slog.Int("publish_interval_seconds", cfg.PublishIntervalSec),
			slog.Int("buffer_size", cfg.AgentBufferSize),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
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

	// Final best-effort flush so a clean restart loses nothing buffered.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := em.Flush(flushCtx); err != nil {
		logger.Warn(context.Background(), "final_flush_failed", "events lost on shutdown",
			slog.Int("pending", em.Pending()),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "agent stopped")
}
