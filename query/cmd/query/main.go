// The query service is the read-only aggregation front: collector counters,
// store counts, recent events and the latest node metrics, all served with
// per-dependency degradation instead of hard failures.
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"assettrack/processor/repos"
	"assettrack/query/internal/aggregate"
	"assettrack/query/internal/clients/collector"
	"assettrack/shared/cachex"
	"assettrack/shared/config"
	"assettrack/shared/dbx"
	"assettrack/shared/fault"
	"assettrack/shared/httpx"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
	"assettrack/shared/observability"
)

func main() {
	cfg, problems := config.Load("query-service", 8006)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.CollectorURL == "" {
		problems = append(problems, config.Problem{Field: "COLLECTOR_URL", Message: "COLLECTOR_URL is required"})
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

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "database init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	client, err := collector.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "collector_client_failed", "collector client init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "snapshot fallback disabled",
				slog.String("error", err.Error()),
			)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	var snapshotCache aggregate.SnapshotCache
	if cache != nil {
		snapshotCache = cache
	}
	agg := aggregate.New(client, snapshotCache, aggregate.NewDBStore(dbPool), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		health := agg.Health(r.Context())
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":     health.Status,
			"service":    cfg.ServiceName,
			"env":        cfg.Env,
			"version":    version,
			"downstream": health.Downstream,
		})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, agg.Stats(r.Context()))
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		filter, ok := eventFilter(w, r)
		if !ok {
			return
		}
		recs, err := agg.Events(r.Context(), filter)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"events": recs,
			"count":  len(recs),
		})
	})
	mux.HandleFunc("GET /assets", func(w http.ResponseWriter, r *http.Request) {
		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}
		assets, err := agg.Assets(r.Context(),
			strings.TrimSpace(r.URL.Query().Get("status")),
			strings.TrimSpace(r.URL.Query().Get("type")),
			limit, offset)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"assets": assets,
			"count":  len(assets),
		})
	})
	mux.HandleFunc("GET /system/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics, err := agg.SystemMetrics(r.Context())
		if err != nil {
			writeFault(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, metrics)
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	handler := metricsx.Instrument(http.Handler(mux))
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http.server")

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
		logger.Info(context.Background(), "service_start", "query service started",
			slog.String("addr", server.Addr),
			slog.String("collector_url", cfg.CollectorURL),
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "query service stopped")
}

func eventFilter(w http.ResponseWriter, r *http.Request) (repos.EventFilter, bool) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return repos.EventFilter{}, false
	}
	filter := repos.EventFilter{
		EventType: strings.TrimSpace(r.URL.Query().Get("event_type")),
		NodeID:    strings.TrimSpace(r.URL.Query().Get("node_id")),
		Limit:     limit,
		Offset:    offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("asset_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid asset_id", nil)
			return repos.EventFilter{}, false
		}
		filter.AssetID = &id
	}
	return filter, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, ok := intParam(w, r, "limit", 100)
	if !ok {
		return 0, 0, false
	}
	offset, ok := intParam(w, r, "offset", 0)
	if !ok {
		return 0, 0, false
	}
	if limit > 500 {
		limit = 500
	}
	return limit, offset, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid "+name, nil)
		return 0, false
	}
	return n, true
}

func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fault.ErrValidation):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
	case errors.Is(err, fault.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, fault.ErrStoreUnavailable), errors.Is(err, fault.ErrQueueUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "downstream unavailable", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
	}
}
