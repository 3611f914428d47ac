// Package aggregate composes the read-side view of the system: live
// collector counters merged with on-demand store counts. Every downstream
// failure degrades the response instead of failing it.
package aggregate

import (
	"context"
	"time"

	"assettrack/collector/pipeline"
	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/events"
	"assettrack/shared/logx"
)

const statsSnapshotKey = "assettrack:collector:stats"

// CollectorSource is the slice of the collector client the aggregator needs.
type CollectorSource interface {
	Stats(ctx context.Context) (pipeline.Snapshot, error)
	RecentEvents(ctx context.Context, limit int) ([]events.Envelope, error)
	Healthy(ctx context.Context) bool
}

// SnapshotCache reads the stats snapshot the collector mirrors to redis.
type SnapshotCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

// StoreSource is the slice of the persisted store the aggregator needs.
type StoreSource interface {
	CountAssetsByStatus(ctx context.Context) (int64, map[string]int64, error)
	CountEventsByType(ctx context.Context) (int64, map[string]int64, error)
	ListEvents(ctx context.Context, f repos.EventFilter) ([]models.EventRecord, error)
	ListAssets(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error)
	Ping(ctx context.Context) error
}

type Aggregator struct {
	collector CollectorSource
	cache     SnapshotCache
	store     StoreSource
	logger    logx.Logger
}

func New(collector CollectorSource, cache SnapshotCache, store StoreSource, logger logx.Logger) *Aggregator {
	return &Aggregator{collector: collector, cache: cache, store: store, logger: logger}
}

// CollectorStats is the pipeline snapshot plus availability flags. Source is
// "live" when fetched over HTTP, "snapshot" when read from the redis mirror.
type CollectorStats struct {
	Available bool   `json:"available"`
	Source    string `json:"source,omitempty"`
	pipeline.Snapshot
}

type StoreStats struct {
	Available     bool             `json:"available"`
	TotalAssets   int64            `json:"total_assets"`
	ActiveAssets  int64            `json:"active_assets"`
	AssetsByState map[string]int64 `json:"assets_by_status"`
	TotalEvents   int64            `json:"total_events"`
	EventsByType  map[string]int64 `json:"events_by_type"`
}

type StatsResponse struct {
	Collector CollectorStats `json:"collector"`
	Store     StoreStats     `json:"store"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Stats never returns an error. Each half of the payload carries its own
// available flag so a dead collector or database degrades only its section.
func (a *Aggregator) Stats(ctx context.Context) StatsResponse {
	out := StatsResponse{FetchedAt: time.Now().UTC()}

	snap, err := a.collector.Stats(ctx)
	if err == nil {
		out.Collector = CollectorStats{Available: true, Source: "live", Snapshot: snap}
	} else {
		a.logger.Warn(ctx, "collector_stats_unavailable", "collector stats fetch failed",
			logx.Err(err),
		)
		out.Collector = a.snapshotFallback(ctx)
	}

	totalAssets, byStatus, err := a.store.CountAssetsByStatus(ctx)
	if err != nil {
		a.logger.Warn(ctx, "store_stats_unavailable", "asset counts failed",
			logx.Err(err),
		)
		return out
	}
	totalEvents, byType, err := a.store.CountEventsByType(ctx)
	if err != nil {
		a.logger.Warn(ctx, "store_stats_unavailable", "event counts failed",
			logx.Err(err),
		)
		return out
	}
	out.Store = StoreStats{
		Available:     true,
		TotalAssets:   totalAssets,
		ActiveAssets:  byStatus[events.StatusActive],
		AssetsByState: byStatus,
		TotalEvents:   totalEvents,
		EventsByType:  byType,
	}
	return out
}

func (a *Aggregator) snapshotFallback(ctx context.Context) CollectorStats {
	if a.cache == nil {
		return CollectorStats{}
	}
	var snap pipeline.Snapshot
	found, err := a.cache.GetJSON(ctx, statsSnapshotKey, &snap)
	if err != nil || !found {
		if err != nil {
			a.logger.Warn(ctx, "stats_snapshot_read_failed", "redis snapshot read failed",
				logx.Err(err),
			)
		}
		return CollectorStats{}
	}
	return CollectorStats{Available: true, Source: "snapshot", Snapshot: snap}
}

// Events reads newest-first from the persisted event log.
func (a *Aggregator) Events(ctx context.Context, f repos.EventFilter) ([]models.EventRecord, error) {
	return a.store.ListEvents(ctx, f)
}

func (a *Aggregator) Assets(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error) {
	return a.store.ListAssets(ctx, status, assetType, limit, offset)
}

// SystemMetrics is the most recent persisted system_metrics event per call;
// nothing is cached because agents publish on a short interval anyway.
type SystemMetrics struct {
	Available  bool           `json:"available"`
	NodeID     string         `json:"node_id,omitempty"`
	ObservedAt *time.Time     `json:"observed_at,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

func (a *Aggregator) SystemMetrics(ctx context.Context) (SystemMetrics, error) {
	recs, err := a.store.ListEvents(ctx, repos.EventFilter{
		EventType: events.TypeSystemMetrics,
		Limit:     1,
	})
	if err != nil {
		return SystemMetrics{}, err
	}
	if len(recs) == 0 {
		return SystemMetrics{}, nil
	}
	rec := recs[0]
	occurred := rec.OccurredAt
	return SystemMetrics{
		Available:  true,
		NodeID:     rec.NodeID,
		ObservedAt: &occurred,
		Metrics:    rec.Data,
	}, nil
}

// Health reports per-dependency status. The service stays "degraded" rather
// than failing its own health check when a downstream is down.
type Health struct {
	Status     string            `json:"status"`
	Downstream map[string]string `json:"downstream"`
}

func (a *Aggregator) Health(ctx context.Context) Health {
	downstream := map[string]string{"database": "ok", "collector": "ok"}
	degraded := false

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := a.store.Ping(pingCtx); err != nil {
		downstream["database"] = "unavailable"
		degraded = true
	}
	cancel()

	if !a.collector.Healthy(ctx) {
		downstream["collector"] = "unavailable"
		degraded = true
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	return Health{Status: status, Downstream: downstream}
}
