package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"assettrack/collector/pipeline"
	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/events"
	"assettrack/shared/fault"
	"assettrack/shared/logx"
)

type fakeCollector struct {
	snap    pipeline.Snapshot
	err     error
	healthy bool
}

func (f *fakeCollector) Stats(context.Context) (pipeline.Snapshot, error) {
	if f.err != nil {
		return pipeline.Snapshot{}, f.err
	}
	return f.snap, nil
}

func (f *fakeCollector) RecentEvents(context.Context, int) ([]events.Envelope, error) {
	return nil, nil
}

func (f *fakeCollector) Healthy(context.Context) bool { return f.healthy }

type fakeCache struct {
	data map[string][]byte
	err  error
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

type fakeDBStore struct {
	totalAssets int64
	byStatus    map[string]int64
	totalEvents int64
	byType      map[string]int64
	events      []models.EventRecord
	err         error
	pingErr     error
}

func (f *fakeDBStore) CountAssetsByStatus(context.Context) (int64, map[string]int64, error) {
	return f.totalAssets, f.byStatus, f.err
}

func (f *fakeDBStore) CountEventsByType(context.Context) (int64, map[string]int64, error) {
	return f.totalEvents, f.byType, f.err
}

func (f *fakeDBStore) ListEvents(_ context.Context, _ repos.EventFilter) ([]models.EventRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeDBStore) ListAssets(context.Context, string, string, int, int) ([]models.Asset, error) {
	return nil, f.err
}

func (f *fakeDBStore) Ping(context.Context) error { return f.pingErr }

func testLogger() logx.Logger {
	return logx.New("query-test", "test", "", "error")
}

func healthyStore() *fakeDBStore {
	return &fakeDBStore{
		totalAssets: 10,
		byStatus:    map[string]int64{events.StatusActive: 7, events.StatusMaintenance: 3},
		totalEvents: 42,
		byType:      map[string]int64{events.TypeUpdate: 42},
	}
}

func TestStatsMergesLiveCollector(t *testing.T) {
	coll := &fakeCollector{snap: pipeline.Snapshot{Received: 100, Processed: 95}}
	agg := New(coll, nil, healthyStore(), testLogger())

	out := agg.Stats(context.Background())
	if !out.Collector.Available || out.Collector.Source != "live" {
		t.Fatalf("collector section = %+v, want live", out.Collector)
	}
	if out.Collector.Received != 100 {
		t.Errorf("received = %d", out.Collector.Received)
	}
	if !out.Store.Available {
		t.Fatal("store section unavailable")
	}
	if out.Store.TotalAssets != 10 || out.Store.ActiveAssets != 7 {
		t.Errorf("store counts = %+v", out.Store)
	}
}

func TestStatsFallsBackToSnapshot(t *testing.T) {
	snap := pipeline.Snapshot{Received: 50, Processed: 48}
	raw, _ := json.Marshal(snap)
	cache := &fakeCache{data: map[string][]byte{statsSnapshotKey: raw}}
	coll := &fakeCollector{err: fault.ErrQueueUnavailable}
	agg := New(coll, cache, healthyStore(), testLogger())

	out := agg.Stats(context.Background())
	if !out.Collector.Available || out.Collector.Source != "snapshot" {
		t.Fatalf("collector section = %+v, want snapshot fallback", out.Collector)
	}
	if out.Collector.Received != 50 {
		t.Errorf("received = %d, want mirrored value", out.Collector.Received)
	}
}

func TestStatsDegradesWhenCollectorFullyDown(t *testing.T) {
	coll := &fakeCollector{err: fault.ErrQueueUnavailable}
	tests := []struct {
		name  string
		cache SnapshotCache
	}{
		{"no cache configured", nil},
		{"snapshot missing", &fakeCache{}},
		{"cache erroring", &fakeCache{err: errors.New("redis down")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agg := New(coll, tc.cache, healthyStore(), testLogger())
			out := agg.Stats(context.Background())
			if out.Collector.Available {
				t.Fatal("collector section marked available with every source down")
			}
			if !out.Store.Available {
				t.Fatal("store section must stay available")
			}
		})
	}
}

func TestStatsDegradesWhenStoreDown(t *testing.T) {
	coll := &fakeCollector{snap: pipeline.Snapshot{Received: 1}}
	agg := New(coll, nil, &fakeDBStore{err: fault.ErrStoreUnavailable}, testLogger())

	out := agg.Stats(context.Background())
	if !out.Collector.Available {
		t.Fatal("collector section must stay available")
	}
	if out.Store.Available {
		t.Fatal("store section marked available with database down")
	}
}

func TestSystemMetrics(t *testing.T) {
	occurred := time.Now().UTC()
	store := healthyStore()
	store.events = []models.EventRecord{{
		EventID:    uuid.New(),
		EventType:  events.TypeSystemMetrics,
		NodeID:     "node-9",
		OccurredAt: occurred,
		Data:       map[string]any{"load_1m": 1.25},
	}}
	agg := New(&fakeCollector{}, nil, store, testLogger())

	out, err := agg.SystemMetrics(context.Background())
	if err != nil {
		t.Fatalf("SystemMetrics: %v", err)
	}
	if !out.Available || out.NodeID != "node-9" {
		t.Fatalf("metrics = %+v", out)
	}
	if out.Metrics["load_1m"] != 1.25 {
		t.Errorf("load_1m = %v", out.Metrics["load_1m"])
	}
}

func TestSystemMetricsNonePersisted(t *testing.T) {
	agg := New(&fakeCollector{}, nil, healthyStore(), testLogger())
	out, err := agg.SystemMetrics(context.Background())
	if err != nil {
		t.Fatalf("SystemMetrics: %v", err)
	}
	if out.Available {
		t.Fatal("available = true with no persisted metrics")
	}
}

func TestHealthDegrades(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		healthy    bool
		wantStatus string
		wantDB     string
		wantColl   string
	}{
		{"all up", nil, true, "ok", "ok", "ok"},
		{"db down", errors.New("refused"), true, "degraded", "unavailable", "ok"},
		{"collector down", nil, false, "degraded", "ok", "unavailable"},
		{"both down", errors.New("refused"), false, "degraded", "unavailable", "unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := healthyStore()
			store.pingErr = tc.pingErr
			agg := New(&fakeCollector{healthy: tc.healthy}, nil, store, testLogger())

			h := agg.Health(context.Background())
			if h.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", h.Status, tc.wantStatus)
			}
			if h.Downstream["database"] != tc.wantDB {
				t.Errorf("database = %q, want %q", h.Downstream["database"], tc.wantDB)
			}
			if h.Downstream["collector"] != tc.wantColl {
				t.Errorf("collector = %q, want %q", h.Downstream["collector"], tc.wantColl)
			}
		})
	}
}
