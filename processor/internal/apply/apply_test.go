package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/events"
	"assettrack/shared/fault"
	"assettrack/shared/logx"
)

type memDB struct{}

func (memDB) InTx(_ context.Context, fn func(db repos.DBTX) error) error {
	return fn(nil)
}

type memAssets struct {
	byID map[uuid.UUID]models.Asset
}

func (m *memAssets) Insert(_ context.Context, _ repos.DBTX, asset models.Asset) (models.Asset, error) {
	if asset.AssetID == uuid.Nil {
		asset.AssetID = uuid.New()
	}
	if _, ok := m.byID[asset.AssetID]; ok {
		return models.Asset{}, fmt.Errorf("%w: asset exists", fault.ErrConflict)
	}
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.LastUpdated = now
	m.byID[asset.AssetID] = asset
	return asset, nil
}

func (m *memAssets) Get(_ context.Context, _ repos.DBTX, assetID uuid.UUID) (models.Asset, error) {
	asset, ok := m.byID[assetID]
	if !ok {
		return models.Asset{}, fault.ErrNotFound
	}
	return asset, nil
}

func (m *memAssets) Update(_ context.Context, _ repos.DBTX, assetID uuid.UUID, patch repos.AssetPatch) (models.Asset, error) {
	asset, ok := m.byID[assetID]
	if !ok {
		return models.Asset{}, fault.ErrNotFound
	}
	if patch.Name != nil {
		asset.Name = *patch.Name
	}
	if patch.Type != nil {
		asset.Type = *patch.Type
	}
	if patch.Location != nil {
		asset.Location = *patch.Location
	}
	if patch.Status != nil {
		asset.Status = *patch.Status
	}
	if len(patch.Metadata) > 0 {
		if asset.Metadata == nil {
			asset.Metadata = make(map[string]any)
		}
		for k, v := range patch.Metadata {
			asset.Metadata[k] = v
		}
	}
	asset.LastUpdated = time.Now().UTC()
	m.byID[assetID] = asset
	return asset, nil
}

func (m *memAssets) Delete(_ context.Context, _ repos.DBTX, assetID uuid.UUID) (bool, error) {
	if _, ok := m.byID[assetID]; !ok {
		return false, nil
	}
	delete(m.byID, assetID)
	return true, nil
}

func (m *memAssets) List(_ context.Context, status string, assetType string, _ int, _ int) ([]models.Asset, error) {
	out := make([]models.Asset, 0, len(m.byID))
	for _, a := range m.byID {
		if status != "" && a.Status != status {
			continue
		}
		if assetType != "" && a.Type != assetType {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memAssets) CountByStatus(context.Context) (int64, map[string]int64, error) {
	byStatus := make(map[string]int64)
	for _, a := range m.byID {
		byStatus[a.Status]++
	}
	return int64(len(m.byID)), byStatus, nil
}

type memEvents struct {
	rows []models.EventRecord
}

func (m *memEvents) Insert(_ context.Context, _ repos.DBTX, rec models.EventRecord) error {
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memEvents) List(_ context.Context, _ repos.EventFilter) ([]models.EventRecord, error) {
	return m.rows, nil
}

func (m *memEvents) CountByType(context.Context) (int64, map[string]int64, error) {
	byType := make(map[string]int64)
	for _, rec := range m.rows {
		byType[rec.EventType]++
	}
	return int64(len(m.rows)), byType, nil
}

type memLedger struct {
	marks map[uuid.UUID]string
}

func (m *memLedger) TryMark(_ context.Context, _ repos.DBTX, eventID uuid.UUID, outcome string) (bool, error) {
	if _, ok := m.marks[eventID]; ok {
		return false, nil
	}
	m.marks[eventID] = outcome
	return true, nil
}

type memOutbox struct {
	rows []models.OutboxEvent
}

func (m *memOutbox) Insert(_ context.Context, _ repos.DBTX, event models.OutboxEvent) (models.OutboxEvent, error) {
	m.rows = append(m.rows, event)
	return event, nil
}

type memStore struct {
	store  *Store
	assets *memAssets
	events *memEvents
	ledger *memLedger
	outbox *memOutbox
}

func newMemStore() memStore {
	assets := &memAssets{byID: make(map[uuid.UUID]models.Asset)}
	eventLog := &memEvents{}
	ledger := &memLedger{marks: make(map[uuid.UUID]string)}
	outbox := &memOutbox{}
	return memStore{
		store: &Store{
			db:     memDB{},
			assets: assets,
			events: eventLog,
			ledger: ledger,
			outbox: outbox,
			logger: logx.New("apply-test", "test", "", "error"),
		},
		assets: assets,
		events: eventLog,
		ledger: ledger,
		outbox: outbox,
	}
}

func newCreateEnvelope(assetID uuid.UUID) events.Envelope {
	return events.Envelope{
		EventID:    uuid.New(),
		EventType:  events.TypeCreate,
		NodeID:     "node-1",
		AssetID:    &assetID,
		OccurredAt: time.Now().UTC(),
		Data:       events.Payload{"name": "forklift-7", "type": "vehicle", "location": "warehouse-2", "status": "active", "capacity_kg": 2000.0},
	}
}

func TestApplySameEnvelopeTwiceIsDuplicate(t *testing.T) {
	m := newMemStore()
	ctx := context.Background()
	assetID := uuid.New()
	env := newCreateEnvelope(assetID)

	outcome, err := m.store.Apply(ctx, env)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("first outcome = %q, want applied", outcome)
	}

	outcome, err = m.store.Apply(ctx, env)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("second outcome = %q, want duplicate", outcome)
	}
	if len(m.events.rows) != 1 {
		t.Errorf("event log has %d rows, want 1", len(m.events.rows))
	}
	if len(m.assets.byID) != 1 {
		t.Errorf("store holds %d assets, want 1", len(m.assets.byID))
	}
}

func TestApplyCreateLiftsNamedFields(t *testing.T) {
	m := newMemStore()
	assetID := uuid.New()

	if _, err := m.store.Apply(context.Background(), newCreateEnvelope(assetID)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	asset := m.assets.byID[assetID]
	if asset.Name != "forklift-7" || asset.Type != "vehicle" || asset.Location != "warehouse-2" {
		t.Errorf("asset = %+v, named fields not lifted", asset)
	}
	if asset.Status != events.StatusActive {
		t.Errorf("status = %q", asset.Status)
	}
	if asset.Metadata["capacity_kg"] != 2000.0 {
		t.Errorf("metadata = %v, open keys must land there", asset.Metadata)
	}
	if _, ok := asset.Metadata["name"]; ok {
		t.Error("lifted field duplicated into metadata")
	}
}

func TestApplyLifecycle(t *testing.T) {
	m := newMemStore()
	ctx := context.Background()
	assetID := uuid.New()

	if _, err := m.store.Apply(ctx, newCreateEnvelope(assetID)); err != nil {
		t.Fatalf("create: %v", err)
	}

	update := events.Envelope{
		EventID:    uuid.New(),
		EventType:  events.TypeMaintenance,
		NodeID:     "node-1",
		AssetID:    &assetID,
		OccurredAt: time.Now().UTC(),
		Data:       events.Payload{"site": "floor-2"},
	}
	outcome, err := m.store.Apply(ctx, update)
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("maintenance outcome = %q, err = %v", outcome, err)
	}
	asset := m.assets.byID[assetID]
	if asset.Status != events.StatusMaintenance {
		t.Errorf("status = %q after maintenance event", asset.Status)
	}
	if asset.Metadata["site"] != "floor-2" || asset.Metadata["capacity_kg"] != 2000.0 {
		t.Errorf("metadata = %v, update must merge not replace", asset.Metadata)
	}

	del := events.Envelope{
		EventID:    uuid.New(),
		EventType:  events.TypeDelete,
		NodeID:     "node-1",
		AssetID:    &assetID,
		OccurredAt: time.Now().UTC(),
	}
	if outcome, err := m.store.Apply(ctx, del); err != nil || outcome != OutcomeApplied {
		t.Fatalf("delete outcome = %q, err = %v", outcome, err)
	}

	// Deleting again is a recorded no-op, not a failure.
	del.EventID = uuid.New()
	outcome, err = m.store.Apply(ctx, del)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Fatalf("second delete outcome = %q, want noop", outcome)
	}
}

func TestApplyUpdateMissingAssetIsNoop(t *testing.T) {
	m := newMemStore()
	assetID := uuid.New()
	env := events.Envelope{
		EventID:    uuid.New(),
		EventType:  events.TypeUpdate,
		NodeID:     "node-1",
		AssetID:    &assetID,
		OccurredAt: time.Now().UTC(),
		Data:       events.Payload{"name": "ghost"},
	}

	outcome, err := m.store.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Fatalf("outcome = %q, want noop", outcome)
	}
	if len(m.events.rows) != 1 {
		t.Errorf("event log has %d rows; noops are still recorded", len(m.events.rows))
	}
}

func TestCreateAssetWritesOutboxAndLedger(t *testing.T) {
	m := newMemStore()

	asset, err := m.store.CreateAsset(context.Background(), CreateAssetInput{
		Name:     "forklift-7",
		Type:     "vehicle",
		Location: "warehouse-2",
		Metadata: map[string]any{"capacity_kg": 2000.0},
	})
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	if len(m.outbox.rows) != 1 {
		t.Fatalf("outbox has %d rows, want 1", len(m.outbox.rows))
	}
	row := m.outbox.rows[0]
	if row.Topic != events.TopicAssetEvents {
		t.Errorf("outbox topic = %q", row.Topic)
	}
	var env events.Envelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		t.Fatalf("outbox payload: %v", err)
	}
	if env.AssetID == nil || *env.AssetID != asset.AssetID {
		t.Errorf("outbox envelope asset_id = %v, want %s", env.AssetID, asset.AssetID)
	}
	if env.Data["type"] != "vehicle" || env.Data["location"] != "warehouse-2" {
		t.Errorf("outbox envelope data = %v", env.Data)
	}
	if _, marked := m.ledger.marks[env.EventID]; !marked {
		t.Error("ledger not marked; the outbox copy would be re-applied")
	}

	// The store consumer sees the outbox-published copy as a duplicate.
	outcome, err := m.store.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("Apply of outbox copy: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want duplicate", outcome)
	}
}
