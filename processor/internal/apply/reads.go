package apply

import (
	"context"

	"github.com/google/uuid"

	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/events"
)

func (s *Store) GetAsset(ctx context.Context, assetID uuid.UUID) (models.Asset, error) {
	return s.assets.Get(ctx, nil, assetID)
}

func (s *Store) ListAssets(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error) {
	return s.assets.List(ctx, status, assetType, limit, offset)
}

func (s *Store) ListEvents(ctx context.Context, filter repos.EventFilter) ([]models.EventRecord, error) {
	return s.events.List(ctx, filter)
}

// StoreStats is the store-derived half of /stats.
type StoreStats struct {
	TotalAssets   int64            `json:"total_assets"`
	ActiveAssets  int64            `json:"active_assets"`
	AssetsByState map[string]int64 `json:"assets_by_status"`
	TotalEvents   int64            `json:"total_events"`
	EventsByType  map[string]int64 `json:"events_by_type"`
}

func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	totalAssets, byStatus, err := s.assets.CountByStatus(ctx)
	if err != nil {
		return StoreStats{}, err
	}
	totalEvents, byType, err := s.events.CountByType(ctx)
	if err != nil {
		return StoreStats{}, err
	}
	return StoreStats{
		TotalAssets:   totalAssets,
		ActiveAssets:  byStatus[events.StatusActive],
		AssetsByState: byStatus,
		TotalEvents:   totalEvents,
		EventsByType:  byType,
	}, nil
}
