package aggregate

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/dbx"
)

// DBStore implements StoreSource on the shared Postgres schema. The query
// service only ever reads.
type DBStore struct {
	pool   *pgxpool.Pool
	assets *repos.AssetsRepo
	events *repos.EventsRepo
}

func NewDBStore(pool *pgxpool.Pool) *DBStore {
	return &DBStore{
		pool:   pool,
		assets: repos.NewAssetsRepo(pool),
		events: repos.NewEventsRepo(pool),
	}
}

func (s *DBStore) CountAssetsByStatus(ctx context.Context) (int64, map[string]int64, error) {
	return s.assets.CountByStatus(ctx)
}

func (s *DBStore) CountEventsByType(ctx context.Context) (int64, map[string]int64, error) {
	return s.events.CountByType(ctx)
}

func (s *DBStore) ListEvents(ctx context.Context, f repos.EventFilter) ([]models.EventRecord, error) {
	return s.events.List(ctx, f)
}

func (s *DBStore) ListAssets(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error) {
	return s.assets.List(ctx, status, assetType, limit, offset)
}

func (s *DBStore) Ping(ctx context.Context) error {
	return dbx.Ping(ctx, s.pool)
}
