package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"assettrack/processor/models"
)

type AssetsRepo struct {
	pool *pgxpool.Pool
}

func NewAssetsRepo(pool *pgxpool.Pool) *AssetsRepo {
	return &AssetsRepo{pool: pool}
}

// AssetPatch carries the optional fields of an update. Nil means
// "leave unchanged".
type AssetPatch struct {
	Name     *string
	Type     *string
	Location *string
	Status   *string
	Metadata map[string]any
}

func (r *AssetsRepo) Insert(ctx context.Context, db DBTX, asset models.Asset) (models.Asset, error) {
	if asset.AssetID == uuid.Nil {
		asset.AssetID = uuid.New()
	}
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.LastUpdated.IsZero() {
		asset.LastUpdated = asset.CreatedAt
	}
	meta, err := marshalMeta(asset.Metadata)
	if err != nil {
		return models.Asset{}, err
	}

	err = db.QueryRow(ctx, `
		INSERT INTO assets (asset_id, name, type, location, status, node_id, metadata, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING asset_id, name, type, location, status, node_id, metadata, created_at, last_updated
	`, asset.AssetID, asset.Name, asset.Type, asset.Location, asset.Status, asset.NodeID, meta, asset.CreatedAt, asset.LastUpdated).
		Scan(&asset.AssetID, &asset.Name, &asset.Type, &asset.Location, &asset.Status, &asset.NodeID, &meta, &asset.CreatedAt, &asset.LastUpdated)
	if err != nil {
		return models.Asset{}, Classify(err)
	}
	asset.Metadata, err = unmarshalMeta(meta)
	return asset, err
}

func (r *AssetsRepo) Get(ctx context.Context, db DBTX, assetID uuid.UUID) (models.Asset, error) {
	if db == nil {
		db = r.pool
	}
	var asset models.Asset
	var meta []byte
	err := db.QueryRow(ctx, `
		SELECT asset_id, name, type, location, status, node_id, metadata, created_at, last_updated
		FROM assets
		WHERE asset_id = $1
	`, assetID).
		Scan(&asset.AssetID, &asset.Name, &asset.Type, &asset.Location, &asset.Status, &asset.NodeID, &meta, &asset.CreatedAt, &asset.LastUpdated)
	if err != nil {
		return models.Asset{}, Classify(err)
	}
	asset.Metadata, err = unmarshalMeta(meta)
	return asset, err
}

func (r *AssetsRepo) List(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT asset_id, name, type, location, status, node_id, metadata, created_at, last_updated
		FROM assets
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		ORDER BY last_updated DESC
		LIMIT $3 OFFSET $4
	`, status, assetType, limit, offset)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	assets := make([]models.Asset, 0, limit)
	for rows.Next() {
		var asset models.Asset
		var meta []byte
		if err := rows.Scan(&asset.AssetID, &asset.Name, &asset.Type, &asset.Location, &asset.Status, &asset.NodeID, &meta, &asset.CreatedAt, &asset.LastUpdated); err != nil {
			return nil, Classify(err)
		}
		if asset.Metadata, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, Classify(rows.Err())
}

// Update applies a partial patch, bumping last_updated. Metadata maps merge
// key by key rather than replacing the whole document.
func (r *AssetsRepo) Update(ctx context.Context, db DBTX, assetID uuid.UUID, patch AssetPatch) (models.Asset, error) {
	meta, err := marshalMeta(patch.Metadata)
	if err != nil {
		return models.Asset{}, err
	}

	var asset models.Asset
	var outMeta []byte
	err = db.QueryRow(ctx, `
		UPDATE assets
		SET name = COALESCE($2, name),
			type = COALESCE($3, type),
			location = COALESCE($4, location),
			status = COALESCE($5, status),
			metadata = CASE WHEN $6::jsonb IS NULL THEN metadata ELSE metadata || $6::jsonb END,
			last_updated = now()
		WHERE asset_id = $1
		RETURNING asset_id, name, type, location, status, node_id, metadata, created_at, last_updated
	`, assetID, patch.Name, patch.Type, patch.Location, patch.Status, meta).
		Scan(&asset.AssetID, &asset.Name, &asset.Type, &asset.Location, &asset.Status, &asset.NodeID, &outMeta, &asset.CreatedAt, &asset.LastUpdated)
	if err != nil {
		return models.Asset{}, Classify(err)
	}
	asset.Metadata, err = unmarshalMeta(outMeta)
	return asset, err
}

// Delete removes the row. Returns fault.ErrNotFound when no row matched.
func (r *AssetsRepo) Delete(ctx context.Context, db DBTX, assetID uuid.UUID) (bool, error) {
	tag, err := db.Exec(ctx, `DELETE FROM assets WHERE asset_id = $1`, assetID)
	if err != nil {
		return false, Classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus returns total plus a per-status breakdown in one scan.
func (r *AssetsRepo) CountByStatus(ctx context.Context) (int64, map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM assets
		GROUP BY status
	`)
	if err != nil {
		return 0, nil, Classify(err)
	}
	defer rows.Close()

	var total int64
	byStatus := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return 0, nil, Classify(err)
		}
		byStatus[status] = n
		total += n
	}
	return total, byStatus, Classify(rows.Err())
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}

func unmarshalMeta(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
