package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"assettrack/processor/models"
)

type EventsRepo struct {
	pool *pgxpool.Pool
}

func NewEventsRepo(pool *pgxpool.Pool) *EventsRepo {
	return &EventsRepo{pool: pool}
}

func (r *EventsRepo) Insert(ctx context.Context, db DBTX, rec models.EventRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	var data []byte
	if rec.Data != nil {
		b, err := json.Marshal(rec.Data)
		if err != nil {
			return err
		}
		data = b
	}
	_, err := db.Exec(ctx, `
		INSERT INTO asset_events (event_id, event_type, node_id, asset_id, occurred_at, data, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.EventID, rec.EventType, rec.NodeID, rec.AssetID, rec.OccurredAt, data, rec.ReceivedAt)
	return Classify(err)
}

// EventFilter narrows List. Zero values mean "no filter".
type EventFilter struct {
	EventType string
	NodeID    string
	AssetID   *uuid.UUID
	Limit     int
	Offset    int
}

func (r *EventsRepo) List(ctx context.Context, f EventFilter) ([]models.EventRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, event_type, node_id, asset_id, occurred_at, data, received_at
		FROM asset_events
		WHERE ($1 = '' OR event_type = $1)
		  AND ($2 = '' OR node_id = $2)
		  AND ($3::uuid IS NULL OR asset_id = $3)
		ORDER BY received_at DESC
		LIMIT $4 OFFSET $5
	`, f.EventType, f.NodeID, f.AssetID, f.Limit, f.Offset)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	recs := make([]models.EventRecord, 0, f.Limit)
	for rows.Next() {
		var rec models.EventRecord
		var data []byte
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.NodeID, &rec.AssetID, &rec.OccurredAt, &data, &rec.ReceivedAt); err != nil {
			return nil, Classify(err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Data); err != nil {
				return nil, err
			}
		}
		recs = append(recs, rec)
	}
	return recs, Classify(rows.Err())
}

func (r *EventsRepo) CountByType(ctx context.Context) (int64, map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_type, count(*)
		FROM asset_events
		GROUP BY event_type
	`)
	if err != nil {
		return 0, nil, Classify(err)
	}
	defer rows.Close()

	var total int64
	byType := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return 0, nil, Classify(err)
		}
		byType[eventType] = n
		total += n
	}
	return total, byType, Classify(rows.Err())
}
