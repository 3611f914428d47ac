package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepo persists which event ids have already been applied. It is the
// idempotency floor under at-least-once delivery: the marker row is written
// in the same transaction as the asset mutation, so either both land or
// neither does.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// TryMark inserts the applied marker for eventID. It returns false when the
// marker already exists, meaning a previous delivery won the race and this
// one must be a no-op. Concurrent inserts of the same id serialize on the
// primary key, so exactly one caller ever sees true.
func (r *LedgerRepo) TryMark(ctx context.Context, db DBTX, eventID uuid.UUID, outcome string) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO applied_events (event_id, outcome, applied_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, outcome)
	if err != nil {
		return false, Classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LedgerRepo) Applied(ctx context.Context, db DBTX, eventID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.pool
	}
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM applied_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, Classify(err)
	}
	return exists, nil
}
