// Package apply owns every write to the asset store. Each apply is one
// transaction carrying the asset mutation, the event log row and the
// idempotency marker, so redelivered events observe either all of it
// or none of it.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/events"
	"assettrack/shared/fault"
	"assettrack/shared/logx"
	"assettrack/shared/metricsx"
)

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeNoop      = "noop"
)

// The store talks to persistence through these narrow ports. Production
// wires the pgx-backed repos; tests substitute in-memory fakes.
type assetWriter interface {
	Insert(ctx context.Context, db repos.DBTX, asset models.Asset) (models.Asset, error)
	Get(ctx context.Context, db repos.DBTX, assetID uuid.UUID) (models.Asset, error)
	Update(ctx context.Context, db repos.DBTX, assetID uuid.UUID, patch repos.AssetPatch) (models.Asset, error)
	Delete(ctx context.Context, db repos.DBTX, assetID uuid.UUID) (bool, error)
	List(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error)
	CountByStatus(ctx context.Context) (int64, map[string]int64, error)
}

type eventLog interface {
	Insert(ctx context.Context, db repos.DBTX, rec models.EventRecord) error
	List(ctx context.Context, filter repos.EventFilter) ([]models.EventRecord, error)
	CountByType(ctx context.Context) (int64, map[string]int64, error)
}

type appliedLedger interface {
	TryMark(ctx context.Context, db repos.DBTX, eventID uuid.UUID, outcome string) (bool, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, db repos.DBTX, event models.OutboxEvent) (models.OutboxEvent, error)
}

// txRunner runs fn inside one transaction. The DBTX handed to fn is what
// every repo call in the unit of work must use.
type txRunner interface {
	InTx(ctx context.Context, fn func(db repos.DBTX) error) error
}

type poolRunner struct {
	pool *pgxpool.Pool
}

func (p poolRunner) InTx(ctx context.Context, fn func(db repos.DBTX) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return repos.Classify(err)
	}
	return nil
}

type Store struct {
	db     txRunner
	assets assetWriter
	events eventLog
	ledger appliedLedger
	outbox outboxWriter
	logger logx.Logger
}

func NewStore(pool *pgxpool.Pool, logger logx.Logger) *Store {
	return &Store{
		db:     poolRunner{pool: pool},
		assets: repos.NewAssetsRepo(pool),
		events: repos.NewEventsRepo(pool),
		ledger: repos.NewLedgerRepo(pool),
		outbox: repos.NewOutboxRepo(pool),
		logger: logger,
	}
}

// Apply consumes one validated envelope. The idempotency marker is taken
// first inside the transaction: when another delivery already holds it the
// whole apply collapses to a duplicate no-op. Unknown asset ids on update,
// delete and maintenance are logged no-ops rather than failures, because
// under at-least-once delivery the asset may legitimately already be gone.
func (s *Store) Apply(ctx context.Context, env events.Envelope) (string, error) {
	if err := env.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", fault.ErrValidation, err)
	}

	start := time.Now()
	var outcome string
	err := s.db.InTx(ctx, func(db repos.DBTX) error {
		fresh, err := s.ledger.TryMark(ctx, db, env.EventID, OutcomeApplied)
		if err != nil {
			return err
		}
		if !fresh {
			metricsx.IncEventDuplicate("store")
			outcome = OutcomeDuplicate
			return nil
		}

		if err := s.events.Insert(ctx, db, eventRecord(env)); err != nil {
			return err
		}

		outcome, err = s.mutate(ctx, db, env)
		return err
	})
	if err != nil {
		return "", err
	}
	metricsx.ObserveApplyLatency(time.Since(start))
	return outcome, nil
}

func (s *Store) mutate(ctx context.Context, db repos.DBTX, env events.Envelope) (string, error) {
	switch env.EventType {
	case events.TypeCreate:
		return s.applyCreate(ctx, db, env)
	case events.TypeUpdate:
		return s.applyUpdate(ctx, db, env, nil)
	case events.TypeMaintenance:
		status := events.StatusMaintenance
		return s.applyUpdate(ctx, db, env, &status)
	case events.TypeDelete:
		return s.applyDelete(ctx, db, env)
	case events.TypeSystemMetrics:
		// Metrics snapshots only feed the event log; no inventory row moves.
		return OutcomeApplied, nil
	default:
		return "", fmt.Errorf("%w: unknown event_type %q", fault.ErrValidation, env.EventType)
	}
}

func (s *Store) applyCreate(ctx context.Context, db repos.DBTX, env events.Envelope) (string, error) {
	if _, err := s.assets.Get(ctx, db, *env.AssetID); err == nil {
		s.logger.Info(ctx, "apply_create_noop", "asset already exists",
			slog.String("event_id", env.EventID.String()),
			slog.String("asset_id", env.AssetID.String()),
		)
		return OutcomeNoop, nil
	}

	name, _ := env.Data.String("name")
	if name == "" {
		name = "asset-" + env.AssetID.String()[:8]
	}
	assetType, _ := env.Data.String("type")
	location, _ := env.Data.String("location")
	status := events.NormalizeStatus(statusOrDefault(env.Data))
	if !events.KnownStatus(status) {
		return "", fmt.Errorf("%w: unknown status %q", fault.ErrValidation, status)
	}

	_, err := s.assets.Insert(ctx, db, models.Asset{
		AssetID:   *env.AssetID,
		Name:      name,
		Type:      assetType,
		Location:  location,
		Status:    status,
		NodeID:    env.NodeID,
		Metadata:  metadataFrom(env.Data),
		CreatedAt: env.OccurredAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (s *Store) applyUpdate(ctx context.Context, db repos.DBTX, env events.Envelope, forceStatus *string) (string, error) {
	patch := repos.AssetPatch{Status: forceStatus}
	if name, ok := env.Data.String("name"); ok && name != "" {
		patch.Name = &name
	}
	if assetType, ok := env.Data.String("type"); ok && assetType != "" {
		patch.Type = &assetType
	}
	if location, ok := env.Data.String("location"); ok && location != "" {
		patch.Location = &location
	}
	if forceStatus == nil {
		if raw, ok := env.Data.String("status"); ok {
			status := events.NormalizeStatus(raw)
			if !events.KnownStatus(status) {
				return "", fmt.Errorf("%w: unknown status %q", fault.ErrValidation, raw)
			}
			patch.Status = &status
		}
	}
	patch.Metadata = metadataFrom(env.Data)

	_, err := s.assets.Update(ctx, db, *env.AssetID, patch)
	if err != nil {
		if isNotFound(err) {
			s.logger.Warn(ctx, "apply_update_noop", "asset not found for update",
				slog.String("event_id", env.EventID.String()),
				slog.String("asset_id", env.AssetID.String()),
				slog.String("event_type", env.EventType),
			)
			return OutcomeNoop, nil
		}
		return "", err
	}
	return OutcomeApplied, nil
}

func (s *Store) applyDelete(ctx context.Context, db repos.DBTX, env events.Envelope) (string, error) {
	deleted, err := s.assets.Delete(ctx, db, *env.AssetID)
	if err != nil {
		return "", err
	}
	if !deleted {
		s.logger.Warn(ctx, "apply_delete_noop", "asset not found for delete",
			slog.String("event_id", env.EventID.String()),
			slog.String("asset_id", env.AssetID.String()),
		)
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

func eventRecord(env events.Envelope) models.EventRecord {
	return models.EventRecord{
		EventID:    env.EventID,
		EventType:  env.EventType,
		NodeID:     env.NodeID,
		AssetID:    env.AssetID,
		OccurredAt: env.OccurredAt.UTC(),
		Data:       env.Data,
		ReceivedAt: time.Now().UTC(),
	}
}

func statusOrDefault(data events.Payload) string {
	if s, ok := data.String("status"); ok && s != "" {
		return s
	}
	return events.StatusActive
}

// metadataFrom keeps the open payload keys that are not lifted into
// first-class columns.
func metadataFrom(data events.Payload) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "name", "type", "location", "status":
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, fault.ErrNotFound)
}
