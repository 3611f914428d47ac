package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/events"
	"assettrack/shared/fault"
)

// CreateAssetInput is an API-originated create. Unlike the pipeline path,
// API writes fail loudly: a duplicate id is a 409, not a no-op.
type CreateAssetInput struct {
	Name     string
	Type     string
	Location string
	Status   string
	NodeID   string
	Metadata map[string]any
}

func (s *Store) CreateAsset(ctx context.Context, in CreateAssetInput) (models.Asset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Asset{}, fmt.Errorf("%w: name is required", fault.ErrValidation)
	}
	status := events.NormalizeStatus(in.Status)
	if status == "" {
		status = events.StatusActive
	}
	if !events.KnownStatus(status) {
		return models.Asset{}, fmt.Errorf("%w: unknown status %q", fault.ErrValidation, in.Status)
	}
	nodeID := strings.TrimSpace(in.NodeID)
	if nodeID == "" {
		nodeID = "api"
	}

	var created models.Asset
	err := s.db.InTx(ctx, func(db repos.DBTX) error {
		asset, err := s.assets.Insert(ctx, db, models.Asset{
			Name:     name,
			Type:     strings.TrimSpace(in.Type),
			Location: strings.TrimSpace(in.Location),
			Status:   status,
			NodeID:   nodeID,
			Metadata: in.Metadata,
		})
		if err != nil {
			return err
		}
		created = asset
		return s.recordMutation(ctx, db, events.TypeCreate, asset, in.Metadata)
	})
	if err != nil {
		return models.Asset{}, err
	}
	return created, nil
}

type UpdateAssetInput struct {
	Name     *string
	Type     *string
	Location *string
	Status   *string
	Metadata map[string]any
}

func (s *Store) UpdateAsset(ctx context.Context, assetID uuid.UUID, in UpdateAssetInput) (models.Asset, error) {
	patch := repos.AssetPatch{Type: in.Type, Location: in.Location, Metadata: in.Metadata}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return models.Asset{}, fmt.Errorf("%w: name must not be empty", fault.ErrValidation)
		}
		patch.Name = &name
	}
	if in.Status != nil {
		status := events.NormalizeStatus(*in.Status)
		if !events.KnownStatus(status) {
			return models.Asset{}, fmt.Errorf("%w: unknown status %q", fault.ErrValidation, *in.Status)
		}
		patch.Status = &status
	}
	if patch.Name == nil && patch.Type == nil && patch.Location == nil && patch.Status == nil && len(patch.Metadata) == 0 {
		return models.Asset{}, fmt.Errorf("%w: no fields to update", fault.ErrValidation)
	}

	var updated models.Asset
	err := s.db.InTx(ctx, func(db repos.DBTX) error {
		asset, err := s.assets.Update(ctx, db, assetID, patch)
		if err != nil {
			return err
		}
		updated = asset
		return s.recordMutation(ctx, db, events.TypeUpdate, asset, in.Metadata)
	})
	if err != nil {
		return models.Asset{}, err
	}
	return updated, nil
}

func (s *Store) DeleteAsset(ctx context.Context, assetID uuid.UUID) error {
	return s.db.InTx(ctx, func(db repos.DBTX) error {
		asset, err := s.assets.Get(ctx, db, assetID)
		if err != nil {
			return err
		}
		if _, err := s.assets.Delete(ctx, db, assetID); err != nil {
			return err
		}
		return s.recordMutation(ctx, db, events.TypeDelete, asset, nil)
	})
}

// recordMutation writes the event log row, the idempotency marker and the
// outbox row for one API mutation. The marker means the pipeline consumer
// treats the outbox-published copy of this event as a duplicate, so local
// state is never double-applied.
func (s *Store) recordMutation(ctx context.Context, db repos.DBTX, eventType string, asset models.Asset, extraMeta map[string]any) error {
	eventID := uuid.New()
	now := time.Now().UTC()
	assetID := asset.AssetID

	data := events.Payload{"name": asset.Name, "status": asset.Status}
	if asset.Type != "" {
		data["type"] = asset.Type
	}
	if asset.Location != "" {
		data["location"] = asset.Location
	}
	for k, v := range extraMeta {
		data[k] = v
	}

	if err := s.events.Insert(ctx, db, models.EventRecord{
		EventID:    eventID,
		EventType:  eventType,
		NodeID:     asset.NodeID,
		AssetID:    &assetID,
		OccurredAt: now,
		Data:       data,
		ReceivedAt: now,
	}); err != nil {
		return err
	}

	fresh, err := s.ledger.TryMark(ctx, db, eventID, OutcomeApplied)
	if err != nil {
		return err
	}
	if !fresh {
		return fmt.Errorf("%w: event id collision", fault.ErrConflict)
	}

	env := events.Envelope{
		EventID:    eventID,
		EventType:  eventType,
		NodeID:     asset.NodeID,
		AssetID:    &assetID,
		OccurredAt: now,
		Data:       data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.outbox.Insert(ctx, db, models.OutboxEvent{
		EventID:       eventID,
		AggregateType: "asset",
		AggregateID:   &assetID,
		Topic:         events.TopicAssetEvents,
		Payload:       payload,
	})
	return err
}
