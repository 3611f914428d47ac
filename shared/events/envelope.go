// Package events defines the wire envelope shared by every pipeline stage.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TopicAssetEvents    = "asset.events"
	TopicAssetValidated = "asset.events.validated"
	TopicAssetDLQ       = "asset.events.dlq"
)

const (
	TypeCreate        = "create"
	TypeUpdate        = "update"
	TypeDelete        = "delete"
	TypeMaintenance   = "maintenance"
	TypeSystemMetrics = "system_metrics"
)

const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"
)

// Envelope is the canonical record for one observed event. Immutable once
// published; EventID is the dedup and idempotency key for its whole lifetime.
type Envelope struct {
	EventID    uuid.UUID  `json:"event_id"`
	EventType  string     `json:"event_type"`
	NodeID     string     `json:"node_id"`
	AssetID    *uuid.UUID `json:"asset_id,omitempty"`
	OccurredAt time.Time  `json:"timestamp"`
	Data       Payload    `json:"data,omitempty"`
}

func KnownType(eventType string) bool {
	switch eventType {
	case TypeCreate, TypeUpdate, TypeDelete, TypeMaintenance, TypeSystemMetrics:
		return true
	}
	return false
}

func KnownStatus(status string) bool {
	switch status {
	case StatusActive, StatusInactive, StatusMaintenance:
		return true
	}
	return false
}

func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Validate checks the schema contract: required fields present, event_type
// enumerated, asset_id present for asset-scoped types and optional only for
// system_metrics.
func (e Envelope) Validate() error {
	if e.EventID == uuid.Nil {
		return errors.New("event_id is required")
	}
	if !KnownType(e.EventType) {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if strings.TrimSpace(e.NodeID) == "" {
		return errors.New("node_id is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.EventType != TypeSystemMetrics {
		if e.AssetID == nil || *e.AssetID == uuid.Nil {
			return fmt.Errorf("asset_id is required for %s events", e.EventType)
		}
	}
	return nil
}
