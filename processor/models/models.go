package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset is one inventory row. LastUpdated bumps on every applied mutation
// and on delete the row is removed outright, not tombstoned.
type Asset struct {
	AssetID     uuid.UUID      `json:"asset_id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Location    string         `json:"location"`
	Status      string         `json:"status"`
	NodeID      string         `json:"node_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

// EventRecord is the persisted log of one applied envelope.
type EventRecord struct {
	EventID    uuid.UUID      `json:"event_id"`
	EventType  string         `json:"event_type"`
	NodeID     string         `json:"node_id"`
	AssetID    *uuid.UUID     `json:"asset_id,omitempty"`
	OccurredAt time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// LedgerEntry marks an event id as applied. Outcome records what the
// apply did so replays can be audited.
type LedgerEntry struct {
	EventID   uuid.UUID `json:"event_id"`
	Outcome   string    `json:"outcome"`
	AppliedAt time.Time `json:"applied_at"`
}

type OutboxEvent struct {
	EventID       uuid.UUID  `json:"event_id"`
	AggregateType string     `json:"aggregate_type"`
	AggregateID   *uuid.UUID `json:"aggregate_id,omitempty"`
	Topic         string     `json:"topic"`
	Payload       []byte     `json:"payload"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LockedBy      *string    `json:"locked_by,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

type AuditLog struct {
	AuditID      int64     `json:"audit_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	Action       string    `json:"action"`
	ResourceType *string   `json:"resource_type,omitempty"`
	ResourceID   *string   `json:"resource_id,omitempty"`
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	StatusCode   int       `json:"status_code"`
	DurationMS   int64     `json:"duration_ms"`
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
	Details      []byte    `json:"details,omitempty"`
}
