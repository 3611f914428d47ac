package pipeline

import (
	"sync"
	"time"
)

// Stats is the collector's running tally. One mutex guards every counter;
// handlers run concurrently across partitions. An event only counts as
// processed once it has been forwarded downstream, so a delivery retried
// after a forward failure never inflates the totals.
type Stats struct {
	mu            sync.Mutex
	received      int64
	invalid       int64
	duplicates    int64
	processed     int64
	eventsByType  map[string]int64
	eventsByNode  map[string]int64
	lastProcessed time.Time
	startedAt     time.Time
}

// Snapshot is the JSON view served on /stats and mirrored to redis.
type Snapshot struct {
	Received      int64            `json:"events_received"`
	Invalid       int64            `json:"events_invalid"`
	Duplicates    int64            `json:"events_duplicate"`
	Processed     int64            `json:"total_events_processed"`
	EventsByType  map[string]int64 `json:"events_by_type"`
	EventsByNode  map[string]int64 `json:"events_by_node"`
	LastProcessed *time.Time       `json:"last_processed,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

func NewStats() *Stats {
	return &Stats{
		eventsByType: make(map[string]int64),
		eventsByNode: make(map[string]int64),
		startedAt:    time.Now().UTC(),
	}
}

func (s *Stats) Received() {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
}

func (s *Stats) Invalid() {
	s.mu.Lock()
	s.invalid++
	s.mu.Unlock()
}

func (s *Stats) Duplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

func (s *Stats) Processed(eventType string, nodeID string, occurredAt time.Time) {
	s.mu.Lock()
	s.processed++
	s.eventsByType[eventType]++
	s.eventsByNode[nodeID]++
	if occurredAt.After(s.lastProcessed) {
		s.lastProcessed = occurredAt
	}
	s.mu.Unlock()
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]int64, len(s.eventsByType))
	for k, v := range s.eventsByType {
		byType[k] = v
	}
	byNode := make(map[string]int64, len(s.eventsByNode))
	for k, v := range s.eventsByNode {
		byNode[k] = v
	}
	snap := Snapshot{
		Received:      s.received,
		Invalid:       s.invalid,
		Duplicates:    s.duplicates,
		Processed:     s.processed,
		EventsByType:  byType,
		EventsByNode:  byNode,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if !s.lastProcessed.IsZero() {
		t := s.lastProcessed
		snap.LastProcessed = &t
	}
	return snap
}
