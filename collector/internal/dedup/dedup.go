// Package dedup provides the bounded event-id window the collector uses to
// drop duplicate deliveries. The window is best effort: ids older than the
// TTL or evicted by the size cap may pass again, which is safe because the
// store applies idempotently downstream.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Window marks event ids as seen. CheckAndMark returns true when the id was
// already inside the window. Forget unmarks an id so a delivery whose forward
// failed is not dropped as a duplicate when the consumer retries it.
type Window interface {
	CheckAndMark(ctx context.Context, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, eventID uuid.UUID) error
}

type memoryEntry struct {
	id      uuid.UUID
	expires time.Time
}

// Memory is an in-process window bounded by both entry count and TTL.
// Eviction is FIFO, matching arrival order.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List
	index   map[uuid.UUID]*list.Element
	now     func() time.Time
}

func NewMemory(maxSize int, ttl time.Duration) *Memory {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		index:   make(map[uuid.UUID]*list.Element, maxSize),
		now:     time.Now,
	}
}

func (m *Memory) CheckAndMark(_ context.Context, eventID uuid.UUID) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expire(now)

	if _, ok := m.index[eventID]; ok {
		return true, nil
	}

	for m.order.Len() >= m.maxSize {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.index, oldest.Value.(memoryEntry).id)
	}

	m.index[eventID] = m.order.PushBack(memoryEntry{id: eventID, expires: now.Add(m.ttl)})
	return false, nil
}

func (m *Memory) expire(now time.Time) {
	for {
		front := m.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(memoryEntry)
		if entry.expires.After(now) {
			return
		}
		m.order.Remove(front)
		delete(m.index, entry.id)
	}
}

func (m *Memory) Forget(_ context.Context, eventID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[eventID]; ok {
		m.order.Remove(el)
		delete(m.index, eventID)
	}
	return nil
}

// Len reports the current window population.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
