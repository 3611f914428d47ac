package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryDetectsDuplicates(t *testing.T) {
	w := NewMemory(10, time.Minute)
	id := uuid.New()

	dup, err := w.CheckAndMark(context.Background(), id)
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if dup {
		t.Fatal("first sighting reported as duplicate")
	}

	dup, err = w.CheckAndMark(context.Background(), id)
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if !dup {
		t.Fatal("second sighting not reported as duplicate")
	}

	other := uuid.New()
	dup, _ = w.CheckAndMark(context.Background(), other)
	if dup {
		t.Fatal("distinct id reported as duplicate")
	}
}

func TestMemoryEvictsOldestAtCapacity(t *testing.T) {
	w := NewMemory(3, time.Minute)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if _, err := w.CheckAndMark(context.Background(), id); err != nil {
			t.Fatalf("CheckAndMark: %v", err)
		}
	}
	if got := w.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	// The first id was evicted, so it reads as unseen again.
	dup, _ := w.CheckAndMark(context.Background(), ids[0])
	if dup {
		t.Fatal("evicted id still reported as duplicate")
	}
	// The newest id survived the eviction.
	dup, _ = w.CheckAndMark(context.Background(), ids[3])
	if !dup {
		t.Fatal("recent id lost from window")
	}
}

func TestMemoryExpiresByTTL(t *testing.T) {
	w := NewMemory(100, time.Minute)
	current := time.Unix(1700000000, 0)
	w.now = func() time.Time { return current }

	id := uuid.New()
	if dup, _ := w.CheckAndMark(context.Background(), id); dup {
		t.Fatal("first sighting reported as duplicate")
	}

	current = current.Add(30 * time.Second)
	if dup, _ := w.CheckAndMark(context.Background(), id); !dup {
		t.Fatal("id expired before TTL")
	}

	current = current.Add(2 * time.Minute)
	if dup, _ := w.CheckAndMark(context.Background(), id); dup {
		t.Fatal("id survived past TTL")
	}
	if got := w.Len(); got != 1 {
		t.Fatalf("Len = %d after expiry, want 1", got)
	}
}

func TestMemoryForgetUnmarks(t *testing.T) {
	w := NewMemory(10, time.Minute)
	id := uuid.New()

	if _, err := w.CheckAndMark(context.Background(), id); err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if err := w.Forget(context.Background(), id); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if dup, _ := w.CheckAndMark(context.Background(), id); dup {
		t.Fatal("forgotten id still reported as duplicate")
	}
	// Forget of an unknown id is a no-op.
	if err := w.Forget(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Forget unknown: %v", err)
	}
}

func TestMemoryDefaults(t *testing.T) {
	w := NewMemory(0, 0)
	if w.maxSize != 10000 {
		t.Fatalf("maxSize = %d, want 10000", w.maxSize)
	}
	if w.ttl != time.Hour {
		t.Fatalf("ttl = %s, want 1h", w.ttl)
	}
}
