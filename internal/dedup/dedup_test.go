package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWindowCoalesces(t *testing.T) {
	w := NewMemory(5 * time.Second)
	base := time.Date(2025, 8, 25, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }

	ok, err := w.Admit(context.Background(), "S1|24600|PE|entry")
	if err != nil || !ok {
		t.Fatalf("first admit = %v, %v", ok, err)
	}

	// Retry 2s later: duplicate.
	w.now = func() time.Time { return base.Add(2 * time.Second) }
	ok, _ = w.Admit(context.Background(), "S1|24600|PE|entry")
	if ok {
		t.Error("duplicate inside window was admitted")
	}
	if w.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", w.Dropped())
	}

	// Different key inside the window: admitted.
	ok, _ = w.Admit(context.Background(), "S1|24600|PE|exit")
	if !ok {
		t.Error("distinct key was coalesced")
	}

	// Same key after expiry: admitted again.
	w.now = func() time.Time { return base.Add(6 * time.Second) }
	ok, _ = w.Admit(context.Background(), "S1|24600|PE|entry")
	if !ok {
		t.Error("expired key was still coalesced")
	}
}
