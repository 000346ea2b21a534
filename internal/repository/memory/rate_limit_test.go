package memory

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitStoreSlidingWindow(t *testing.T) {
	store := NewRateLimitStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	for i := 0; i < 3; i++ {
		if err := store.RecordAttempt(ctx, "ip:1", base.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	ref := base.Add(65 * time.Second)
	if err := store.TrimWindow(ctx, "ip:1", window, ref); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}
	count, err := store.CountAttempts(ctx, "ip:1", window, ref)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 attempts in window, got %d", count)
	}

	oldest, ok, err := store.OldestAttempt(ctx, "ip:1", window, ref)
	if err != nil || !ok {
		t.Fatalf("OldestAttempt returned ok=%v err=%v", ok, err)
	}
	if !oldest.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("unexpected oldest attempt %s", oldest)
	}

	if _, ok, _ := store.OldestAttempt(ctx, "ip:unknown", window, ref); ok {
		t.Fatal("expected no attempts for unknown identifier")
	}
}
