package admission

import (
	"context"
	"testing"
	"time"

	"github.com/altvishcoder/complianceapps/internal/db"
)

// fakeWindowStore reproduces the store's fixed-window arithmetic in memory.
type fakeWindowStore struct {
	count   int64
	resetAt int64
	deleted int64
}

func (f *fakeWindowStore) TakeRateToken(_ context.Context, _ int64, limit int64, now int64, resetAt int64) (db.TakeRateTokenResult, error) {
	if f.resetAt <= now {
		f.count = 1
		f.resetAt = resetAt
		return db.TakeRateTokenResult{Allowed: true, Count: 1, ResetAt: resetAt}, nil
	}
	if f.count < limit {
		f.count++
		return db.TakeRateTokenResult{Allowed: true, Count: f.count, ResetAt: f.resetAt}, nil
	}
	return db.TakeRateTokenResult{Allowed: false, Count: f.count, ResetAt: f.resetAt}, nil
}

func (f *fakeWindowStore) DeleteExpiredRateWindows(_ context.Context, now int64) (int64, error) {
	if f.resetAt != 0 && f.resetAt <= now {
		f.count = 0
		f.resetAt = 0
		f.deleted++
		return 1, nil
	}
	return 0, nil
}

func TestLimiterDecisions(t *testing.T) {
	t.Parallel()

	store := &fakeWindowStore{}
	limiter := NewLimiter(store, 2, time.Minute)
	base := time.Unix(10_000, 0)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()

	first, err := limiter.CheckAndIncrement(ctx, 1)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if !first.Allowed || first.Limit != 2 || first.Remaining != 1 {
		t.Fatalf("unexpected first decision: %+v", first)
	}

	second, err := limiter.CheckAndIncrement(ctx, 1)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !second.Allowed || second.Remaining != 0 {
		t.Fatalf("unexpected second decision: %+v", second)
	}

	denied, err := limiter.CheckAndIncrement(ctx, 1)
	if err != nil {
		t.Fatalf("denied check: %v", err)
	}
	if denied.Allowed {
		t.Fatal("expected denial over limit")
	}
	if denied.Remaining != 0 {
		t.Fatalf("remaining never goes negative, got %d", denied.Remaining)
	}
	if denied.RetryAfter != time.Minute {
		t.Fatalf("expected retry-after of window remainder, got %s", denied.RetryAfter)
	}
	if !denied.ResetAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected reset time: %s", denied.ResetAt)
	}

	// Near the reset boundary Retry-After is floored to one second.
	limiter.now = func() time.Time { return base.Add(time.Minute - 100*time.Millisecond) }
	denied, err = limiter.CheckAndIncrement(ctx, 1)
	if err != nil {
		t.Fatalf("boundary check: %v", err)
	}
	if denied.Allowed {
		t.Fatal("expected denial before reset")
	}
	if denied.RetryAfter != time.Second {
		t.Fatalf("expected floored retry-after, got %s", denied.RetryAfter)
	}

	// A new window opens after the reset instant.
	limiter.now = func() time.Time { return base.Add(time.Minute) }
	fresh, err := limiter.CheckAndIncrement(ctx, 1)
	if err != nil {
		t.Fatalf("fresh window check: %v", err)
	}
	if !fresh.Allowed || fresh.Remaining != 1 {
		t.Fatalf("unexpected fresh decision: %+v", fresh)
	}
}

func TestLimiterSweepExpired(t *testing.T) {
	t.Parallel()

	store := &fakeWindowStore{}
	limiter := NewLimiter(store, 5, time.Minute)
	base := time.Unix(20_000, 0)
	limiter.now = func() time.Time { return base }

	if _, err := limiter.CheckAndIncrement(context.Background(), 1); err != nil {
		t.Fatalf("seed window: %v", err)
	}

	limiter.now = func() time.Time { return base.Add(2 * time.Minute) }
	swept, err := limiter.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 || store.deleted != 1 {
		t.Fatalf("expected one swept window, got swept=%d deleted=%d", swept, store.deleted)
	}
}
