package db

import (
	"context"
	"sync"
	"testing"
)

func TestTakeRateTokenFixedWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database := newTestDB(t)
	client := seedClient(t, database, "acme")

	const limit = 3
	now := int64(1_000)
	resetAt := now + 60

	for i := 1; i <= limit; i++ {
		result, err := database.TakeRateToken(ctx, client.ID, limit, now, resetAt)
		if err != nil {
			t.Fatalf("take token %d: %v", i, err)
		}
		if !result.Allowed || result.Count != int64(i) {
			t.Fatalf("token %d: allowed=%v count=%d", i, result.Allowed, result.Count)
		}
	}

	denied, err := database.TakeRateToken(ctx, client.ID, limit, now, resetAt)
	if err != nil {
		t.Fatalf("take token over limit: %v", err)
	}
	if denied.Allowed {
		t.Fatal("expected denial at limit")
	}
	if denied.Count != limit || denied.ResetAt != resetAt {
		t.Fatalf("denial carries window state: count=%d reset=%d", denied.Count, denied.ResetAt)
	}

	// A denied request consumes no quota.
	window, err := database.GetRateWindow(ctx, client.ID)
	if err != nil {
		t.Fatalf("get window: %v", err)
	}
	if window.Count != limit {
		t.Fatalf("expected count to stay at %d, got %d", limit, window.Count)
	}

	// Once the reset time passes a fresh window starts at 1.
	later := resetAt
	fresh, err := database.TakeRateToken(ctx, client.ID, limit, later, later+60)
	if err != nil {
		t.Fatalf("take token in fresh window: %v", err)
	}
	if !fresh.Allowed || fresh.Count != 1 {
		t.Fatalf("fresh window: allowed=%v count=%d", fresh.Allowed, fresh.Count)
	}
}

func TestTakeRateTokenConcurrentRequestsNeverLoseUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database := newTestDB(t)
	client := seedClient(t, database, "acme")

	const limit = 100
	const workers = 20
	const perWorker = 3

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := database.TakeRateToken(ctx, client.ID, limit, 1_000, 1_060); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent take: %v", err)
	}

	window, err := database.GetRateWindow(ctx, client.ID)
	if err != nil {
		t.Fatalf("get window: %v", err)
	}
	if window.Count != workers*perWorker {
		t.Fatalf("expected count %d, got %d", workers*perWorker, window.Count)
	}
}

func TestTakeRateTokenWindowSweptMidDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database := newTestDB(t)
	client := seedClient(t, database, "acme")

	if _, err := database.TakeRateToken(ctx, client.ID, 1, 1_000, 1_060); err != nil {
		t.Fatalf("fill window: %v", err)
	}

	// The sweep can remove the row between the denied upsert and its
	// read-back; the read-back must signal a retry, not an error.
	if _, err := database.DeleteExpiredRateWindows(ctx, 2_000); err != nil {
		t.Fatalf("sweep window: %v", err)
	}
	_, retry, err := database.readDeniedWindow(ctx, client.ID)
	if err != nil {
		t.Fatalf("read denied window: %v", err)
	}
	if !retry {
		t.Fatal("missing window must signal a retry")
	}

	// The retried upsert starts a fresh window instead of failing.
	result, err := database.TakeRateToken(ctx, client.ID, 1, 2_000, 2_060)
	if err != nil {
		t.Fatalf("take token after sweep: %v", err)
	}
	if !result.Allowed || result.Count != 1 {
		t.Fatalf("expected fresh window, got allowed=%v count=%d", result.Allowed, result.Count)
	}
}

func TestDeleteExpiredRateWindows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database := newTestDB(t)
	expired := seedClient(t, database, "expired")
	active := seedClient(t, database, "active")

	if _, err := database.TakeRateToken(ctx, expired.ID, 10, 1_000, 1_060); err != nil {
		t.Fatalf("seed expired window: %v", err)
	}
	if _, err := database.TakeRateToken(ctx, active.ID, 10, 2_000, 2_060); err != nil {
		t.Fatalf("seed active window: %v", err)
	}

	deleted, err := database.DeleteExpiredRateWindows(ctx, 1_060)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted window, got %d", deleted)
	}

	if _, err := database.GetRateWindow(ctx, active.ID); err != nil {
		t.Fatalf("active window should survive: %v", err)
	}
}
