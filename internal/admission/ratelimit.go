package admission

import (
	"context"
	"time"

	"github.com/altvishcoder/complianceapps/internal/db"
)

// WindowStore is the storage contract the rate limiter needs.
type WindowStore interface {
	TakeRateToken(ctx context.Context, clientID int64, limit int64, now int64, resetAt int64) (db.TakeRateTokenResult, error)
	DeleteExpiredRateWindows(ctx context.Context, now int64) (int64, error)
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per client in fixed windows backed by the shared
// store, so every server instance sees the same counts.
type Limiter struct {
	store  WindowStore
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewLimiter(store WindowStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: int64(limit), window: window, now: time.Now}
}

// CheckAndIncrement admits or rejects one request for a client. The increment
// is a single atomic read-modify-write in the store; a rejected request does
// not consume quota.
func (l *Limiter) CheckAndIncrement(ctx context.Context, clientID int64) (Decision, error) {
	now := l.now()
	result, err := l.store.TakeRateToken(ctx, clientID, l.limit, now.Unix(), now.Add(l.window).Unix())
	if err != nil {
		return Decision{}, err
	}

	resetAt := time.Unix(result.ResetAt, 0)
	decision := Decision{
		Allowed:   result.Allowed,
		Limit:     l.limit,
		Remaining: l.limit - result.Count,
		ResetAt:   resetAt,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !result.Allowed {
		decision.RetryAfter = resetAt.Sub(now)
		if decision.RetryAfter < time.Second {
			decision.RetryAfter = time.Second
		}
	}
	return decision, nil
}

// SweepExpired deletes windows whose reset time has passed, bounding storage.
func (l *Limiter) SweepExpired(ctx context.Context) (int64, error) {
	return l.store.DeleteExpiredRateWindows(ctx, l.now().Unix())
}
