package db

import (
	"context"
	"database/sql"
	"errors"
)

// TakeRateTokenResult reports the outcome of one window increment.
type TakeRateTokenResult struct {
	Allowed bool
	Count   int64
	ResetAt int64
}

// TakeRateToken performs the atomic test-and-increment for one client window.
// A fresh window (count=1) is started when none is active; an active window is
// incremented only while under the limit. The whole decision is a single
// statement so concurrent requests for the same client cannot lose updates.
func (c *Database) TakeRateToken(ctx context.Context, clientID int64, limit int64, now int64, resetAt int64) (TakeRateTokenResult, error) {
	const query = `-- name: TakeRateToken :one
INSERT INTO rate_limit_windows (client_id, count, window_start, reset_at)
VALUES (?1, 1, ?2, ?3)
ON CONFLICT (client_id) DO UPDATE SET
    count = CASE WHEN rate_limit_windows.reset_at <= ?2 THEN 1 ELSE rate_limit_windows.count + 1 END,
    window_start = CASE WHEN rate_limit_windows.reset_at <= ?2 THEN ?2 ELSE rate_limit_windows.window_start END,
    reset_at = CASE WHEN rate_limit_windows.reset_at <= ?2 THEN ?3 ELSE rate_limit_windows.reset_at END
WHERE rate_limit_windows.reset_at <= ?2 OR rate_limit_windows.count < ?4
RETURNING count, reset_at`

	for {
		var count, reset int64
		err := c.dbtx.QueryRowContext(ctx, query, clientID, now, resetAt, limit).Scan(&count, &reset)
		if err == nil {
			return TakeRateTokenResult{Allowed: true, Count: count, ResetAt: reset}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return TakeRateTokenResult{}, err
		}
		// Window is active and already at the limit; read it back for reset info.
		result, retry, err := c.readDeniedWindow(ctx, clientID)
		if err != nil {
			return TakeRateTokenResult{}, err
		}
		if retry {
			continue
		}
		return result, nil
	}
}

// readDeniedWindow resolves the window state behind a denied increment. The
// row can vanish between the upsert and this read when the maintenance sweep
// removes an expired window; retry tells the caller to re-run the upsert,
// which then starts a fresh window.
func (c *Database) readDeniedWindow(ctx context.Context, clientID int64) (TakeRateTokenResult, bool, error) {
	window, err := c.GetRateWindow(ctx, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return TakeRateTokenResult{}, true, nil
	}
	if err != nil {
		return TakeRateTokenResult{}, false, err
	}
	return TakeRateTokenResult{Allowed: false, Count: window.Count, ResetAt: window.ResetAt}, false, nil
}

// GetRateWindow fetches the current window row for a client.
func (c *Database) GetRateWindow(ctx context.Context, clientID int64) (RateWindow, error) {
	const query = `-- name: GetRateWindow :one
SELECT client_id, count, window_start, reset_at
FROM rate_limit_windows
WHERE client_id = ?`
	var window RateWindow
	err := c.dbtx.QueryRowContext(ctx, query, clientID).Scan(
		&window.ClientID, &window.Count, &window.WindowStart, &window.ResetAt,
	)
	return window, err
}

// DeleteExpiredRateWindows removes windows whose reset time has passed.
func (c *Database) DeleteExpiredRateWindows(ctx context.Context, now int64) (int64, error) {
	const query = `-- name: DeleteExpiredRateWindows :exec
DELETE FROM rate_limit_windows WHERE reset_at <= ?`
	result, err := c.dbtx.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
