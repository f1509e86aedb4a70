package intake

import (
	"context"
	"log/slog"
	"time"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/db"
)

// MaintenanceConfig tunes the periodic housekeeping pass.
type MaintenanceConfig struct {
	Interval       time.Duration
	EventRetention time.Duration
}

// Maintenance runs the periodic cleanups none of the request paths want to
// pay for: expired rate windows, expired upload sessions, and processed
// webhook events past retention.
type Maintenance struct {
	store   *db.Database
	limiter *admission.Limiter
	cfg     MaintenanceConfig
	log     *slog.Logger
}

func NewMaintenance(store *db.Database, limiter *admission.Limiter, cfg MaintenanceConfig, log *slog.Logger) *Maintenance {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = 7 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Maintenance{store: store, limiter: limiter, cfg: cfg, log: log}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs all cleanups, logging failures without aborting the pass.
func (m *Maintenance) SweepOnce(ctx context.Context) {
	if windows, err := m.limiter.SweepExpired(ctx); err != nil {
		m.log.Error("sweep rate windows", "error", err)
	} else if windows > 0 {
		m.log.Debug("swept rate windows", "count", windows)
	}

	if sessions, err := m.store.DeleteExpiredUploadSessions(ctx, time.Now().Unix()); err != nil {
		m.log.Error("sweep upload sessions", "error", err)
	} else if sessions > 0 {
		m.log.Debug("swept upload sessions", "count", sessions)
	}

	cutoff := time.Now().Add(-m.cfg.EventRetention).UTC().Format(time.RFC3339Nano)
	if events, err := m.store.PruneProcessedWebhookEvents(ctx, cutoff); err != nil {
		m.log.Error("prune webhook events", "error", err)
	} else if events > 0 {
		m.log.Debug("pruned webhook events", "count", events)
	}
}
