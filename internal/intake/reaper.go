package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/altvishcoder/complianceapps/internal/db"
)

const reaperBatchSize = 100

// ReaperConfig tunes stuck-job detection.
type ReaperConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Reaper fails processing jobs whose worker stopped updating them. The
// transition is guarded the same way as normal completion, so a worker that
// finishes while the sweep runs wins the race.
type Reaper struct {
	store *db.Database
	cfg   ReaperConfig
	log   *slog.Logger
}

func NewReaper(store *db.Database, cfg ReaperConfig, log *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{store: store, cfg: cfg, log: log}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("stuck-job reaper started", "interval", r.cfg.Interval, "timeout", r.cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("stuck-job reaper stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				r.log.Error("reaper sweep", "error", err)
			}
		}
	}
}

// SweepOnce fails all jobs stuck in processing past the timeout. Returns the
// number of jobs actually transitioned.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.Timeout).UnixMilli()
	stuck, err := r.store.ListStuckJobs(ctx, cutoff, reaperBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stuck jobs: %w", err)
	}

	reaped := 0
	for _, job := range stuck {
		detail := fmt.Sprintf("no progress for %s, job timed out", r.cfg.Timeout)
		applied, err := r.store.FailJob(ctx, db.FailJobParams{
			JobID:         job.ID,
			CertificateID: job.CertificateID,
			ErrorCode:     ErrorCodeProcessingTimeout,
			ErrorDetail:   detail,
			Events: []db.NewWebhookEvent{
				jobEvent(db.EventTypeIngestionFailed, job, map[string]string{
					"error_code":   ErrorCodeProcessingTimeout,
					"error_detail": detail,
				}),
			},
		})
		if err != nil {
			r.log.Error("reap job", "job_id", job.ID, "error", err)
			continue
		}
		if !applied {
			continue
		}
		r.log.Warn("job timed out", "job_id", job.ID, "tenant", job.Tenant, "stuck_since", job.UpdatedAt)
		reaped++
	}
	return reaped, nil
}
