package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/altvishcoder/complianceapps/internal/db"
)

// WorkerConfig tunes the polling claim loop.
type WorkerConfig struct {
	PollInterval time.Duration
	Burst        int
	IdleDelay    time.Duration
}

// Worker claims queued jobs one at a time and drives them through the
// extraction collaborator to a terminal state.
type Worker struct {
	store     *db.Database
	extractor Extractor
	cfg       WorkerConfig
	wake      <-chan struct{}
	log       *slog.Logger
}

func NewWorker(store *db.Database, extractor Extractor, cfg WorkerConfig, wake <-chan struct{}, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 800 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: store, extractor: extractor, cfg: cfg, wake: wake, log: log}
}

// Run polls for queued jobs until ctx is canceled. Cancellation stops claiming;
// a job already claimed finishes its current attempt.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("ingestion worker started", "poll_interval", w.cfg.PollInterval, "burst", w.cfg.Burst)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("ingestion worker stopping", "reason", ctx.Err())
			return
		case <-w.wake:
		case <-ticker.C:
		}

		processedAny := false
		for i := 0; i < w.cfg.Burst; i++ {
			claimed, err := w.ProcessOne(ctx)
			if err != nil {
				w.log.Error("process job", "error", err)
				break
			}
			if !claimed {
				break
			}
			processedAny = true
		}

		if !processedAny {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.IdleDelay):
			}
		}
	}
}

// ProcessOne claims and processes a single queued job. Returns false when no
// work was queued.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, found, err := w.store.ClaimNextQueuedJob(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	log := w.log.With("job_id", job.ID, "tenant", job.Tenant, "document_type", job.DocumentType)

	result, err := w.extractor.Extract(ctx, ExtractionRequest{
		JobID:        job.ID,
		Tenant:       job.Tenant,
		PropertyRef:  job.PropertyRef,
		DocumentType: job.DocumentType,
		ObjectPath:   job.ObjectPath,
		Filename:     job.Filename,
	})
	if err != nil {
		applied, failErr := w.store.FailJob(ctx, db.FailJobParams{
			JobID:         job.ID,
			CertificateID: job.CertificateID,
			ErrorCode:     ErrorCodeExtractionFailed,
			ErrorDetail:   err.Error(),
			Events: []db.NewWebhookEvent{
				jobEvent(db.EventTypeIngestionFailed, job, map[string]string{
					"error_code":   ErrorCodeExtractionFailed,
					"error_detail": err.Error(),
				}),
			},
		})
		if failErr != nil {
			return true, failErr
		}
		if !applied {
			log.Warn("job left processing before failure could be recorded")
		}
		log.Warn("extraction failed", "error", err)
		return true, nil
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return true, err
	}

	events := []db.NewWebhookEvent{
		jobEvent(db.EventTypeIngestionCompleted, job, map[string]string{
			"certificate_id": job.CertificateID,
		}),
	}
	var remedials []db.NewRemedialAction
	if !result.Compliant {
		for _, finding := range result.Findings {
			remedials = append(remedials, db.NewRemedialAction{
				Description: finding.Description,
				Severity:    finding.Severity,
			})
			events = append(events, jobEvent(db.EventTypeRemedialActionCreated, job, map[string]string{
				"certificate_id": job.CertificateID,
				"description":    finding.Description,
				"severity":       finding.Severity,
			}))
		}
	}

	applied, err := w.store.CompleteJob(ctx, db.CompleteJobParams{
		JobID:         job.ID,
		CertificateID: job.CertificateID,
		Tenant:        job.Tenant,
		ResultJSON:    string(resultJSON),
		Remedials:     remedials,
		Events:        events,
	})
	if err != nil {
		return true, err
	}
	if !applied {
		// The reaper timed the job out while extraction was running; the
		// recorded timeout stands.
		log.Warn("completion skipped, job no longer processing")
		return true, nil
	}

	log.Info("job complete", "compliant", result.Compliant, "remedial_actions", len(remedials))
	return true, nil
}

func jobEvent(eventType string, job db.IngestionJob, extra map[string]string) db.NewWebhookEvent {
	payload := map[string]string{
		"job_id":        job.ID,
		"property_ref":  job.PropertyRef,
		"document_type": job.DocumentType,
	}
	for k, v := range extra {
		payload[k] = v
	}
	encoded, _ := json.Marshal(payload)
	return db.NewWebhookEvent{
		Tenant:      job.Tenant,
		EventType:   eventType,
		EntityType:  db.EntityTypeIngestionJob,
		EntityID:    job.ID,
		PayloadJSON: string(encoded),
	}
}
