package intake

import (
	"context"
	"testing"
	"time"

	"github.com/altvishcoder/complianceapps/internal/db"
)

func TestReaperFailsStuckJob(t *testing.T) {
	t.Parallel()

	service, database, client := newTestService(t, nil)
	ctx := context.Background()

	created, err := service.Submit(ctx, submitRequest(client))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, err := database.ClaimNextQueuedJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reaper := NewReaper(database, ReaperConfig{Interval: time.Minute, Timeout: time.Millisecond}, nil)
	time.Sleep(5 * time.Millisecond)

	reaped, err := reaper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected 1 reaped job, got %d", reaped)
	}

	job, err := database.GetJobByID(ctx, created.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != db.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.ErrorCode.String != ErrorCodeProcessingTimeout {
		t.Fatalf("expected %s, got %s", ErrorCodeProcessingTimeout, job.ErrorCode.String)
	}

	events, err := database.ListUnprocessedWebhookEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != db.EventTypeIngestionFailed {
		t.Fatalf("unexpected outbox events: %+v", events)
	}

	// A second sweep finds nothing; terminal jobs stay terminal.
	reaped, err = reaper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("expected no further reaps, got %d", reaped)
	}
}

func TestReaperSkipsFinishedJobs(t *testing.T) {
	t.Parallel()

	service, database, client := newTestService(t, nil)
	ctx := context.Background()

	created, err := service.Submit(ctx, submitRequest(client))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, err := database.ClaimNextQueuedJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	applied, err := database.CompleteJob(ctx, db.CompleteJobParams{
		JobID:         created.Job.ID,
		CertificateID: created.Job.CertificateID,
		Tenant:        "acme",
		ResultJSON:    "{}",
	})
	if err != nil || !applied {
		t.Fatalf("complete: applied=%v err=%v", applied, err)
	}

	reaper := NewReaper(database, ReaperConfig{Interval: time.Minute, Timeout: time.Millisecond}, nil)
	time.Sleep(5 * time.Millisecond)

	reaped, err := reaper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("completed job must not be reaped, got %d", reaped)
	}

	job, err := database.GetJobByID(ctx, created.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != db.JobStatusComplete {
		t.Fatalf("expected COMPLETE to stand, got %s", job.Status)
	}
}

func TestReaperLeavesFreshProcessingJobs(t *testing.T) {
	t.Parallel()

	service, database, client := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Submit(ctx, submitRequest(client)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, err := database.ClaimNextQueuedJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reaper := NewReaper(database, ReaperConfig{Interval: time.Minute, Timeout: time.Hour}, nil)
	reaped, err := reaper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("fresh processing job must not be reaped, got %d", reaped)
	}
}
