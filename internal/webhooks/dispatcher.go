package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"

	"github.com/altvishcoder/complianceapps/internal/db"
)

// DispatcherConfig tunes the outbox delivery loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int64
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// Dispatcher drains the webhook outbox. Each unprocessed event is delivered to
// every matching endpoint independently; the event is marked processed only
// once every endpoint has reached a terminal outcome, and every attempt lands
// in the append-only delivery log.
type Dispatcher struct {
	store  *db.Database
	sender Sender
	cfg    DispatcherConfig
	log    *slog.Logger
}

func NewDispatcher(store *db.Database, sender Sender, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, sender: sender, cfg: cfg, log: log}
}

// Run drains the outbox on a fixed interval until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.log.Info("webhook dispatcher started",
		"poll_interval", d.cfg.PollInterval, "max_attempts", d.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("webhook dispatcher stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if _, err := d.DispatchBatch(ctx); err != nil {
				d.log.Error("dispatch batch", "error", err)
			}
		}
	}
}

// DispatchBatch delivers one batch of unprocessed events. Returns the number
// of events fully dispatched.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (int, error) {
	events, err := d.store.ListUnprocessedWebhookEvents(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, event := range events {
		if err := d.dispatchEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			d.log.Error("dispatch event", "event_id", event.ID, "error", err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, event db.WebhookEvent) error {
	endpoints, err := d.store.ListActiveEndpoints(ctx, event.Tenant)
	if err != nil {
		return err
	}
	matching := lo.Filter(endpoints, func(endpoint db.WebhookEndpoint, _ int) bool {
		return subscribed(endpoint.EventTypes, event.EventType)
	})
	if callback, ok := d.callbackEndpoint(ctx, event); ok {
		covered := lo.ContainsBy(matching, func(endpoint db.WebhookEndpoint) bool {
			return endpoint.URL == callback.URL
		})
		if !covered {
			matching = append(matching, callback)
		}
	}

	for _, endpoint := range matching {
		d.deliverToEndpoint(ctx, event, endpoint)
		if ctx.Err() != nil {
			// Leave the event unprocessed so the remaining endpoints are
			// retried on restart.
			return ctx.Err()
		}
	}

	return d.store.MarkWebhookEventProcessed(ctx, event.ID)
}

// callbackEndpoint resolves the submitter-supplied callback URL behind a
// job-scoped event. The callback is treated like an unregistered endpoint:
// same retries, same delivery log, no stored signing secret, so the delivery
// goes out unsigned with a null endpoint id in the log.
func (d *Dispatcher) callbackEndpoint(ctx context.Context, event db.WebhookEvent) (db.WebhookEndpoint, bool) {
	if event.EntityType != db.EntityTypeIngestionJob {
		return db.WebhookEndpoint{}, false
	}
	job, err := d.store.GetJobByID(ctx, event.EntityID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			d.log.Error("resolve callback url", "event_id", event.ID, "error", err)
		}
		return db.WebhookEndpoint{}, false
	}
	url := strings.TrimSpace(job.CallbackURL.String)
	if !job.CallbackURL.Valid || url == "" {
		return db.WebhookEndpoint{}, false
	}
	return db.WebhookEndpoint{Tenant: event.Tenant, URL: url, EventTypes: "*", Active: true}, true
}

// deliverToEndpoint retries one endpoint until success or attempts run out.
// One endpoint's failures never block the others.
func (d *Dispatcher) deliverToEndpoint(ctx context.Context, event db.WebhookEvent, endpoint db.WebhookEndpoint) {
	backoff := retry.WithCappedDuration(d.cfg.BackoffCap, retry.NewExponential(d.cfg.BackoffBase))
	backoff = retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		started := time.Now()
		statusCode, sendErr := d.sender.Send(ctx, endpoint, event)
		d.recordAttempt(ctx, event, endpoint, attempt, statusCode, time.Since(started), sendErr)
		if sendErr != nil {
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		d.log.Warn("webhook delivery exhausted",
			"event_id", event.ID, "endpoint_id", endpoint.ID, "attempts", attempt, "error", err)
		return
	}
	d.log.Debug("webhook delivered",
		"event_id", event.ID, "endpoint_id", endpoint.ID, "attempts", attempt)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, event db.WebhookEvent, endpoint db.WebhookEndpoint, attempt, statusCode int, duration time.Duration, sendErr error) {
	outcome := db.DeliveryOutcomeSuccess
	errText := ""
	if sendErr != nil {
		outcome = db.DeliveryOutcomeFailure
		errText = sendErr.Error()
	}
	if err := d.store.InsertWebhookDelivery(ctx, db.InsertDeliveryParams{
		EventID:    event.ID,
		EndpointID: endpoint.ID,
		Attempt:    int64(attempt),
		Outcome:    outcome,
		StatusCode: int64(statusCode),
		Error:      errText,
		DurationMS: duration.Milliseconds(),
	}); err != nil {
		d.log.Error("record delivery attempt", "event_id", event.ID, "endpoint_id", endpoint.ID, "error", err)
	}
}

// subscribed reports whether a comma-separated subscription list covers an
// event type. "*" subscribes to everything.
func subscribed(eventTypes, eventType string) bool {
	for _, raw := range strings.Split(eventTypes, ",") {
		code := strings.TrimSpace(raw)
		if code == "*" || code == eventType {
			return true
		}
	}
	return false
}
