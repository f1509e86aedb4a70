package db

import (
	"context"

	"github.com/google/uuid"
)

// Outbox event types emitted by the intake pipeline.
const (
	EventTypeIngestionCompleted    = "ingestion.completed"
	EventTypeIngestionFailed       = "ingestion.failed"
	EventTypeRemedialActionCreated = "remedial_action.created"
)

// EntityTypeIngestionJob marks outbox events whose entity_id is a job id.
const EntityTypeIngestionJob = "ingestion_job"

// CreateEndpointParams contains fields for a new webhook endpoint.
type CreateEndpointParams struct {
	Tenant     string
	URL        string
	Secret     string
	EventTypes string
}

// CreateWebhookEndpoint registers a delivery target for a tenant.
func (c *Database) CreateWebhookEndpoint(ctx context.Context, params CreateEndpointParams) (WebhookEndpoint, error) {
	const query = `-- name: CreateWebhookEndpoint :one
INSERT INTO webhook_endpoints (tenant, url, secret, event_types, active, created_at)
VALUES (?, ?, ?, ?, 1, ?)
RETURNING id, tenant, url, secret, event_types, active, created_at`
	row := c.dbtx.QueryRowContext(ctx, query, params.Tenant, params.URL, params.Secret, params.EventTypes, nowUTC())
	return scanEndpoint(row)
}

// SetWebhookEndpointActive toggles an endpoint.
func (c *Database) SetWebhookEndpointActive(ctx context.Context, id int64, active bool) error {
	const query = `-- name: SetWebhookEndpointActive :exec
UPDATE webhook_endpoints SET active = ? WHERE id = ?`
	activeValue := int64(0)
	if active {
		activeValue = 1
	}
	_, err := c.dbtx.ExecContext(ctx, query, activeValue, id)
	return err
}

// ListActiveEndpoints returns active endpoints for one tenant. Subscription
// matching against the event type happens in the dispatcher.
func (c *Database) ListActiveEndpoints(ctx context.Context, tenant string) ([]WebhookEndpoint, error) {
	const query = `-- name: ListActiveEndpoints :many
SELECT id, tenant, url, secret, event_types, active, created_at
FROM webhook_endpoints
WHERE tenant = ? AND active = 1
ORDER BY id`
	rows, err := c.dbtx.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []WebhookEndpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, rows.Err()
}

// AppendWebhookEvent writes one outbox record outside of a larger transaction.
func (c *Database) AppendWebhookEvent(ctx context.Context, event NewWebhookEvent) error {
	return appendWebhookEvent(ctx, c.dbtx, event)
}

func appendWebhookEvent(ctx context.Context, tx DBTX, event NewWebhookEvent) error {
	const query = `-- name: AppendWebhookEvent :exec
INSERT INTO webhook_events (id, tenant, event_type, entity_type, entity_id, payload_json, processed, created_at)
VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	_, err := tx.ExecContext(ctx, query,
		uuid.NewString(), event.Tenant, event.EventType, event.EntityType, event.EntityID,
		event.PayloadJSON, nowUTC(),
	)
	return err
}

// ListUnprocessedWebhookEvents returns the oldest unprocessed outbox records.
func (c *Database) ListUnprocessedWebhookEvents(ctx context.Context, limit int64) ([]WebhookEvent, error) {
	const query = `-- name: ListUnprocessedWebhookEvents :many
SELECT id, tenant, event_type, entity_type, entity_id, payload_json, processed, created_at
FROM webhook_events
WHERE processed = 0
ORDER BY created_at
LIMIT ?`
	rows, err := c.dbtx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var event WebhookEvent
		var processed int64
		if err := rows.Scan(
			&event.ID, &event.Tenant, &event.EventType, &event.EntityType, &event.EntityID,
			&event.PayloadJSON, &processed, &event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.Processed = processed != 0
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkWebhookEventProcessed flips the processed flag once all endpoints have
// had a terminal delivery attempt.
func (c *Database) MarkWebhookEventProcessed(ctx context.Context, id string) error {
	const query = `-- name: MarkWebhookEventProcessed :exec
UPDATE webhook_events SET processed = 1 WHERE id = ?`
	_, err := c.dbtx.ExecContext(ctx, query, id)
	return err
}

// InsertDeliveryParams contains fields for one delivery attempt record.
type InsertDeliveryParams struct {
	EventID    string
	EndpointID int64
	Attempt    int64
	Outcome    string
	StatusCode int64
	Error      string
	DurationMS int64
}

// InsertWebhookDelivery appends one delivery attempt to the log. EndpointID
// zero records a delivery to the job's caller-supplied callback URL.
func (c *Database) InsertWebhookDelivery(ctx context.Context, params InsertDeliveryParams) error {
	const query = `-- name: InsertWebhookDelivery :exec
INSERT INTO webhook_deliveries (event_id, endpoint_id, attempt, outcome, status_code, error, duration_ms, attempted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var statusCode interface{}
	if params.StatusCode > 0 {
		statusCode = params.StatusCode
	}
	var endpointID interface{}
	if params.EndpointID > 0 {
		endpointID = params.EndpointID
	}
	_, err := c.dbtx.ExecContext(ctx, query,
		params.EventID, endpointID, params.Attempt, params.Outcome,
		statusCode, nullString(params.Error), params.DurationMS, nowUTC(),
	)
	return err
}

// ListWebhookDeliveriesForEvent returns the delivery log for one event.
func (c *Database) ListWebhookDeliveriesForEvent(ctx context.Context, eventID string) ([]WebhookDelivery, error) {
	const query = `-- name: ListWebhookDeliveriesForEvent :many
SELECT id, event_id, endpoint_id, attempt, outcome, status_code, error, duration_ms, attempted_at
FROM webhook_deliveries
WHERE event_id = ?
ORDER BY endpoint_id, attempt`
	rows, err := c.dbtx.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []WebhookDelivery
	for rows.Next() {
		var delivery WebhookDelivery
		if err := rows.Scan(
			&delivery.ID, &delivery.EventID, &delivery.EndpointID, &delivery.Attempt,
			&delivery.Outcome, &delivery.StatusCode, &delivery.Error, &delivery.DurationMS, &delivery.AttemptedAt,
		); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, delivery)
	}
	return deliveries, rows.Err()
}

// PruneProcessedWebhookEvents removes processed events and their delivery logs
// older than the cutoff.
func (c *Database) PruneProcessedWebhookEvents(ctx context.Context, cutoff string) (int64, error) {
	var pruned int64
	err := c.WithTx(ctx, func(tx DBTX) error {
		const deliveriesQuery = `-- name: PruneWebhookDeliveries :exec
DELETE FROM webhook_deliveries
WHERE event_id IN (SELECT id FROM webhook_events WHERE processed = 1 AND created_at < ?)`
		if _, err := tx.ExecContext(ctx, deliveriesQuery, cutoff); err != nil {
			return err
		}

		const eventsQuery = `-- name: PruneWebhookEvents :exec
DELETE FROM webhook_events WHERE processed = 1 AND created_at < ?`
		result, err := tx.ExecContext(ctx, eventsQuery, cutoff)
		if err != nil {
			return err
		}
		pruned, err = result.RowsAffected()
		return err
	})
	return pruned, err
}

func scanEndpoint(row rowScanner) (WebhookEndpoint, error) {
	var endpoint WebhookEndpoint
	var active int64
	err := row.Scan(
		&endpoint.ID, &endpoint.Tenant, &endpoint.URL, &endpoint.Secret,
		&endpoint.EventTypes, &active, &endpoint.CreatedAt,
	)
	endpoint.Active = active != 0
	return endpoint, err
}
