package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, tenant, client_id, certificate_id, property_ref, document_type, filename,
    object_path, callback_url, idempotency_key, status, error_code, error_detail, result_json,
    created_at, updated_at, updated_at_ms`

// ListEnabledDocumentTypes returns currently accepted document type codes.
func (c *Database) ListEnabledDocumentTypes(ctx context.Context) ([]DocumentType, error) {
	const query = `-- name: ListEnabledDocumentTypes :many
SELECT code, name, enabled FROM document_types WHERE enabled = 1 ORDER BY code`
	return c.queryDocumentTypes(ctx, query)
}

// ListDocumentTypes returns all document types, enabled or not.
func (c *Database) ListDocumentTypes(ctx context.Context) ([]DocumentType, error) {
	const query = `-- name: ListDocumentTypes :many
SELECT code, name, enabled FROM document_types ORDER BY code`
	return c.queryDocumentTypes(ctx, query)
}

func (c *Database) queryDocumentTypes(ctx context.Context, query string) ([]DocumentType, error) {
	rows, err := c.dbtx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []DocumentType
	for rows.Next() {
		var dt DocumentType
		var enabled int64
		if err := rows.Scan(&dt.Code, &dt.Name, &enabled); err != nil {
			return nil, err
		}
		dt.Enabled = enabled != 0
		types = append(types, dt)
	}
	return types, rows.Err()
}

// GetDocumentType fetches one document type by code.
func (c *Database) GetDocumentType(ctx context.Context, code string) (DocumentType, error) {
	const query = `-- name: GetDocumentType :one
SELECT code, name, enabled FROM document_types WHERE code = ?`
	var dt DocumentType
	var enabled int64
	err := c.dbtx.QueryRowContext(ctx, query, code).Scan(&dt.Code, &dt.Name, &enabled)
	dt.Enabled = enabled != 0
	return dt, err
}

// SetDocumentTypeEnabled toggles whether a document type code is accepted.
func (c *Database) SetDocumentTypeEnabled(ctx context.Context, code string, enabled bool) error {
	const query = `-- name: SetDocumentTypeEnabled :exec
UPDATE document_types SET enabled = ? WHERE code = ?`
	enabledValue := int64(0)
	if enabled {
		enabledValue = 1
	}
	_, err := c.dbtx.ExecContext(ctx, query, enabledValue, code)
	return err
}

// CreateJobParams contains fields for a new ingestion job and its certificate.
type CreateJobParams struct {
	Tenant         string
	ClientID       int64
	PropertyRef    string
	DocumentType   string
	Filename       string
	ObjectPath     string
	CallbackURL    string
	IdempotencyKey string
}

// CreateJobWithCertificate persists the certificate shell and its queued job
// in one transaction.
func (c *Database) CreateJobWithCertificate(ctx context.Context, params CreateJobParams) (IngestionJob, error) {
	jobID := uuid.NewString()
	certID := uuid.NewString()
	now := nowUTC()
	nowMS := time.Now().UnixMilli()

	err := c.WithTx(ctx, func(tx DBTX) error {
		const certQuery = `-- name: CreateCertificate :exec
INSERT INTO certificates (id, tenant, property_ref, document_type, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, certQuery,
			certID, params.Tenant, params.PropertyRef, params.DocumentType, CertStatusReceived, now, now,
		); err != nil {
			return err
		}

		const jobQuery = `-- name: CreateIngestionJob :exec
INSERT INTO ingestion_jobs (id, tenant, client_id, certificate_id, property_ref, document_type,
    filename, object_path, callback_url, idempotency_key, status, created_at, updated_at, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, jobQuery,
			jobID, params.Tenant, params.ClientID, certID, params.PropertyRef, params.DocumentType,
			params.Filename, params.ObjectPath, nullString(params.CallbackURL), nullString(params.IdempotencyKey),
			JobStatusQueued, now, now, nowMS,
		)
		return err
	})
	if err != nil {
		return IngestionJob{}, err
	}
	return c.GetJobByID(ctx, jobID)
}

// GetJobByID fetches one ingestion job.
func (c *Database) GetJobByID(ctx context.Context, id string) (IngestionJob, error) {
	query := `-- name: GetJobByID :one
SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = ?`
	return scanJob(c.dbtx.QueryRowContext(ctx, query, id))
}

// GetJobByIdempotencyKey resolves a prior job for (tenant, key), if any.
func (c *Database) GetJobByIdempotencyKey(ctx context.Context, tenant, key string) (IngestionJob, error) {
	query := `-- name: GetJobByIdempotencyKey :one
SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE tenant = ? AND idempotency_key = ?`
	return scanJob(c.dbtx.QueryRowContext(ctx, query, tenant, key))
}

// ListJobsParams filters the tenant-scoped job listing.
type ListJobsParams struct {
	Tenant string
	Status string
	Limit  int64
	Offset int64
}

// ListJobs returns a page of jobs for one tenant, newest first.
func (c *Database) ListJobs(ctx context.Context, params ListJobsParams) ([]IngestionJob, error) {
	query := `-- name: ListJobs :many
SELECT ` + jobColumns + `
FROM ingestion_jobs
WHERE tenant = ?1 AND (?2 = '' OR status = ?2)
ORDER BY created_at DESC
LIMIT ?3 OFFSET ?4`
	rows, err := c.dbtx.QueryContext(ctx, query, params.Tenant, params.Status, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []IngestionJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextQueuedJob atomically claims the oldest queued job, moving both the
// job and its certificate to processing. Returns false when no work is queued.
func (c *Database) ClaimNextQueuedJob(ctx context.Context) (IngestionJob, bool, error) {
	var claimed IngestionJob
	found := false

	err := c.WithTx(ctx, func(tx DBTX) error {
		query := `-- name: ClaimNextQueuedJob :one
UPDATE ingestion_jobs
SET status = ?, updated_at = ?, updated_at_ms = ?
WHERE id = (SELECT id FROM ingestion_jobs WHERE status = ? ORDER BY created_at LIMIT 1)
RETURNING ` + jobColumns
		job, err := scanJob(tx.QueryRowContext(ctx, query,
			JobStatusProcessing, nowUTC(), time.Now().UnixMilli(), JobStatusQueued,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		const certQuery = `-- name: MarkCertificateProcessing :exec
UPDATE certificates SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
		if _, err := tx.ExecContext(ctx, certQuery,
			CertStatusProcessing, nowUTC(), job.CertificateID, CertStatusReceived,
		); err != nil {
			return err
		}

		claimed = job
		found = true
		return nil
	})
	return claimed, found, err
}

// NewRemedialAction describes one remedial action raised alongside a result.
type NewRemedialAction struct {
	Description string
	Severity    string
}

// NewWebhookEvent describes one outbox record written with a domain change.
type NewWebhookEvent struct {
	Tenant      string
	EventType   string
	EntityType  string
	EntityID    string
	PayloadJSON string
}

// CompleteJobParams records a successful extraction outcome.
type CompleteJobParams struct {
	JobID         string
	CertificateID string
	Tenant        string
	ResultJSON    string
	Remedials     []NewRemedialAction
	Events        []NewWebhookEvent
}

// CompleteJob transitions a processing job and its certificate to complete,
// raising remedial actions and outbox events in the same transaction.
// Returns false when the job was no longer in processing (CAS lost).
func (c *Database) CompleteJob(ctx context.Context, params CompleteJobParams) (bool, error) {
	applied := false
	err := c.WithTx(ctx, func(tx DBTX) error {
		const jobQuery = `-- name: CompleteIngestionJob :exec
UPDATE ingestion_jobs
SET status = ?, result_json = ?, updated_at = ?, updated_at_ms = ?
WHERE id = ? AND status = ?`
		result, err := tx.ExecContext(ctx, jobQuery,
			JobStatusComplete, nullString(params.ResultJSON), nowUTC(), time.Now().UnixMilli(),
			params.JobID, JobStatusProcessing,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		const certQuery = `-- name: CompleteCertificate :exec
UPDATE certificates SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
		if _, err := tx.ExecContext(ctx, certQuery,
			CertStatusComplete, nowUTC(), params.CertificateID, CertStatusProcessing,
		); err != nil {
			return err
		}

		for _, remedial := range params.Remedials {
			if err := insertRemedialAction(ctx, tx, params.Tenant, params.CertificateID, remedial); err != nil {
				return err
			}
		}
		for _, event := range params.Events {
			if err := appendWebhookEvent(ctx, tx, event); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// FailJobParams records a failed extraction outcome.
type FailJobParams struct {
	JobID         string
	CertificateID string
	ErrorCode     string
	ErrorDetail   string
	Events        []NewWebhookEvent
}

// FailJob transitions a processing job and its certificate to failed with a
// structured reason. Returns false when the job was no longer in processing.
func (c *Database) FailJob(ctx context.Context, params FailJobParams) (bool, error) {
	applied := false
	err := c.WithTx(ctx, func(tx DBTX) error {
		const jobQuery = `-- name: FailIngestionJob :exec
UPDATE ingestion_jobs
SET status = ?, error_code = ?, error_detail = ?, updated_at = ?, updated_at_ms = ?
WHERE id = ? AND status = ?`
		result, err := tx.ExecContext(ctx, jobQuery,
			JobStatusFailed, params.ErrorCode, nullString(params.ErrorDetail), nowUTC(), time.Now().UnixMilli(),
			params.JobID, JobStatusProcessing,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		const certQuery = `-- name: FailCertificate :exec
UPDATE certificates SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`
		if _, err := tx.ExecContext(ctx, certQuery,
			CertStatusFailed, params.ErrorCode, nowUTC(), params.CertificateID, CertStatusProcessing,
		); err != nil {
			return err
		}

		for _, event := range params.Events {
			if err := appendWebhookEvent(ctx, tx, event); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// ListStuckJobs finds processing jobs whose last update is older than cutoff.
func (c *Database) ListStuckJobs(ctx context.Context, cutoffMS int64, limit int64) ([]IngestionJob, error) {
	query := `-- name: ListStuckJobs :many
SELECT ` + jobColumns + `
FROM ingestion_jobs
WHERE status = ? AND updated_at_ms < ?
ORDER BY updated_at_ms
LIMIT ?`
	rows, err := c.dbtx.QueryContext(ctx, query, JobStatusProcessing, cutoffMS, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []IngestionJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetCertificateByID fetches one certificate.
func (c *Database) GetCertificateByID(ctx context.Context, id string) (Certificate, error) {
	const query = `-- name: GetCertificateByID :one
SELECT id, tenant, property_ref, document_type, status, failure_reason, created_at, updated_at
FROM certificates
WHERE id = ?`
	var cert Certificate
	err := c.dbtx.QueryRowContext(ctx, query, id).Scan(
		&cert.ID, &cert.Tenant, &cert.PropertyRef, &cert.DocumentType,
		&cert.Status, &cert.FailureReason, &cert.CreatedAt, &cert.UpdatedAt,
	)
	return cert, err
}

// ListRemedialActionsByCertificate returns remedial actions raised for a certificate.
func (c *Database) ListRemedialActionsByCertificate(ctx context.Context, certificateID string) ([]RemedialAction, error) {
	const query = `-- name: ListRemedialActionsByCertificate :many
SELECT id, tenant, certificate_id, description, severity, status, created_at
FROM remedial_actions
WHERE certificate_id = ?
ORDER BY created_at`
	rows, err := c.dbtx.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []RemedialAction
	for rows.Next() {
		var action RemedialAction
		if err := rows.Scan(
			&action.ID, &action.Tenant, &action.CertificateID, &action.Description,
			&action.Severity, &action.Status, &action.CreatedAt,
		); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// CreateUploadSessionParams contains fields for one issued upload target.
type CreateUploadSessionParams struct {
	Tenant         string
	ClientID       int64
	Filename       string
	ObjectPath     string
	UploadURL      string
	IdempotencyKey string
	ExpiresAt      int64
}

// CreateUploadSession persists one issued upload session.
func (c *Database) CreateUploadSession(ctx context.Context, params CreateUploadSessionParams) (UploadSession, error) {
	const query = `-- name: CreateUploadSession :one
INSERT INTO upload_sessions (id, tenant, client_id, filename, object_path, upload_url, idempotency_key, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, tenant, client_id, filename, object_path, upload_url, idempotency_key, expires_at, created_at`
	row := c.dbtx.QueryRowContext(ctx, query,
		uuid.NewString(), params.Tenant, params.ClientID, params.Filename, params.ObjectPath,
		params.UploadURL, nullString(params.IdempotencyKey), params.ExpiresAt, nowUTC(),
	)
	return scanUploadSession(row)
}

// GetUploadSessionByIdempotencyKey resolves a prior session for (tenant, key).
func (c *Database) GetUploadSessionByIdempotencyKey(ctx context.Context, tenant, key string) (UploadSession, error) {
	const query = `-- name: GetUploadSessionByIdempotencyKey :one
SELECT id, tenant, client_id, filename, object_path, upload_url, idempotency_key, expires_at, created_at
FROM upload_sessions
WHERE tenant = ? AND idempotency_key = ?`
	return scanUploadSession(c.dbtx.QueryRowContext(ctx, query, tenant, key))
}

// DeleteExpiredUploadSessions removes sessions past their expiry.
func (c *Database) DeleteExpiredUploadSessions(ctx context.Context, now int64) (int64, error) {
	const query = `-- name: DeleteExpiredUploadSessions :exec
DELETE FROM upload_sessions WHERE expires_at <= ?`
	result, err := c.dbtx.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func insertRemedialAction(ctx context.Context, tx DBTX, tenant, certificateID string, action NewRemedialAction) error {
	const query = `-- name: CreateRemedialAction :exec
INSERT INTO remedial_actions (id, tenant, certificate_id, description, severity, status, created_at)
VALUES (?, ?, ?, ?, ?, 'open', ?)`
	_, err := tx.ExecContext(ctx, query,
		uuid.NewString(), tenant, certificateID, action.Description, action.Severity, nowUTC(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (IngestionJob, error) {
	var job IngestionJob
	err := row.Scan(
		&job.ID, &job.Tenant, &job.ClientID, &job.CertificateID, &job.PropertyRef, &job.DocumentType,
		&job.Filename, &job.ObjectPath, &job.CallbackURL, &job.IdempotencyKey, &job.Status,
		&job.ErrorCode, &job.ErrorDetail, &job.ResultJSON, &job.CreatedAt, &job.UpdatedAt, &job.UpdatedAtMS,
	)
	return job, err
}

func scanJobRows(rows *sql.Rows) (IngestionJob, error) {
	return scanJob(rows)
}

func scanUploadSession(row rowScanner) (UploadSession, error) {
	var session UploadSession
	err := row.Scan(
		&session.ID, &session.Tenant, &session.ClientID, &session.Filename, &session.ObjectPath,
		&session.UploadURL, &session.IdempotencyKey, &session.ExpiresAt, &session.CreatedAt,
	)
	return session, err
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
