package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/db"
)

// UploadConfig controls issued upload targets.
type UploadConfig struct {
	BaseURL    string
	TTL        time.Duration
	SigningKey string
}

// Service admits submissions and creates durable ingestion work.
type Service struct {
	store   *db.Database
	gate    admission.Gate
	uploads UploadConfig
	log     *slog.Logger

	wake chan struct{}
}

func NewService(store *db.Database, gate admission.Gate, uploads UploadConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		gate:    gate,
		uploads: uploads,
		log:     log,
		wake:    make(chan struct{}, 1),
	}
}

// Wake exposes the work signal the worker listens on.
func (s *Service) Wake() <-chan struct{} {
	return s.wake
}

// SubmitRequest is one document submission from an authenticated client.
type SubmitRequest struct {
	Tenant         string
	ClientID       int64
	PropertyRef    string
	DocumentType   string
	Filename       string
	ObjectPath     string
	CallbackURL    string
	IdempotencyKey string
}

// SubmitResult carries the created or previously-existing job.
type SubmitResult struct {
	Job        db.IngestionJob
	Idempotent bool
}

// Submit runs the admission pipeline for one submission: concurrency slot,
// composite lock, idempotency lookup, then job creation. The slot and lock are
// released on every exit path.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := s.validateSubmit(req); err != nil {
		return SubmitResult{}, err
	}
	if err := s.validateDocumentType(ctx, req.DocumentType); err != nil {
		return SubmitResult{}, err
	}

	slot, err := s.gate.AcquireSlot(req.ClientID)
	if err != nil {
		return SubmitResult{}, err
	}
	defer slot.Release()

	lock, err := s.gate.LockKey(admission.LockKeyFor(req.Tenant, req.IdempotencyKey, req.PropertyRef, req.Filename))
	if err != nil {
		return SubmitResult{}, err
	}
	defer lock.Release()

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.store.GetJobByIdempotencyKey(ctx, req.Tenant, key)
		if err == nil {
			return SubmitResult{Job: existing, Idempotent: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return SubmitResult{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	job, err := s.store.CreateJobWithCertificate(ctx, db.CreateJobParams{
		Tenant:         req.Tenant,
		ClientID:       req.ClientID,
		PropertyRef:    strings.TrimSpace(req.PropertyRef),
		DocumentType:   req.DocumentType,
		Filename:       strings.TrimSpace(req.Filename),
		ObjectPath:     strings.TrimSpace(req.ObjectPath),
		CallbackURL:    strings.TrimSpace(req.CallbackURL),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create ingestion job: %w", err)
	}

	// The job is durable in QUEUED either way; a missed signal only delays
	// pickup until the worker's next poll.
	select {
	case s.wake <- struct{}{}:
	default:
	}

	return SubmitResult{Job: job}, nil
}

// GetJob returns one job scoped to the calling tenant.
func (s *Service) GetJob(ctx context.Context, tenant, jobID string) (db.IngestionJob, error) {
	job, err := s.store.GetJobByID(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.IngestionJob{}, ErrNotFound
	}
	if err != nil {
		return db.IngestionJob{}, err
	}
	if job.Tenant != tenant {
		return db.IngestionJob{}, ErrWrongClient
	}
	return job, nil
}

// ListJobs returns a page of the tenant's jobs, optionally filtered by status.
func (s *Service) ListJobs(ctx context.Context, tenant, status string, limit, offset int64) ([]db.IngestionJob, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != "" {
		switch status {
		case db.JobStatusQueued, db.JobStatusProcessing, db.JobStatusComplete, db.JobStatusFailed:
		default:
			return nil, &InvalidRequestError{Field: "status", Reason: "must be one of QUEUED, PROCESSING, COMPLETE, FAILED"}
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListJobs(ctx, db.ListJobsParams{Tenant: tenant, Status: status, Limit: limit, Offset: offset})
}

// GetCertificate returns one certificate and its remedial actions, scoped to
// the calling tenant.
func (s *Service) GetCertificate(ctx context.Context, tenant, certificateID string) (db.Certificate, []db.RemedialAction, error) {
	cert, err := s.store.GetCertificateByID(ctx, certificateID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Certificate{}, nil, ErrNotFound
	}
	if err != nil {
		return db.Certificate{}, nil, err
	}
	if cert.Tenant != tenant {
		return db.Certificate{}, nil, ErrWrongClient
	}
	actions, err := s.store.ListRemedialActionsByCertificate(ctx, certificateID)
	if err != nil {
		return db.Certificate{}, nil, err
	}
	return cert, actions, nil
}

// DocumentTypes returns the codes currently accepted for submission.
func (s *Service) DocumentTypes(ctx context.Context) ([]db.DocumentType, error) {
	return s.store.ListEnabledDocumentTypes(ctx)
}

// UploadRequest asks for a short-lived upload target.
type UploadRequest struct {
	Tenant         string
	ClientID       int64
	Filename       string
	IdempotencyKey string
}

// UploadResult carries the issued or previously-issued session.
type UploadResult struct {
	Session    db.UploadSession
	Idempotent bool
}

// CreateUpload issues an expiring signed upload URL under the same throttle
// and idempotency rules as submissions.
func (s *Service) CreateUpload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return UploadResult{}, &InvalidRequestError{Field: "filename", Reason: "is required"}
	}
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return UploadResult{}, &InvalidRequestError{Field: "filename", Reason: "must not contain path separators"}
	}

	slot, err := s.gate.AcquireSlot(req.ClientID)
	if err != nil {
		return UploadResult{}, err
	}
	defer slot.Release()

	lock, err := s.gate.LockKey(admission.UploadLockKeyFor(req.Tenant, req.IdempotencyKey, filename))
	if err != nil {
		return UploadResult{}, err
	}
	defer lock.Release()

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.store.GetUploadSessionByIdempotencyKey(ctx, req.Tenant, key)
		if err == nil {
			return UploadResult{Session: existing, Idempotent: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return UploadResult{}, fmt.Errorf("upload idempotency lookup: %w", err)
		}
	}

	objectPath := fmt.Sprintf("%s/%s/%s", req.Tenant, uuid.NewString(), filename)
	expiresAt := time.Now().Add(s.uploads.TTL).Unix()

	session, err := s.store.CreateUploadSession(ctx, db.CreateUploadSessionParams{
		Tenant:         req.Tenant,
		ClientID:       req.ClientID,
		Filename:       filename,
		ObjectPath:     objectPath,
		UploadURL:      s.signedUploadURL(objectPath, expiresAt),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("create upload session: %w", err)
	}
	return UploadResult{Session: session}, nil
}

func (s *Service) signedUploadURL(objectPath string, expiresAt int64) string {
	mac := hmac.New(sha256.New, []byte(s.uploads.SigningKey))
	fmt.Fprintf(mac, "%s\n%d", objectPath, expiresAt)
	signature := hex.EncodeToString(mac.Sum(nil))

	base := strings.TrimRight(s.uploads.BaseURL, "/")
	return fmt.Sprintf("%s/objects/%s?expires=%d&sig=%s", base, url.PathEscape(objectPath), expiresAt, signature)
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.PropertyRef) == "":
		return &InvalidRequestError{Field: "property_ref", Reason: "is required"}
	case strings.TrimSpace(req.DocumentType) == "":
		return &InvalidRequestError{Field: "document_type", Reason: "is required"}
	case strings.TrimSpace(req.Filename) == "":
		return &InvalidRequestError{Field: "filename", Reason: "is required"}
	case strings.TrimSpace(req.ObjectPath) == "":
		return &InvalidRequestError{Field: "object_path", Reason: "is required"}
	}
	return nil
}

func (s *Service) validateDocumentType(ctx context.Context, code string) error {
	docType, err := s.store.GetDocumentType(ctx, code)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup document type: %w", err)
	}
	if err == nil && docType.Enabled {
		return nil
	}

	enabled, listErr := s.store.ListEnabledDocumentTypes(ctx)
	if listErr != nil {
		return fmt.Errorf("list document types: %w", listErr)
	}
	return &InvalidDocumentTypeError{
		Code:       code,
		ValidCodes: lo.Map(enabled, func(dt db.DocumentType, _ int) string { return dt.Code }),
	}
}
