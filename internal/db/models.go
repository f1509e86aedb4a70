package db

import (
	"database/sql"
	"time"
)

// Job status values. Transitions are strictly
// queued -> processing -> {complete | failed}.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusProcessing = "PROCESSING"
	JobStatusComplete   = "COMPLETE"
	JobStatusFailed     = "FAILED"
)

// Certificate status values.
const (
	CertStatusReceived   = "RECEIVED"
	CertStatusProcessing = "PROCESSING"
	CertStatusComplete   = "COMPLETE"
	CertStatusFailed     = "FAILED"
)

// Client status values.
const (
	ClientStatusActive   = "active"
	ClientStatusDisabled = "disabled"
)

// Delivery outcome values.
const (
	DeliveryOutcomeSuccess = "success"
	DeliveryOutcomeFailure = "failure"
)

// APIClient is one tenant-scoped intake credential.
type APIClient struct {
	ID           int64
	Tenant       string
	Name         string
	KeyPrefix    string
	KeyHash      string
	Status       string
	RequestCount int64
	LastUsedAt   sql.NullString
	CreatedAt    string
}

// RateWindow is the active fixed rate-limit window for one client.
type RateWindow struct {
	ClientID    int64
	Count       int64
	WindowStart int64
	ResetAt     int64
}

// DocumentType is one accepted compliance document type code.
type DocumentType struct {
	Code    string
	Name    string
	Enabled bool
}

// Certificate is the compliance record an ingestion job produces.
type Certificate struct {
	ID            string
	Tenant        string
	PropertyRef   string
	DocumentType  string
	Status        string
	FailureReason sql.NullString
	CreatedAt     string
	UpdatedAt     string
}

// IngestionJob is one durable unit of extraction work.
type IngestionJob struct {
	ID             string
	Tenant         string
	ClientID       int64
	CertificateID  string
	PropertyRef    string
	DocumentType   string
	Filename       string
	ObjectPath     string
	CallbackURL    sql.NullString
	IdempotencyKey sql.NullString
	Status         string
	ErrorCode      sql.NullString
	ErrorDetail    sql.NullString
	ResultJSON     sql.NullString
	CreatedAt      string
	UpdatedAt      string
	UpdatedAtMS    int64
}

// UploadSession is one issued short-lived upload target.
type UploadSession struct {
	ID             string
	Tenant         string
	ClientID       int64
	Filename       string
	ObjectPath     string
	UploadURL      string
	IdempotencyKey sql.NullString
	ExpiresAt      int64
	CreatedAt      string
}

// RemedialAction is one follow-up item raised by a non-compliant extraction result.
type RemedialAction struct {
	ID            string
	Tenant        string
	CertificateID string
	Description   string
	Severity      string
	Status        string
	CreatedAt     string
}

// WebhookEndpoint is one tenant-scoped delivery target.
type WebhookEndpoint struct {
	ID         int64
	Tenant     string
	URL        string
	Secret     string
	EventTypes string
	Active     bool
	CreatedAt  string
}

// WebhookEvent is one immutable outbox record.
type WebhookEvent struct {
	ID          string
	Tenant      string
	EventType   string
	EntityType  string
	EntityID    string
	PayloadJSON string
	Processed   bool
	CreatedAt   string
}

// WebhookDelivery is one append-only delivery attempt record. EndpointID is
// null for deliveries to a caller-supplied callback URL.
type WebhookDelivery struct {
	ID          int64
	EventID     string
	EndpointID  sql.NullInt64
	Attempt     int64
	Outcome     string
	StatusCode  sql.NullInt64
	Error       sql.NullString
	DurationMS  int64
	AttemptedAt string
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
