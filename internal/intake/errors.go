// Package intake orchestrates document submission: admission checks,
// idempotent job creation, the extraction worker loop, and the stuck-job
// reaper.
package intake

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("not found")
	// ErrWrongClient is returned when a job exists but belongs to another tenant.
	ErrWrongClient = errors.New("job belongs to a different client")
)

// InvalidRequestError reports a missing or malformed field.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// InvalidDocumentTypeError reports an unknown or disabled document type along
// with the codes currently accepted.
type InvalidDocumentTypeError struct {
	Code       string
	ValidCodes []string
}

func (e *InvalidDocumentTypeError) Error() string {
	return fmt.Sprintf("unknown or disabled document type %q (valid: %s)", e.Code, strings.Join(e.ValidCodes, ", "))
}

// Structured error codes recorded on failed jobs.
const (
	ErrorCodeExtractionFailed  = "EXTRACTION_FAILED"
	ErrorCodeProcessingTimeout = "PROCESSING_TIMEOUT"
)
