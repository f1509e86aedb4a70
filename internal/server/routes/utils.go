package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/db"
	"github.com/altvishcoder/complianceapps/internal/intake"
)

type errorResponse struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	ValidTypes []string `json:"valid_types,omitempty"`
}

// writeError maps service errors onto HTTP responses. Every admission and
// intake error has one canonical status and machine-readable code.
func writeError(c echo.Context, err error) error {
	var invalidReq *intake.InvalidRequestError
	var invalidType *intake.InvalidDocumentTypeError

	switch {
	case errors.Is(err, admission.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHENTICATED", Message: "missing or invalid API key"})
	case errors.Is(err, admission.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Code: "CLIENT_DISABLED", Message: "API client is disabled"})
	case errors.Is(err, admission.ErrTooManyUploads):
		return c.JSON(http.StatusTooManyRequests, errorResponse{Code: "TOO_MANY_UPLOADS", Message: "too many concurrent uploads for this client"})
	case errors.Is(err, admission.ErrDuplicateInFlight):
		return c.JSON(http.StatusConflict, errorResponse{Code: "DUPLICATE_IN_FLIGHT", Message: "an identical submission is already in progress"})
	case errors.Is(err, intake.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "no such resource"})
	case errors.Is(err, intake.ErrWrongClient):
		return c.JSON(http.StatusForbidden, errorResponse{Code: "FORBIDDEN", Message: "resource belongs to a different client"})
	case errors.As(err, &invalidReq):
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: invalidReq.Error()})
	case errors.As(err, &invalidType):
		return c.JSON(http.StatusBadRequest, errorResponse{
			Code:       "INVALID_DOCUMENT_TYPE",
			Message:    invalidType.Error(),
			ValidTypes: invalidType.ValidCodes,
		})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Message: "internal error"})
	}
}

func writeRateLimited(c echo.Context, decision admission.Decision) error {
	setRateHeaders(c, decision)
	c.Response().Header().Set("Retry-After", strconv.FormatInt(int64(decision.RetryAfter.Seconds()), 10))
	return c.JSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "request rate limit exceeded"})
}

func setRateHeaders(c echo.Context, decision admission.Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

func queryInt(c echo.Context, name string, fallback int64) int64 {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func nullString(value sql.NullString) string {
	if value.Valid {
		return value.String
	}
	return ""
}

type jobResponse struct {
	ID           string `json:"id"`
	Tenant       string `json:"tenant"`
	Certificate  string `json:"certificate_id"`
	PropertyRef  string `json:"property_ref"`
	DocumentType string `json:"document_type"`
	Filename     string `json:"filename"`
	ObjectPath   string `json:"object_path"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	Result       string `json:"result,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func mapJob(job db.IngestionJob) jobResponse {
	return jobResponse{
		ID:           job.ID,
		Tenant:       job.Tenant,
		Certificate:  job.CertificateID,
		PropertyRef:  job.PropertyRef,
		DocumentType: job.DocumentType,
		Filename:     job.Filename,
		ObjectPath:   job.ObjectPath,
		Status:       job.Status,
		ErrorCode:    nullString(job.ErrorCode),
		ErrorDetail:  nullString(job.ErrorDetail),
		Result:       nullString(job.ResultJSON),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func mapJobs(jobs []db.IngestionJob) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, mapJob(job))
	}
	return out
}
