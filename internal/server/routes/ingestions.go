// Package routes exposes the intake API over Echo.
package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/intake"
)

// IntakeRoutes registers the authenticated intake API.
type IntakeRoutes struct {
	service *intake.Service
	auth    *admission.Authenticator
	limiter *admission.Limiter
}

func NewIntakeRoutes(service *intake.Service, auth *admission.Authenticator, limiter *admission.Limiter) *IntakeRoutes {
	return &IntakeRoutes{service: service, auth: auth, limiter: limiter}
}

// RegisterRoutes registers intake endpoints.
func (r *IntakeRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/health", handleHealth)

	v1 := s.Group("/v1", r.requireClient)
	v1.POST("/ingestions", r.handleCreateIngestion)
	v1.GET("/ingestions", r.handleListIngestions)
	v1.GET("/ingestions/:id", r.handleGetIngestion)
	v1.GET("/certificates/:id", r.handleGetCertificate)
	v1.GET("/document-types", r.handleListDocumentTypes)
	v1.POST("/uploads", r.handleCreateUpload)
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type createIngestionRequest struct {
	PropertyRef  string `json:"property_ref"`
	DocumentType string `json:"document_type"`
	Filename     string `json:"filename"`
	ObjectPath   string `json:"object_path"`
	CallbackURL  string `json:"callback_url"`
}

func (r *IntakeRoutes) handleCreateIngestion(c echo.Context) error {
	client := currentClient(c)

	var req createIngestionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &intake.InvalidRequestError{Field: "body", Reason: "must be valid JSON"})
	}

	result, err := r.service.Submit(c.Request().Context(), intake.SubmitRequest{
		Tenant:         client.Tenant,
		ClientID:       client.ID,
		PropertyRef:    req.PropertyRef,
		DocumentType:   req.DocumentType,
		Filename:       req.Filename,
		ObjectPath:     req.ObjectPath,
		CallbackURL:    req.CallbackURL,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, err)
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	return c.JSON(status, mapJob(result.Job))
}

func (r *IntakeRoutes) handleGetIngestion(c echo.Context) error {
	client := currentClient(c)
	job, err := r.service.GetJob(c.Request().Context(), client.Tenant, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, mapJob(job))
}

func (r *IntakeRoutes) handleListIngestions(c echo.Context) error {
	client := currentClient(c)
	jobs, err := r.service.ListJobs(c.Request().Context(),
		client.Tenant,
		c.QueryParam("status"),
		queryInt(c, "limit", 50),
		queryInt(c, "offset", 0),
	)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ingestions": mapJobs(jobs)})
}

type remedialActionResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type certificateResponse struct {
	ID              string                   `json:"id"`
	PropertyRef     string                   `json:"property_ref"`
	DocumentType    string                   `json:"document_type"`
	Status          string                   `json:"status"`
	FailureReason   string                   `json:"failure_reason,omitempty"`
	RemedialActions []remedialActionResponse `json:"remedial_actions"`
	CreatedAt       string                   `json:"created_at"`
	UpdatedAt       string                   `json:"updated_at"`
}

func (r *IntakeRoutes) handleGetCertificate(c echo.Context) error {
	client := currentClient(c)
	cert, actions, err := r.service.GetCertificate(c.Request().Context(), client.Tenant, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	resp := certificateResponse{
		ID:              cert.ID,
		PropertyRef:     cert.PropertyRef,
		DocumentType:    cert.DocumentType,
		Status:          cert.Status,
		FailureReason:   nullString(cert.FailureReason),
		RemedialActions: make([]remedialActionResponse, 0, len(actions)),
		CreatedAt:       cert.CreatedAt,
		UpdatedAt:       cert.UpdatedAt,
	}
	for _, action := range actions {
		resp.RemedialActions = append(resp.RemedialActions, remedialActionResponse{
			ID:          action.ID,
			Description: action.Description,
			Severity:    action.Severity,
			Status:      action.Status,
			CreatedAt:   action.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (r *IntakeRoutes) handleListDocumentTypes(c echo.Context) error {
	types, err := r.service.DocumentTypes(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	out := make([]map[string]string, 0, len(types))
	for _, dt := range types {
		out = append(out, map[string]string{"code": dt.Code, "name": dt.Name})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"document_types": out})
}
