package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/altvishcoder/complianceapps/internal/intake"
)

type createUploadRequest struct {
	Filename string `json:"filename"`
}

type uploadResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	ObjectPath string `json:"object_path"`
	UploadURL  string `json:"upload_url"`
	ExpiresAt  int64  `json:"expires_at"`
}

func (r *IntakeRoutes) handleCreateUpload(c echo.Context) error {
	client := currentClient(c)

	var req createUploadRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &intake.InvalidRequestError{Field: "body", Reason: "must be valid JSON"})
	}

	result, err := r.service.CreateUpload(c.Request().Context(), intake.UploadRequest{
		Tenant:         client.Tenant,
		ClientID:       client.ID,
		Filename:       req.Filename,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, err)
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	return c.JSON(status, uploadResponse{
		ID:         result.Session.ID,
		Filename:   result.Session.Filename,
		ObjectPath: result.Session.ObjectPath,
		UploadURL:  result.Session.UploadURL,
		ExpiresAt:  result.Session.ExpiresAt,
	})
}
