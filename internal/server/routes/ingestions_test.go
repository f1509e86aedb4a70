package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/db"
	"github.com/altvishcoder/complianceapps/internal/intake"
)

type testAPI struct {
	echo *echo.Echo
	key  string
}

func newTestAPI(t *testing.T, rateLimit int) testAPI {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "routes-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	key, prefix, hash, err := admission.NewClientKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := database.CreateClient(context.Background(), db.CreateClientParams{
		Tenant: "acme", Name: "submitter", KeyPrefix: prefix, KeyHash: hash,
	}); err != nil {
		t.Fatalf("seed client: %v", err)
	}

	service := intake.NewService(database, admission.NewInProcessGate(4), intake.UploadConfig{
		BaseURL:    "https://uploads.example",
		TTL:        15 * time.Minute,
		SigningKey: "test-signing-key",
	}, nil)

	e := echo.New()
	NewIntakeRoutes(service, admission.NewAuthenticator(database), admission.NewLimiter(database, rateLimit, time.Minute)).RegisterRoutes(e)
	return testAPI{echo: e, key: key}
}

func (api testAPI) request(method, path, body, key string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if key != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	api.echo.ServeHTTP(rec, req)
	return rec
}

const submitBody = `{"property_ref":"PROP-001","document_type":"GAS_SAFETY","filename":"cp12.pdf","object_path":"acme/u/cp12.pdf"}`

func TestRoutesRequireAuthentication(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 10)

	rec := api.request(http.MethodPost, "/v1/ingestions", submitBody, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec = api.request(http.MethodPost, "/v1/ingestions", submitBody, "ck_wrongwrongwrongwrongwrongwrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad key, got %d", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 10)
	rec := api.request(http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on health, got %d", rec.Code)
	}
}

func TestCreateIngestion(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 10)

	rec := api.request(http.MethodPost, "/v1/ingestions", submitBody, api.key)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Fatalf("missing rate limit headers: %v", rec.Header())
	}

	var job jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != db.JobStatusQueued || job.PropertyRef != "PROP-001" {
		t.Fatalf("unexpected job: %+v", job)
	}

	get := api.request(http.MethodGet, "/v1/ingestions/"+job.ID, "", api.key)
	if get.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", get.Code)
	}

	missing := api.request(http.MethodGet, "/v1/ingestions/no-such-job", "", api.key)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", missing.Code)
	}
}

func TestCreateIngestionIdempotentReplay(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingestions", strings.NewReader(submitBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+api.key)
	req.Header.Set("Idempotency-Key", "idem-route-1")
	rec := httptest.NewRecorder()
	api.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var first jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/ingestions", strings.NewReader(submitBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+api.key)
	req.Header.Set("Idempotency-Key", "idem-route-1")
	rec = httptest.NewRecorder()
	api.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	var second jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned different job: %s vs %s", second.ID, first.ID)
	}
}

func TestCreateIngestionInvalidDocumentType(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 10)
	body := strings.Replace(submitBody, "GAS_SAFETY", "NOT_A_TYPE", 1)

	rec := api.request(http.MethodPost, "/v1/ingestions", body, api.key)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != "INVALID_DOCUMENT_TYPE" || len(resp.ValidTypes) == 0 {
		t.Fatalf("unexpected error payload: %+v", resp)
	}
}

func TestRateLimitExhaustionReturns429(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		rec := api.request(http.MethodGet, "/v1/document-types", "", api.key)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := api.request(http.MethodGet, "/v1/document-types", "", api.key)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected error code: %s", resp.Code)
	}
}

func TestCreateUploadRoute(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, 10)

	rec := api.request(http.MethodPost, "/v1/uploads", `{"filename":"cp12.pdf"}`, api.key)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var upload uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &upload); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if !strings.Contains(upload.UploadURL, "sig=") {
		t.Fatalf("upload url not signed: %s", upload.UploadURL)
	}

	bad := api.request(http.MethodPost, "/v1/uploads", `{"filename":"../../etc/passwd"}`, api.key)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal filename, got %d", bad.Code)
	}
}
