package intake

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/db"
)

func newTestService(t *testing.T, gate admission.Gate) (*Service, *db.Database, db.APIClient) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "intake-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	client, err := database.CreateClient(context.Background(), db.CreateClientParams{
		Tenant: "acme", Name: "submitter", KeyPrefix: "ck_testpref", KeyHash: "hash",
	})
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}

	if gate == nil {
		gate = admission.NewInProcessGate(4)
	}
	service := NewService(database, gate, UploadConfig{
		BaseURL:    "https://uploads.example",
		TTL:        15 * time.Minute,
		SigningKey: "test-signing-key",
	}, nil)
	return service, database, client
}

func submitRequest(client db.APIClient) SubmitRequest {
	return SubmitRequest{
		Tenant:       client.Tenant,
		ClientID:     client.ID,
		PropertyRef:  "PROP-001",
		DocumentType: "GAS_SAFETY",
		Filename:     "cp12.pdf",
		ObjectPath:   "acme/u1/cp12.pdf",
	}
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	t.Parallel()

	service, database, client := newTestService(t, nil)
	ctx := context.Background()

	result, err := service.Submit(ctx, submitRequest(client))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Idempotent {
		t.Fatal("first submission must not be marked idempotent")
	}
	if result.Job.Status != db.JobStatusQueued {
		t.Fatalf("expected QUEUED, got %s", result.Job.Status)
	}

	select {
	case <-service.Wake():
	default:
		t.Fatal("expected worker wake signal after submit")
	}

	cert, err := database.GetCertificateByID(ctx, result.Job.CertificateID)
	if err != nil {
		t.Fatalf("get certificate: %v", err)
	}
	if cert.Status != db.CertStatusReceived {
		t.Fatalf("expected RECEIVED certificate, got %s", cert.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	service, _, client := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{"missing property", func(r *SubmitRequest) { r.PropertyRef = " " }, "property_ref"},
		{"missing type", func(r *SubmitRequest) { r.DocumentType = "" }, "document_type"},
		{"missing filename", func(r *SubmitRequest) { r.Filename = "" }, "filename"},
		{"missing object path", func(r *SubmitRequest) { r.ObjectPath = "" }, "object_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := submitRequest(client)
			tc.mutate(&req)
			_, err := service.Submit(ctx, req)
			var invalid *InvalidRequestError
			if !errors.As(err, &invalid) || invalid.Field != tc.field {
				t.Fatalf("expected InvalidRequestError on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestSubmitRejectsUnknownDocumentType(t *testing.T) {
	t.Parallel()

	service, database, client := newTestService(t, nil)
	ctx := context.Background()

	req := submitRequest(client)
	req.DocumentType = "NOT_A_TYPE"
	_, err := service.Submit(ctx, req)

	var invalid *InvalidDocumentTypeError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidDocumentTypeError, got %v", err)
	}
	if len(invalid.ValidCodes) == 0 {
		t.Fatal("error must carry the accepted codes")
	}
	for _, code := range invalid.ValidCodes {
		if code == "NOT_A_TYPE" {
			t.Fatal("rejected code listed as valid")
		}
	}

	// A disabled type is rejected the same way.
	if err := database.SetDocumentTypeEnabled(ctx, "EPC", false); err != nil {
		t.Fatalf("disable type: %v", err)
	}
	req.DocumentType = "EPC"
	_, err = service.Submit(ctx, req)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidDocumentTypeError for disabled type, got %v", err)
	}
	if strings.Contains(strings.Join(invalid.ValidCodes, ","), "EPC") {
		t.Fatal("disabled type listed as valid")
	}
}

func TestSubmitIdempotentReplay(t *testing.T) {
	t.Parallel()

	service, _, client := newTestService(t, nil)
	ctx := context.Background()

	req := submitRequest(client)
	req.IdempotencyKey = "idem-42"

	first, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	req.PropertyRef = "PROP-DIFFERENT"
	second, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("replay submit: %v", err)
	}
	if !second.Idempotent {
		t.Fatal("replay must be marked idempotent")
	}
	if second.Job.ID != first.Job.ID {
		t.Fatalf("replay returned different job: %s vs %s", second.Job.ID, first.Job.ID)
	}
	if second.Job.PropertyRef != "PROP-001" {
		t.Fatal("replay must return the original job, not a new one")
	}
}

func TestSubmitDuplicateInFlight(t *testing.T) {
	t.Parallel()

	gate := admission.NewInProcessGate(4)
	service, _, client := newTestService(t, gate)
	ctx := context.Background()

	req := submitRequest(client)
	req.IdempotencyKey = "idem-held"

	held, err := gate.LockKey(admission.LockKeyFor(req.Tenant, req.IdempotencyKey, req.PropertyRef, req.Filename))
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer held.Release()

	_, err = service.Submit(ctx, req)
	if !errors.Is(err, admission.ErrDuplicateInFlight) {
		t.Fatalf("expected ErrDuplicateInFlight, got %v", err)
	}
}

func TestSubmitTooManyUploads(t *testing.T) {
	t.Parallel()

	gate := admission.NewInProcessGate(1)
	service, _, client := newTestService(t, gate)

	slot, err := gate.AcquireSlot(client.ID)
	if err != nil {
		t.Fatalf("hold slot: %v", err)
	}
	defer slot.Release()

	_, err = service.Submit(context.Background(), submitRequest(client))
	if !errors.Is(err, admission.ErrTooManyUploads) {
		t.Fatalf("expected ErrTooManyUploads, got %v", err)
	}
}

func TestGetJobTenantScoping(t *testing.T) {
	t.Parallel()

	service, _, client := newTestService(t, nil)
	ctx := context.Background()

	created, err := service.Submit(ctx, submitRequest(client))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := service.GetJob(ctx, "acme", created.Job.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := service.GetJob(ctx, "rival", created.Job.ID); !errors.Is(err, ErrWrongClient) {
		t.Fatalf("expected ErrWrongClient, got %v", err)
	}
	if _, err := service.GetJob(ctx, "acme", "no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobsRejectsBadStatus(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestService(t, nil)
	_, err := service.ListJobs(context.Background(), "acme", "SHIPPED", 10, 0)
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) || invalid.Field != "status" {
		t.Fatalf("expected status validation error, got %v", err)
	}
}

func TestCreateUploadSignedURL(t *testing.T) {
	t.Parallel()

	service, _, client := newTestService(t, nil)
	ctx := context.Background()

	result, err := service.CreateUpload(ctx, UploadRequest{
		Tenant: "acme", ClientID: client.ID, Filename: "cp12.pdf", IdempotencyKey: "up-1",
	})
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}
	if !strings.HasPrefix(result.Session.UploadURL, "https://uploads.example/objects/") {
		t.Fatalf("unexpected upload url: %s", result.Session.UploadURL)
	}
	if !strings.Contains(result.Session.UploadURL, "sig=") || !strings.Contains(result.Session.UploadURL, "expires=") {
		t.Fatalf("upload url missing signature: %s", result.Session.UploadURL)
	}
	if result.Session.ExpiresAt <= time.Now().Unix() {
		t.Fatal("upload url must expire in the future")
	}

	replay, err := service.CreateUpload(ctx, UploadRequest{
		Tenant: "acme", ClientID: client.ID, Filename: "other.pdf", IdempotencyKey: "up-1",
	})
	if err != nil {
		t.Fatalf("replay upload: %v", err)
	}
	if !replay.Idempotent || replay.Session.ID != result.Session.ID {
		t.Fatalf("expected idempotent replay, got %+v", replay)
	}
}

func TestCreateUploadDoesNotContendWithSubmissions(t *testing.T) {
	t.Parallel()

	gate := admission.NewInProcessGate(4)
	service, _, client := newTestService(t, gate)
	ctx := context.Background()

	// An in-flight submission for a property literally named "upload" with the
	// same filename must not block upload issuance.
	held, err := gate.LockKey(admission.LockKeyFor("acme", "", "upload", "cp12.pdf"))
	if err != nil {
		t.Fatalf("hold submission lock: %v", err)
	}
	defer held.Release()

	if _, err := service.CreateUpload(ctx, UploadRequest{
		Tenant: "acme", ClientID: client.ID, Filename: "cp12.pdf",
	}); err != nil {
		t.Fatalf("upload must not contend with the submission lock: %v", err)
	}
}

func TestCreateUploadRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	service, _, client := newTestService(t, nil)
	for _, filename := range []string{"../../etc/passwd", "a/b.pdf", `a\b.pdf`, "a..b/../c"} {
		_, err := service.CreateUpload(context.Background(), UploadRequest{
			Tenant: "acme", ClientID: client.ID, Filename: filename,
		})
		var invalid *InvalidRequestError
		if !errors.As(err, &invalid) || invalid.Field != "filename" {
			t.Fatalf("filename %q: expected filename validation error, got %v", filename, err)
		}
	}
}
