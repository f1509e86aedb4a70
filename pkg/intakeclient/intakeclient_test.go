package intakeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitSendsKeyAndIdempotencyHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/ingestions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer ck_testkey" {
			t.Errorf("missing bearer key: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Idempotency-Key") != "idem-1" {
			t.Errorf("missing idempotency key: %q", r.Header.Get("Idempotency-Key"))
		}
		var body Submission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.PropertyRef != "PROP-001" {
			t.Errorf("unexpected body: %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Job{ID: "job-1", Status: "QUEUED"})
	}))
	t.Cleanup(server.Close)

	client := Client{Endpoint: server.URL, APIKey: "ck_testkey"}
	job, err := client.Submit(context.Background(), Submission{
		PropertyRef:    "PROP-001",
		DocumentType:   "GAS_SAFETY",
		Filename:       "cp12.pdf",
		ObjectPath:     "acme/u/cp12.pdf",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "job-1" || job.Status != "QUEUED" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"code": "RATE_LIMITED", "message": "request rate limit exceeded"})
	}))
	t.Cleanup(server.Close)

	client := Client{Endpoint: server.URL, APIKey: "ck_testkey"}
	_, err := client.GetJob(context.Background(), "job-1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestWaitForJobPollsToTerminalStatus(t *testing.T) {
	t.Parallel()

	var polls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := "PROCESSING"
		if atomic.AddInt64(&polls, 1) >= 3 {
			status = "COMPLETE"
		}
		json.NewEncoder(w).Encode(Job{ID: "job-1", Status: status})
	}))
	t.Cleanup(server.Close)

	client := Client{Endpoint: server.URL, APIKey: "ck_testkey"}
	job, err := client.WaitForJob(context.Background(), "job-1", time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != "COMPLETE" {
		t.Fatalf("expected COMPLETE, got %s", job.Status)
	}
	if atomic.LoadInt64(&polls) < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

func TestClientRequiresEndpointAndKey(t *testing.T) {
	t.Parallel()

	_, err := Client{}.GetJob(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected configuration error")
	}
}
