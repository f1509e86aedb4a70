// Package intakeclient is a small client for the compliance intake API,
// intended for submitters and CI integrations.
package intakeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one intake deployment with one API key.
type Client struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Submission is one document to submit for ingestion.
type Submission struct {
	PropertyRef    string `json:"property_ref"`
	DocumentType   string `json:"document_type"`
	Filename       string `json:"filename"`
	ObjectPath     string `json:"object_path"`
	CallbackURL    string `json:"callback_url,omitempty"`
	IdempotencyKey string `json:"-"`
}

// Job is the server's view of one ingestion job.
type Job struct {
	ID            string `json:"id"`
	CertificateID string `json:"certificate_id"`
	PropertyRef   string `json:"property_ref"`
	DocumentType  string `json:"document_type"`
	Status        string `json:"status"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
	Result        string `json:"result,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Upload is one issued upload target.
type Upload struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	ObjectPath string `json:"object_path"`
	UploadURL  string `json:"upload_url"`
	ExpiresAt  int64  `json:"expires_at"`
}

// APIError is a non-2xx response from the intake API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("intake api: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Submit creates an ingestion job, replaying the prior result when the
// idempotency key was already used.
func (c Client) Submit(ctx context.Context, submission Submission) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/v1/ingestions", submission, submission.IdempotencyKey, &job)
	return job, err
}

// GetJob fetches one ingestion job by id.
func (c Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/v1/ingestions/"+url.PathEscape(jobID), nil, "", &job)
	return job, err
}

// ListJobs fetches a page of the caller's jobs, optionally filtered by status.
func (c Client) ListJobs(ctx context.Context, status string, limit, offset int) ([]Job, error) {
	values := url.Values{}
	if status != "" {
		values.Set("status", status)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		values.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/ingestions"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var payload struct {
		Ingestions []Job `json:"ingestions"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, "", &payload)
	return payload.Ingestions, err
}

// CreateUpload asks for a short-lived signed upload URL.
func (c Client) CreateUpload(ctx context.Context, filename, idempotencyKey string) (Upload, error) {
	var upload Upload
	err := c.do(ctx, http.MethodPost, "/v1/uploads", map[string]string{"filename": filename}, idempotencyKey, &upload)
	return upload, err
}

// WaitForJob polls until the job reaches a terminal status or ctx expires.
func (c Client) WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (Job, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		switch job.Status {
		case "COMPLETE", "FAILED":
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	endpoint := strings.TrimSpace(c.Endpoint)
	apiKey := strings.TrimSpace(c.APIKey)
	if endpoint == "" || apiKey == "" {
		return fmt.Errorf("endpoint and api key are required")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	requestURL := strings.TrimRight(endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
