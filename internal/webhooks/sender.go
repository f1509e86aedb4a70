// Package webhooks delivers outbox events to subscribed tenant endpoints with
// bounded retries and an append-only delivery log.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/altvishcoder/complianceapps/internal/db"
)

const (
	eventSource         = "/compliance-intake"
	signatureHeader     = "X-Webhook-Signature"
	eventIDHeader       = "X-Webhook-Event-Id"
	eventTypeHeader     = "X-Webhook-Event-Type"
	contentTypeCloudEvt = "application/cloudevents+json"
)

// Sender posts one event to one endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint db.WebhookEndpoint, event db.WebhookEvent) (statusCode int, err error)
}

// HTTPSender signs and posts events as structured CloudEvents.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

// Send posts the event envelope to the endpoint URL. A response outside 2xx is
// an error; the status code is returned either way for the delivery log.
func (s *HTTPSender) Send(ctx context.Context, endpoint db.WebhookEndpoint, event db.WebhookEvent) (int, error) {
	body, err := encodeEnvelope(event)
	if err != nil {
		return 0, fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeCloudEvt)
	req.Header.Set(eventIDHeader, event.ID)
	req.Header.Set(eventTypeHeader, event.EventType)
	// Caller-supplied callback URLs have no registered secret to sign with.
	if endpoint.Secret != "" {
		req.Header.Set(signatureHeader, sign(endpoint.Secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}

func encodeEnvelope(event db.WebhookEvent) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(event.ID)
	ce.SetSource(eventSource)
	ce.SetType(event.EventType)
	ce.SetSubject(event.EntityType + "/" + event.EntityID)
	ce.SetExtension("tenant", event.Tenant)
	if created, err := time.Parse(time.RFC3339Nano, event.CreatedAt); err == nil {
		ce.SetTime(created)
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, json.RawMessage(event.PayloadJSON)); err != nil {
		return nil, err
	}
	return json.Marshal(ce)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
