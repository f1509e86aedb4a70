package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExtractionRequest identifies the stored document handed to the extraction
// collaborator.
type ExtractionRequest struct {
	JobID        string `json:"job_id"`
	Tenant       string `json:"tenant"`
	PropertyRef  string `json:"property_ref"`
	DocumentType string `json:"document_type"`
	ObjectPath   string `json:"object_path"`
	Filename     string `json:"filename"`
}

// Finding is one defect or observation reported by extraction.
type Finding struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ExtractionResult is the structured outcome of extracting one document.
type ExtractionResult struct {
	Fields    map[string]string `json:"fields"`
	Compliant bool              `json:"compliant"`
	Findings  []Finding         `json:"findings"`
}

// Extractor is the external content-extraction collaborator. The intake tier
// treats it as a black box: given a stored document and a type code, it
// eventually produces a result or an error.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, req ExtractionRequest) (ExtractionResult, error)

func (f ExtractorFunc) Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error) {
	return f(ctx, req)
}

// HTTPExtractor calls a remote extraction service over HTTP.
type HTTPExtractor struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (e *HTTPExtractor) Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error) {
	endpoint := strings.TrimSpace(e.Endpoint)
	if endpoint == "" {
		return ExtractionResult{}, fmt.Errorf("extractor endpoint is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("encode extraction request: %w", err)
	}

	httpClient := e.HTTPClient
	if httpClient == nil {
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	requestURL := strings.TrimRight(endpoint, "/") + "/v1/extractions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("build extraction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("call extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ExtractionResult{}, fmt.Errorf("extractor rejected job: status=%s body=%s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var result ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ExtractionResult{}, fmt.Errorf("decode extraction result: %w", err)
	}
	return result, nil
}

var _ Extractor = (*HTTPExtractor)(nil)
