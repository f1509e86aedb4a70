package config

import "testing"

func TestLoadDefaultsForLocalDevelopment(t *testing.T) {
	t.Setenv("INTAKE_ENV", "dev")
	t.Setenv("INTAKE_UPLOAD_SIGNING_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Uploads.SigningKey != "intake-local-dev" {
		t.Fatalf("expected local fallback signing key, got %q", cfg.Uploads.SigningKey)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Admission.RateLimitPerWindow != 60 {
		t.Fatalf("expected default rate limit 60, got %d", cfg.Admission.RateLimitPerWindow)
	}
	if cfg.Webhooks.MaxAttempts != 5 {
		t.Fatalf("expected default webhook attempts 5, got %d", cfg.Webhooks.MaxAttempts)
	}
}

func TestLoadRequiresSigningKeyOutsideLocal(t *testing.T) {
	t.Setenv("INTAKE_ENV", "production")
	t.Setenv("INTAKE_UPLOAD_SIGNING_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing signing key in production")
	}
}

func TestLoadForToolAllowsMissingSigningKeyOutsideLocal(t *testing.T) {
	t.Setenv("INTAKE_ENV", "production")
	t.Setenv("INTAKE_UPLOAD_SIGNING_KEY", "")

	cfg, err := LoadForTool()
	if err != nil {
		t.Fatalf("expected no error for tool config load, got %v", err)
	}
	if cfg.Uploads.SigningKey != "" {
		t.Fatalf("expected empty signing key for tool load, got %q", cfg.Uploads.SigningKey)
	}
}

func TestLoadClampsWebhookAttemptsAndBatchSize(t *testing.T) {
	t.Setenv("INTAKE_ENV", "dev")
	t.Setenv("INTAKE_WEBHOOK_MAX_ATTEMPTS", "50")
	t.Setenv("INTAKE_WEBHOOK_BATCH_SIZE", "10000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Webhooks.MaxAttempts != 10 {
		t.Fatalf("expected attempts clamped to 10, got %d", cfg.Webhooks.MaxAttempts)
	}
	if cfg.Webhooks.BatchSize != 500 {
		t.Fatalf("expected batch size clamped to 500, got %d", cfg.Webhooks.BatchSize)
	}
}

func TestLoadParsesOTLPHeaders(t *testing.T) {
	t.Setenv("INTAKE_ENV", "dev")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer common,x-org=abc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_HEADERS", "x-trace=trace-only")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Observability.Enabled {
		t.Fatal("expected observability enabled when OTLP endpoint set")
	}
	if cfg.Observability.OTLPTraceHeaders["authorization"] != "Bearer common" {
		t.Fatalf("expected common header in trace headers, got %#v", cfg.Observability.OTLPTraceHeaders)
	}
	if cfg.Observability.OTLPTraceHeaders["x-trace"] != "trace-only" {
		t.Fatalf("expected trace-specific header, got %#v", cfg.Observability.OTLPTraceHeaders)
	}
}
