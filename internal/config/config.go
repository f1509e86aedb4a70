package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Admission     AdmissionConfig
	Jobs          JobsConfig
	Webhooks      WebhooksConfig
	Uploads       UploadsConfig
	Extraction    ExtractionConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path      string
	LogTiming bool
}

// AdmissionConfig bounds what a single client may push at the intake tier.
type AdmissionConfig struct {
	RateLimitPerWindow   int
	RateWindowSeconds    int
	MaxConcurrentUploads int
	WindowSweepSeconds   int
}

type JobsConfig struct {
	PollIntervalMS    int
	WorkerBurst       int
	IdleDelayMS       int
	StuckTimeoutMin   int
	ReaperIntervalSec int
}

type WebhooksConfig struct {
	PollIntervalMS int
	MaxAttempts    int
	BackoffBaseMS  int
	BackoffCapMS   int
	BatchSize      int
	SendTimeoutSec int
	RetentionDays  int
}

type UploadsConfig struct {
	BaseURL    string
	URLTTLMin  int
	SigningKey string
}

type ExtractionConfig struct {
	Endpoint   string
	TimeoutSec int
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

func Load() (Config, error) {
	return load(true)
}

// LoadForTool loads config for CLI tools that do not require upload signing keys.
func LoadForTool() (Config, error) {
	return load(false)
}

func load(requireSigningKey bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("intake_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("intake_port", 8080)
	v.SetDefault("intake_db_path", "data/intake")
	v.SetDefault("intake_db_timing", false)

	v.SetDefault("intake_rate_limit", 60)
	v.SetDefault("intake_rate_window_seconds", 60)
	v.SetDefault("intake_max_concurrent_uploads", 4)
	v.SetDefault("intake_window_sweep_seconds", 300)

	v.SetDefault("intake_job_poll_ms", 500)
	v.SetDefault("intake_job_burst", 5)
	v.SetDefault("intake_job_idle_ms", 800)
	v.SetDefault("intake_job_stuck_minutes", 15)
	v.SetDefault("intake_reaper_interval_seconds", 60)

	v.SetDefault("intake_webhook_poll_ms", 1000)
	v.SetDefault("intake_webhook_max_attempts", 5)
	v.SetDefault("intake_webhook_backoff_base_ms", 1000)
	v.SetDefault("intake_webhook_backoff_cap_ms", 30000)
	v.SetDefault("intake_webhook_batch_size", 50)
	v.SetDefault("intake_webhook_send_timeout_seconds", 10)
	v.SetDefault("intake_webhook_retention_days", 90)

	v.SetDefault("intake_upload_base_url", "")
	v.SetDefault("intake_upload_url_ttl_minutes", 15)
	v.SetDefault("intake_upload_signing_key", "")

	v.SetDefault("intake_extractor_endpoint", "")
	v.SetDefault("intake_extractor_timeout_seconds", 120)

	v.SetDefault("intake_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "compliance-intake")
	v.SetDefault("intake_service_name", "compliance-intake")
	v.SetDefault("intake_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("intake_otel_sampling_ratio", 1.0)
	v.SetDefault("intake_otel_metrics_console", false)

	env := resolveEnvironment(v)
	port := v.GetInt("intake_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid INTAKE_PORT: %d", port)
	}

	rateLimit := v.GetInt("intake_rate_limit")
	if rateLimit <= 0 {
		rateLimit = 60
	}
	rateWindow := v.GetInt("intake_rate_window_seconds")
	if rateWindow <= 0 {
		rateWindow = 60
	}
	maxUploads := v.GetInt("intake_max_concurrent_uploads")
	if maxUploads <= 0 {
		maxUploads = 4
	}

	maxAttempts := v.GetInt("intake_webhook_max_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if maxAttempts > 10 {
		maxAttempts = 10
	}

	batchSize := v.GetInt("intake_webhook_batch_size")
	if batchSize <= 0 {
		batchSize = 50
	}
	if batchSize > 500 {
		batchSize = 500
	}

	samplingRatio := v.GetFloat64("intake_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("intake_service_name"))
	}
	if serviceName == "" {
		serviceName = "compliance-intake"
	}

	serviceVersion := strings.TrimSpace(v.GetString("intake_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("intake_otel_metrics_console")
	otelEnabled := v.GetBool("intake_otel_enabled") || otlpEndpoint != "" || metricsConsole

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Path:      strings.TrimSpace(v.GetString("intake_db_path")),
			LogTiming: v.GetBool("intake_db_timing"),
		},
		Admission: AdmissionConfig{
			RateLimitPerWindow:   rateLimit,
			RateWindowSeconds:    rateWindow,
			MaxConcurrentUploads: maxUploads,
			WindowSweepSeconds:   positiveOrDefault(v.GetInt("intake_window_sweep_seconds"), 300),
		},
		Jobs: JobsConfig{
			PollIntervalMS:    positiveOrDefault(v.GetInt("intake_job_poll_ms"), 500),
			WorkerBurst:       positiveOrDefault(v.GetInt("intake_job_burst"), 5),
			IdleDelayMS:       positiveOrDefault(v.GetInt("intake_job_idle_ms"), 800),
			StuckTimeoutMin:   positiveOrDefault(v.GetInt("intake_job_stuck_minutes"), 15),
			ReaperIntervalSec: positiveOrDefault(v.GetInt("intake_reaper_interval_seconds"), 60),
		},
		Webhooks: WebhooksConfig{
			PollIntervalMS: positiveOrDefault(v.GetInt("intake_webhook_poll_ms"), 1000),
			MaxAttempts:    maxAttempts,
			BackoffBaseMS:  positiveOrDefault(v.GetInt("intake_webhook_backoff_base_ms"), 1000),
			BackoffCapMS:   positiveOrDefault(v.GetInt("intake_webhook_backoff_cap_ms"), 30000),
			BatchSize:      batchSize,
			SendTimeoutSec: positiveOrDefault(v.GetInt("intake_webhook_send_timeout_seconds"), 10),
			RetentionDays:  positiveOrDefault(v.GetInt("intake_webhook_retention_days"), 90),
		},
		Uploads: UploadsConfig{
			BaseURL:    strings.TrimSpace(v.GetString("intake_upload_base_url")),
			URLTTLMin:  positiveOrDefault(v.GetInt("intake_upload_url_ttl_minutes"), 15),
			SigningKey: strings.TrimSpace(v.GetString("intake_upload_signing_key")),
		},
		Extraction: ExtractionConfig{
			Endpoint:   strings.TrimSpace(v.GetString("intake_extractor_endpoint")),
			TimeoutSec: positiveOrDefault(v.GetInt("intake_extractor_timeout_seconds"), 120),
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		cfg.Database.Path = "data/intake"
	}
	if requireSigningKey && !cfg.IsLocalDevelopment() && cfg.Uploads.SigningKey == "" {
		return Config{}, fmt.Errorf("INTAKE_UPLOAD_SIGNING_KEY is required outside local/dev environments")
	}
	if cfg.IsLocalDevelopment() && cfg.Uploads.SigningKey == "" {
		cfg.Uploads.SigningKey = "intake-local-dev"
	}

	return cfg, nil
}

func positiveOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func (c Config) RateWindow() time.Duration {
	return time.Duration(c.Admission.RateWindowSeconds) * time.Second
}

func (c Config) JobPollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalMS) * time.Millisecond
}

func (c Config) JobIdleDelay() time.Duration {
	return time.Duration(c.Jobs.IdleDelayMS) * time.Millisecond
}

func (c Config) StuckJobTimeout() time.Duration {
	return time.Duration(c.Jobs.StuckTimeoutMin) * time.Minute
}

func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.Jobs.ReaperIntervalSec) * time.Second
}

func (c Config) WindowSweepInterval() time.Duration {
	return time.Duration(c.Admission.WindowSweepSeconds) * time.Second
}

func (c Config) WebhookPollInterval() time.Duration {
	return time.Duration(c.Webhooks.PollIntervalMS) * time.Millisecond
}

func (c Config) WebhookBackoffBase() time.Duration {
	return time.Duration(c.Webhooks.BackoffBaseMS) * time.Millisecond
}

func (c Config) WebhookBackoffCap() time.Duration {
	return time.Duration(c.Webhooks.BackoffCapMS) * time.Millisecond
}

func (c Config) WebhookSendTimeout() time.Duration {
	return time.Duration(c.Webhooks.SendTimeoutSec) * time.Second
}

func (c Config) UploadURLTTL() time.Duration {
	return time.Duration(c.Uploads.URLTTLMin) * time.Minute
}

func (c Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSec) * time.Second
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"intake_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
