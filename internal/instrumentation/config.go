package instrumentation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvServiceName       = "OTEL_SERVICE_NAME"
	EnvServiceInstanceID = "OTEL_SERVICE_INSTANCE_ID"
	EnvEnabled           = "INSTRUMENTATION_ENABLED"
	EnvMetricsExporter   = "METRICS_EXPORTER"
	EnvMetricsInterval   = "METRICS_EXPORT_INTERVAL"
	EnvTracingExporter   = "TRACING_EXPORTER"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPInsecure      = "OTEL_EXPORTER_OTLP_INSECURE"
	EnvTraceSamplingRate = "OTEL_TRACES_SAMPLER_ARG"
	EnvDetailedLabels    = "METRICS_DETAILED_LABELS"
	EnvAuditEnabled      = "AUDIT_LOGGING_ENABLED"
	EnvAuditIncludePII   = "AUDIT_LOGGING_INCLUDE_PII"
	EnvAuditLevel        = "AUDIT_LOGGING_LEVEL"
)

// Config holds the configuration for OpenTelemetry instrumentation and the
// audit log.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID identifies this process (default: hostname).
	ServiceInstanceID string

	// Enabled turns metrics and tracing on. The audit log is governed by
	// AuditLogging alone.
	Enabled bool

	// MetricsExporter is one of "prometheus", "otlp", "stdout".
	MetricsExporter string

	// MetricInterval is the push interval for the otlp and stdout metric
	// exporters. Prometheus is pulled and ignores it.
	MetricInterval time.Duration

	// TracingExporter is one of "otlp", "stdout", "none".
	TracingExporter string

	// OTLPEndpoint is host:port without scheme, e.g. "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the collector. Development only:
	// spans carry hashed user identifiers and provider names.
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio in [0, 1].
	TraceSamplingRate float64

	// DetailedLabels adds the user's mail domain to auth metrics. Keep it
	// off when many domains are served.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig holds configuration for audit logging.
type AuditLoggingConfig struct {
	Enabled bool

	// IncludePII adds full email addresses next to the hashed identifiers.
	// SECURITY: route such logs to storage with matching access controls.
	IncludePII bool

	// LogLevel is the lowest level audit records are written at
	// ("debug", "info", "warn", "error"). Failure events may be logged higher.
	LogLevel string
}

// level parses LogLevel, defaulting to info.
func (c AuditLoggingConfig) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// DefaultConfig reads the configuration from the process environment.
func DefaultConfig() Config {
	return ConfigFromEnv(os.Getenv)
}

// ConfigFromEnv builds a Config from getenv. Unset or unparseable values
// fall back to their defaults.
func ConfigFromEnv(getenv func(string) string) Config {
	env := envReader(getenv)
	return Config{
		ServiceName:       env.str(EnvServiceName, "mailauth"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: env.str(EnvServiceInstanceID, ""),
		Enabled:           env.boolean(EnvEnabled, true),
		MetricsExporter:   env.str(EnvMetricsExporter, ExporterPrometheus),
		MetricInterval:    env.duration(EnvMetricsInterval, DefaultMetricInterval),
		TracingExporter:   env.str(EnvTracingExporter, ExporterNone),
		OTLPEndpoint:      env.str(EnvOTLPEndpoint, ""),
		OTLPInsecure:      env.boolean(EnvOTLPInsecure, false),
		TraceSamplingRate: env.float(EnvTraceSamplingRate, 0.1),
		DetailedLabels:    env.boolean(EnvDetailedLabels, false),
		AuditLogging: AuditLoggingConfig{
			Enabled:    env.boolean(EnvAuditEnabled, true),
			IncludePII: env.boolean(EnvAuditIncludePII, false),
			LogLevel:   env.str(EnvAuditLevel, "info"),
		},
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate))
	}
	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter))
	}
	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		errs = append(errs, fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter))
	}
	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		errs = append(errs, fmt.Errorf("OTLP endpoint is required for the otlp exporter; set %s", EnvOTLPEndpoint))
	}
	if c.MetricInterval < 0 {
		errs = append(errs, fmt.Errorf("metric export interval must not be negative, got %s", c.MetricInterval))
	}

	return errors.Join(errs...)
}

// envReader looks variables up through an injectable getenv.
type envReader func(string) string

func (e envReader) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e envReader) boolean(key string, def bool) bool {
	v, err := strconv.ParseBool(e.str(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func (e envReader) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultDenied  = "denied"
	OAuthResultExpired = "expired"
	OAuthResultInvalid = "invalid"
)

// Exporter names.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// DefaultMetricInterval is the push interval when MetricInterval is unset.
const DefaultMetricInterval = 10 * time.Second
