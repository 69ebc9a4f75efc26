package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/mailauth/internal/logging"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Token lifecycle events
	AuditEventTokenIssued    AuditEventType = "token_issued"
	AuditEventTokenRefreshed AuditEventType = "token_refreshed"
	AuditEventTokenRevoked   AuditEventType = "token_revoked"

	// Failure and security events
	AuditEventAuthFailure           AuditEventType = "auth_failure"
	AuditEventCallbackStateMismatch AuditEventType = "callback_state_mismatch"
	AuditEventConsentDenied         AuditEventType = "consent_denied"
	AuditEventRefreshFailure        AuditEventType = "refresh_failure"

	// Client configuration events
	AuditEventClientConfigured AuditEventType = "client_configured"
	AuditEventClientDeleted    AuditEventType = "client_deleted"
)

// AuditEvent captures one security-relevant event in the token lifecycle.
//
// # Privacy Considerations
//
// UserEmail contains PII. Unless the logger is configured with IncludePII,
// only the hashed identifier and the domain are written.
type AuditEvent struct {
	Timestamp time.Time
	Type      AuditEventType
	UserEmail string
	Provider  string
	Success   bool
	Error     string

	// Metadata contains additional context-specific data
	Metadata map[string]string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewAuditEvent creates an event of the given type stamped with the current time.
// Events are successful unless WithError is called with a non-nil error.
func NewAuditEvent(eventType AuditEventType) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		Success:   true,
	}
}

// WithUser sets the account the event refers to.
func (e *AuditEvent) WithUser(email string) *AuditEvent {
	e.UserEmail = email
	return e
}

// WithProvider sets the provider name.
func (e *AuditEvent) WithProvider(provider string) *AuditEvent {
	e.Provider = provider
	return e
}

// WithError marks the event as failed.
func (e *AuditEvent) WithError(err error) *AuditEvent {
	if err != nil {
		e.Success = false
		e.Error = err.Error()
	}
	return e
}

// WithMetadata adds a key/value pair logged as meta_<key>.
func (e *AuditEvent) WithMetadata(key, value string) *AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithSpanContext extracts trace context from the current span.
func (e *AuditEvent) WithSpanContext(ctx context.Context) *AuditEvent {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		e.TraceID = span.SpanContext().TraceID().String()
		e.SpanID = span.SpanContext().SpanID().String()
	}
	return e
}

// Level returns the slog level the event is logged at. Failures and
// security events are warnings.
func (e *AuditEvent) Level() slog.Level {
	switch e.Type {
	case AuditEventAuthFailure, AuditEventCallbackStateMismatch,
		AuditEventConsentDenied, AuditEventRefreshFailure:
		return slog.LevelWarn
	}
	if !e.Success {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// LogAttrs returns slog attributes. With includePII the full email is
// added next to the hashed identifier.
func (e *AuditEvent) LogAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("event_type", string(e.Type)),
		slog.Time("timestamp", e.Timestamp),
		slog.Bool("success", e.Success),
	}

	if e.UserEmail != "" {
		attrs = append(attrs,
			logging.UserHash(e.UserEmail),
			slog.String("user_domain", ExtractUserDomain(e.UserEmail)),
		)
		if includePII {
			attrs = append(attrs, slog.String("user", e.UserEmail))
		}
	}
	if e.Provider != "" {
		attrs = append(attrs, logging.Provider(e.Provider))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", e.SpanID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	for key, value := range e.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, value))
	}

	return attrs
}

// AuditLogger provides structured audit logging for token lifecycle events.
// A nil *AuditLogger drops every event.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
	minLevel   slog.Level
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
		minLevel:   config.level(),
	}
}

// LogEvent writes the event under the "audit" message at the event's level,
// raised to the configured minimum.
func (al *AuditLogger) LogEvent(ctx context.Context, e *AuditEvent) {
	if al == nil || !al.enabled || e == nil {
		return
	}

	level := max(e.Level(), al.minLevel)
	al.logger.LogAttrs(ctx, level, "audit", e.LogAttrs(al.includePII)...)
}

// Record builds and logs an event in one call. err marks it as failed.
func (al *AuditLogger) Record(ctx context.Context, eventType AuditEventType, email, provider string, err error) {
	if al == nil || !al.enabled {
		return
	}
	al.LogEvent(ctx, NewAuditEvent(eventType).
		WithUser(email).
		WithProvider(provider).
		WithError(err).
		WithSpanContext(ctx))
}
