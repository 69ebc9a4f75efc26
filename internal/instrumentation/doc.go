// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for mailauth.
//
// Metrics are exported through a per-provider Prometheus registry or pushed
// over OTLP; spans go to OTLP or stdout.
//
// # Metrics
//
// Authorization Metrics:
//   - oauth_auth_total: Counter of interactive logins by provider and result
//   - oauth_callback_total: Counter of loopback callback outcomes
//
// Token Lifecycle Metrics:
//   - oauth_token_refresh_total: Counter of refresh attempts by provider and result
//   - oauth_token_cache_hits_total: Counter of tokens served without a network call
//   - oauth_token_exchange_duration_seconds: Histogram of token endpoint latency
//   - oauth_keeper_cycles_total: Counter of background refresh passes
//
// # Tracing
//
// Spans are created for:
//   - auth.flow: one interactive login
//   - auth.refresh: one EnsureFreshToken call
//   - oauth.exchange: one token endpoint request (client span)
//
// Spans carry a hashed user identifier and the email domain, never the
// address or any token.
//
// # Audit
//
// AuditLogger writes token_issued, token_refreshed, token_revoked,
// auth_failure, callback_state_mismatch, consent_denied and refresh_failure
// events. Emails are hashed unless AUDIT_LOGGING_INCLUDE_PII is set.
//
// # Configuration
//
// ConfigFromEnv reads OTEL_SERVICE_NAME, INSTRUMENTATION_ENABLED,
// METRICS_EXPORTER (prometheus, otlp, stdout), METRICS_EXPORT_INTERVAL,
// TRACING_EXPORTER (otlp, stdout, none), OTEL_EXPORTER_OTLP_ENDPOINT,
// OTEL_TRACES_SAMPLER_ARG and the AUDIT_LOGGING_* variables. Provider names
// used as metric labels are folded to google, microsoft or other.
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordOAuthTokenRefresh(ctx, "google", instrumentation.OAuthResultSuccess)
//	provider.Audit().Record(ctx, instrumentation.AuditEventTokenRefreshed, email, "google", nil)
package instrumentation
