package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrStatus   = "status"
	attrResult   = "result"
	attrOutcome  = "outcome"
	attrProvider = "provider"
	attrGrant    = "grant_type"
	attrDomain   = "user_domain"
)

// Metrics provides methods for recording observability metrics.
// A nil *Metrics, or one returned by a disabled Provider, records nothing.
type Metrics struct {
	// Authorization flow metrics
	oauthAuthTotal     metric.Int64Counter
	oauthCallbackTotal metric.Int64Counter

	// Token lifecycle metrics
	oauthTokenRefreshTotal   metric.Int64Counter
	oauthTokenCacheHitsTotal metric.Int64Counter
	oauthTokenExchangeDur    metric.Float64Histogram

	// Keeper metrics
	keeperCyclesTotal metric.Int64Counter

	// Configuration
	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of interactive OAuth authorization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthCallbackTotal, err = meter.Int64Counter(
		"oauth_callback_total",
		metric.WithDescription("Total number of loopback callback outcomes"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_callback_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.oauthTokenCacheHitsTotal, err = meter.Int64Counter(
		"oauth_token_cache_hits_total",
		metric.WithDescription("Total number of token requests served from the store without a network call"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_cache_hits_total counter: %w", err)
	}

	m.oauthTokenExchangeDur, err = meter.Float64Histogram(
		"oauth_token_exchange_duration_seconds",
		metric.WithDescription("Token endpoint request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_exchange_duration_seconds histogram: %w", err)
	}

	m.keeperCyclesTotal, err = meter.Int64Counter(
		"oauth_keeper_cycles_total",
		metric.WithDescription("Total number of background refresh cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_keeper_cycles_total counter: %w", err)
	}

	return m, nil
}

// RecordOAuthAuthWithUser records an authorization attempt and, when
// detailed labels are enabled, the user's email domain.
func (m *Metrics) RecordOAuthAuthWithUser(ctx context.Context, provider, result, email string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, providerLabel(provider)),
		attribute.String(attrResult, result),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && email != "" {
		attrs = append(attrs, attribute.String(attrDomain, ExtractUserDomain(email)))
	}

	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCallback records how a loopback listener finished.
// Outcome is a listener state such as "resolved", "denied", "mismatched" or "timed_out".
func (m *Metrics) RecordCallback(ctx context.Context, outcome string) {
	if m == nil || m.oauthCallbackTotal == nil {
		return
	}

	m.oauthCallbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure", "invalid"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, provider, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, providerLabel(provider)),
		attribute.String(attrResult, result),
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokenCacheHit records a token served without contacting the provider.
func (m *Metrics) RecordTokenCacheHit(ctx context.Context, provider string) {
	if m == nil || m.oauthTokenCacheHitsTotal == nil {
		return
	}

	m.oauthTokenCacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrProvider, providerLabel(provider))))
}

// RecordTokenExchange records the duration of a token endpoint request.
//
// Parameters:
//   - provider: provider name (google, microsoft, ...)
//   - grant: "authorization_code" or "refresh_token"
//   - status: "success" or "error"
//   - duration: time taken for the round trip
func (m *Metrics) RecordTokenExchange(ctx context.Context, provider, grant, status string, duration time.Duration) {
	if m == nil || m.oauthTokenExchangeDur == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, providerLabel(provider)),
		attribute.String(attrGrant, grant),
		attribute.String(attrStatus, status),
	}

	m.oauthTokenExchangeDur.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordKeeperCycle records one pass of the background refresher.
func (m *Metrics) RecordKeeperCycle(ctx context.Context, status string) {
	if m == nil || m.keeperCyclesTotal == nil {
		return
	}

	m.keeperCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}
