package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

// counterValue sums all data points of an int64 counter that carry the
// given attribute (or all points when key is empty).
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMetrics_RecordOAuthAuthByResult(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordOAuthAuthWithUser(ctx, "google", OAuthResultSuccess, "")
	m.RecordOAuthAuthWithUser(ctx, "google", OAuthResultFailure, "")
	m.RecordOAuthAuthWithUser(ctx, "microsoft", OAuthResultSuccess, "")

	if got := counterValue(t, reader, "oauth_auth_total", attrResult, OAuthResultSuccess); got != 2 {
		t.Errorf("success count = %d, want 2", got)
	}
	if got := counterValue(t, reader, "oauth_auth_total", attrResult, OAuthResultFailure); got != 1 {
		t.Errorf("failure count = %d, want 1", got)
	}
}

func TestMetrics_RecordOAuthAuthWithUser(t *testing.T) {
	tests := []struct {
		name       string
		detailed   bool
		wantDomain int64
	}{
		{name: "detailed labels", detailed: true, wantDomain: 1},
		{name: "low cardinality", detailed: false, wantDomain: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t, tt.detailed)
			m.RecordOAuthAuthWithUser(context.Background(), "google", OAuthResultSuccess, "jane@gmail.com")

			if got := counterValue(t, reader, "oauth_auth_total", attrDomain, "gmail.com"); got != tt.wantDomain {
				t.Errorf("domain-labelled count = %d, want %d", got, tt.wantDomain)
			}
			if got := counterValue(t, reader, "oauth_auth_total", "", ""); got != 1 {
				t.Errorf("total count = %d, want 1", got)
			}
		})
	}
}

func TestMetrics_TokenLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordTokenCacheHit(ctx, "google")
	m.RecordTokenCacheHit(ctx, "google")
	m.RecordOAuthTokenRefresh(ctx, "google", OAuthResultSuccess)
	m.RecordOAuthTokenRefresh(ctx, "google", OAuthResultInvalid)
	m.RecordCallback(ctx, "resolved")
	m.RecordKeeperCycle(ctx, StatusSuccess)
	m.RecordTokenExchange(ctx, "google", "refresh_token", StatusSuccess, 120*time.Millisecond)

	if got := counterValue(t, reader, "oauth_token_cache_hits_total", "", ""); got != 2 {
		t.Errorf("cache hits = %d, want 2", got)
	}
	if got := counterValue(t, reader, "oauth_token_refresh_total", attrResult, OAuthResultInvalid); got != 1 {
		t.Errorf("invalid refreshes = %d, want 1", got)
	}
	if got := counterValue(t, reader, "oauth_callback_total", attrOutcome, "resolved"); got != 1 {
		t.Errorf("resolved callbacks = %d, want 1", got)
	}
	if got := counterValue(t, reader, "oauth_keeper_cycles_total", attrStatus, StatusSuccess); got != 1 {
		t.Errorf("keeper cycles = %d, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	var nilMetrics *Metrics
	empty := &Metrics{}

	// Should not panic
	for _, m := range []*Metrics{nilMetrics, empty} {
		m.RecordOAuthAuthWithUser(ctx, "google", OAuthResultSuccess, "")
		m.RecordOAuthAuthWithUser(ctx, "google", OAuthResultSuccess, "jane@gmail.com")
		m.RecordCallback(ctx, "timed_out")
		m.RecordOAuthTokenRefresh(ctx, "google", OAuthResultFailure)
		m.RecordTokenCacheHit(ctx, "google")
		m.RecordTokenExchange(ctx, "google", "authorization_code", StatusError, time.Second)
		m.RecordKeeperCycle(ctx, StatusError)
	}
}

func TestMetrics_FromProvider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordOAuthTokenRefresh(ctx, "microsoft", OAuthResultSuccess)
	metrics.RecordTokenExchange(ctx, "microsoft", "refresh_token", StatusSuccess, 50*time.Millisecond)
}
