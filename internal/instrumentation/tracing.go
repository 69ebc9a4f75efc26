package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/mailauth/internal/logging"
)

// TracerName is the instrumentation scope of every mailauth span.
const TracerName = "github.com/teemow/mailauth"

const (
	SpanAuthFlow      = "auth.flow"
	SpanAuthRefresh   = "auth.refresh"
	SpanOAuthExchange = "oauth.exchange"
)

// Span attribute keys. Raw addresses and tokens never go on a span.
const (
	SpanAttrProvider   = "oauth.provider"
	SpanAttrGrantType  = "oauth.grant_type"
	SpanAttrCached     = "oauth.cached"
	SpanAttrUserHash   = "user.hash"
	SpanAttrUserDomain = "user.domain"
)

// UserAttrs identifies an account by hash and mail domain. Empty email
// yields no attributes.
func UserAttrs(email string) []attribute.KeyValue {
	if email == "" {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(SpanAttrUserHash, logging.AnonymizeEmail(email)),
		attribute.String(SpanAttrUserDomain, ExtractUserDomain(email)),
	}
}

// CachedAttr marks a token served without a network call.
func CachedAttr(cached bool) attribute.KeyValue {
	return attribute.Bool(SpanAttrCached, cached)
}

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartAuthFlowSpan starts the span covering one interactive login.
func StartAuthFlowSpan(ctx context.Context, email, provider string) (context.Context, trace.Span) {
	attrs := append(UserAttrs(email), attribute.String(SpanAttrProvider, provider))
	return tracer().Start(ctx, SpanAuthFlow, trace.WithAttributes(attrs...))
}

// StartRefreshSpan starts the span covering one EnsureFreshToken call.
func StartRefreshSpan(ctx context.Context, email string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanAuthRefresh, trace.WithAttributes(UserAttrs(email)...))
}

// StartExchangeSpan starts a client span for one token endpoint request.
func StartExchangeSpan(ctx context.Context, provider, grant string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanOAuthExchange,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(SpanAttrProvider, provider),
			attribute.String(SpanAttrGrantType, grant),
		))
}

// EndSpan records err, if any, as the span status and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
