package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const dbTracerName = "compliance-intake/db"

type contextKey string

const (
	clientIDContextKey contextKey = "observability.client_id"
	tenantContextKey   contextKey = "observability.tenant"
	requestIDKey       contextKey = "observability.request_id"
	routeKey           contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner trace.Span
}

// StartDBSpan starts a database tracing span for one query operation.
func StartDBSpan(ctx context.Context, queryName, operation string) (context.Context, Span) {
	queryName = strings.TrimSpace(queryName)
	if queryName == "" {
		queryName = "unknown"
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system.name", "sqlite"),
		attribute.String("db.query_name", queryName),
		attribute.String("db.operation", strings.TrimSpace(operation)),
	}
	if clientID, ok := ClientIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.Int64("intake.client_id", clientID))
	}
	if tenant, ok := TenantFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("intake.tenant", tenant))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, "db."+queryName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, otelSpan{inner: span}
}

// WithClientIdentity enriches context and current span with client/tenant attributes.
func WithClientIdentity(ctx context.Context, clientID int64, tenant string) context.Context {
	tenant = strings.TrimSpace(tenant)
	if clientID > 0 {
		ctx = context.WithValue(ctx, clientIDContextKey, clientID)
	}
	if tenant != "" {
		ctx = context.WithValue(ctx, tenantContextKey, tenant)
	}
	setSpanIdentityAttributes(ctx, clientID, tenant)
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// ClientIDFromContext extracts the authenticated client id.
func ClientIDFromContext(ctx context.Context) (int64, bool) {
	value, ok := ctx.Value(clientIDContextKey).(int64)
	return value, ok && value > 0
}

// TenantFromContext extracts the resolved tenant slug.
func TenantFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(tenantContextKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func setSpanIdentityAttributes(ctx context.Context, clientID int64, tenant string) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.SpanContext().IsValid() {
		return
	}
	if clientID > 0 {
		span.SetAttributes(attribute.Int64("intake.client_id", clientID))
	}
	if tenant != "" {
		span.SetAttributes(attribute.String("intake.tenant", tenant))
	}
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.SpanContext().IsValid() {
		return
	}
	if requestID != "" {
		span.SetAttributes(attribute.String("http.request_id", requestID))
	}
	if route != "" {
		span.SetAttributes(attribute.String("http.route", route))
	}
}

func (s otelSpan) End() {
	s.inner.End()
}

func (s otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
