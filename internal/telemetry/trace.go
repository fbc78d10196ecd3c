package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, "trust/services/identity", "identity.Authenticate",
//	    attribute.String(telemetry.AttrIdentityKind, string(kind)),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
// Use for security events like lockouts, vetoed attempts, token rotation.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for trust services
const (
	AttrIdentityKind = "identity.kind"
	AttrIdentitySID  = "identity.sid"
	AttrIdentityName = "identity.name"

	AttrAuthMethod  = "auth.method"
	AttrAuthOutcome = "auth.outcome"

	AttrSessionID = "session.id"

	AttrPolicyOID     = "policy.oid"
	AttrPolicyGrant   = "policy.grant"
	AttrPolicySubject = "policy.subject"

	AttrRoleName = "role.name"
)
