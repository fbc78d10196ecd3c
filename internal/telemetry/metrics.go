package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics holds metric instruments for authentication and session telemetry.
// Initialize once at startup and share across services.
type AuthMetrics struct {
	AuthAttempts   metric.Int64Counter // Authentication attempts by method and outcome
	Lockouts       metric.Int64Counter // Identities locked by the failure threshold
	SessionEvents  metric.Int64Counter // Session lifecycle transitions
	PolicyDecision metric.Int64Counter // Policy decisions by grant
}

// NewAuthMetrics creates metric instruments from the global meter provider.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("trust/auth")

	attempts, err := meter.Int64Counter(
		"trust.auth.attempt.count",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	lockouts, err := meter.Int64Counter(
		"trust.auth.lockout.count",
		metric.WithDescription("Total number of identities locked after repeated failures"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64Counter(
		"trust.session.event.count",
		metric.WithDescription("Session lifecycle events (established, extended, abandoned)"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"trust.policy.decision.count",
		metric.WithDescription("Policy decisions by resulting grant"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		AuthAttempts:   attempts,
		Lockouts:       lockouts,
		SessionEvents:  sessions,
		PolicyDecision: decisions,
	}, nil
}

// RecordAttempt records one authentication attempt. Safe on a nil receiver.
func (m *AuthMetrics) RecordAttempt(ctx context.Context, method, kind, outcome string) {
	if m == nil {
		return
	}
	m.AuthAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthMethod, method),
		attribute.String(AttrIdentityKind, kind),
		attribute.String(AttrAuthOutcome, outcome),
	))
}

// RecordLockout records an identity transitioning to locked.
func (m *AuthMetrics) RecordLockout(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Lockouts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrIdentityKind, kind)))
}

// RecordSessionEvent records a session lifecycle event.
func (m *AuthMetrics) RecordSessionEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.SessionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("session.event", event)))
}

// RecordDecision records a policy decision.
func (m *AuthMetrics) RecordDecision(ctx context.Context, oid, grant string) {
	if m == nil {
		return
	}
	m.PolicyDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPolicyOID, oid),
		attribute.String(AttrPolicyGrant, grant),
	))
}
