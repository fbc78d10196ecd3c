package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpan_Noop(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "trust/test", "test.Span", attribute.String(AttrIdentityKind, "user"))
	defer span.End()

	assert.NotNil(t, ctx)
	AddEvent(span, "test.event", attribute.String(AttrAuthOutcome, "ok"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
}

func TestAuthMetrics(t *testing.T) {
	m, err := NewAuthMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAttempt(ctx, "password", "user", "success")
	m.RecordLockout(ctx, "device")
	m.RecordSessionEvent(ctx, "established")
	m.RecordDecision(ctx, "1.2.3", "deny")

	var nilMetrics *AuthMetrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordAttempt(ctx, "password", "user", "failure")
		nilMetrics.RecordLockout(ctx, "user")
		nilMetrics.RecordSessionEvent(ctx, "abandoned")
		nilMetrics.RecordDecision(ctx, "1.2.3", "grant")
	})
}
