// Package lockout applies the failure-counter policy shared by every
// authentication route (password, certificate, security challenge).
package lockout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

const tracerName = "trust/services/lockout"

// Policy is the configured lockout rule.
type Policy struct {
	// Threshold is the failure count that locks an identity. Zero disables
	// automatic lockout.
	Threshold int

	// Conceal reports Locked to callers as InvalidCredential.
	Conceal bool
}

// ShouldLock reports whether failedAttempts reaches the threshold.
func (p Policy) ShouldLock(failedAttempts int) bool {
	return p.Threshold > 0 && failedAttempts >= p.Threshold
}

// Dependencies for Guard construction.
type Dependencies struct {
	Identities repository.IdentityRepository
	Clock      clockwork.Clock
	Metrics    *telemetry.AuthMetrics
	Logger     *zap.Logger
}

// Guard persists failure and success outcomes against the credential store.
// Failure writes are never rolled back: they are the side effect the
// failing attempt is responsible for.
type Guard struct {
	identities repository.IdentityRepository
	policy     Policy
	clock      clockwork.Clock
	metrics    *telemetry.AuthMetrics
	logger     *zap.Logger
}

// NewGuard creates a Guard for policy.
func NewGuard(deps Dependencies, policy Policy) *Guard {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{
		identities: deps.Identities,
		policy:     policy,
		clock:      clock,
		metrics:    deps.Metrics,
		logger:     logging.OrNop(deps.Logger).Named("lockout"),
	}
}

// Policy returns the configured policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Check rejects identities that must not authenticate, before any credential
// is compared. Obsoleted identities are InvalidIdentity; locked ones are
// Locked.
func (g *Guard) Check(identity *models.Identity) error {
	if identity == nil || identity.IsObsolete() {
		name := ""
		if identity != nil {
			name = identity.Name
		}
		return auth.NewAuthenticationError(auth.ReasonInvalidIdentity, name, nil)
	}
	if identity.Locked {
		return auth.NewAuthenticationError(auth.ReasonLocked, identity.Name, nil)
	}
	return nil
}

// RecordFailure counts a failed credential comparison and returns the
// InvalidCredential error for the attempt. When the increment reaches the
// threshold the identity is locked in the same statement.
func (g *Guard) RecordFailure(ctx context.Context, identity *models.Identity) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lockout.RecordFailure",
		attribute.String(telemetry.AttrIdentitySID, identity.SID),
		attribute.String(telemetry.AttrIdentityKind, identity.Kind),
	)
	defer span.End()

	res, err := g.identities.RecordFailure(ctx, identity.SID, g.policy.Threshold, g.clock.Now().UTC())
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, repository.ErrNotFound) {
			return auth.NewAuthenticationError(auth.ReasonInvalidIdentity, identity.Name, nil)
		}
		return fmt.Errorf("record authentication failure: %w", err)
	}

	if res.LockedNow {
		telemetry.AddEvent(span, "identity.locked", attribute.Int("failed_attempts", res.FailedAttempts))
		g.metrics.RecordLockout(ctx, identity.Kind)
		g.logger.Warn("identity locked after repeated failures",
			zap.String("kind", identity.Kind),
			zap.String("name", identity.Name),
			zap.Int("failed_attempts", res.FailedAttempts),
		)
	}

	return auth.NewAuthenticationError(auth.ReasonInvalidCredential, identity.Name, nil)
}

// RecordSuccess resets the failure counter. The reset only applies to a
// live, unlocked identity; if a concurrent failure locked the identity or it
// was deleted meanwhile, the lock wins and the attempt fails.
func (g *Guard) RecordSuccess(ctx context.Context, identity *models.Identity) error {
	ok, err := g.identities.RecordSuccess(ctx, identity.SID, g.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("record authentication success: %w", err)
	}
	if ok {
		return nil
	}

	current, err := g.identities.GetBySID(ctx, identity.SID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return auth.NewAuthenticationError(auth.ReasonInvalidIdentity, identity.Name, nil)
		}
		return fmt.Errorf("reload identity: %w", err)
	}
	if checkErr := g.Check(current); checkErr != nil {
		return checkErr
	}
	return auth.NewAuthenticationError(auth.ReasonInvalidIdentity, identity.Name, nil)
}

// Conceal maps a Locked error to InvalidCredential when the policy asks for
// it. Other errors pass through unchanged.
func (g *Guard) Conceal(err error) error {
	if !g.policy.Conceal || !errors.Is(err, auth.ErrLocked) {
		return err
	}
	var authErr *auth.AuthenticationError
	name := ""
	if errors.As(err, &authErr) {
		name = authErr.Name
	}
	return auth.NewAuthenticationError(auth.ReasonInvalidCredential, name, nil)
}

// Outcome returns the metric outcome label for an authentication result.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	var authErr *auth.AuthenticationError
	if errors.As(err, &authErr) {
		return string(authErr.Reason)
	}
	return "error"
}
