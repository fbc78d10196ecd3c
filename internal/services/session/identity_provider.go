package session

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/identity"
	"github.com/santedb/santedb-server-sub007/internal/services/lockout"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

// IdentityDependencies for IdentityProvider construction.
type IdentityDependencies struct {
	Sessions   repository.SessionRepository
	Identities repository.IdentityRepository
	Claims     repository.ClaimRepository
	Lockout    *lockout.Guard
	Cache      *Cache
	Clock      clockwork.Clock
	Metrics    *telemetry.AuthMetrics
	Logger     *zap.Logger
}

// IdentityProvider resolves sessions into composite principals.
//
// Resolved principals are cached by session id. A cache hit still checks
// the session window against the clock; abandonment through Provider evicts
// the entry, also when it races a resolution in flight, and any other
// change is picked up when the entry expires.
type IdentityProvider struct {
	sessions   repository.SessionRepository
	identities repository.IdentityRepository
	claims     repository.ClaimRepository
	guard      *lockout.Guard
	cache      *Cache
	clock      clockwork.Clock
	metrics    *telemetry.AuthMetrics
	logger     *zap.Logger
}

// NewIdentityProvider creates an IdentityProvider.
func NewIdentityProvider(deps IdentityDependencies) *IdentityProvider {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IdentityProvider{
		sessions:   deps.Sessions,
		identities: deps.Identities,
		claims:     deps.Claims,
		guard:      deps.Lockout,
		cache:      deps.Cache,
		clock:      clock,
		metrics:    deps.Metrics,
		logger:     logging.OrNop(deps.Logger).Named("session-identity"),
	}
}

// Authenticate returns the composite principal of a session: one
// authenticated identity per bound SID, with the session's claims.
func (p *IdentityProvider) Authenticate(ctx context.Context, s *Session) (*auth.Principal, error) {
	if s == nil {
		return nil, auth.NewAuthenticationError(auth.ReasonSessionInvalid, "", nil)
	}
	snap := p.cache.snapshot()
	return p.resolve(ctx, s.ID, snap, func(ctx context.Context) (*models.Session, error) {
		return p.sessions.GetByID(ctx, s.ID)
	})
}

// AuthenticateToken resolves the session whose current refresh token is
// refreshToken.
func (p *IdentityProvider) AuthenticateToken(ctx context.Context, refreshToken string) (*auth.Principal, error) {
	snap := p.cache.snapshot()
	row, err := p.sessions.GetByRefreshHash(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.metrics.RecordAttempt(ctx, auth.MethodSession, "", string(auth.ReasonSessionInvalid))
			return nil, auth.NewAuthenticationError(auth.ReasonSessionInvalid, "", nil)
		}
		return nil, err
	}
	return p.resolve(ctx, row.ID, snap, func(context.Context) (*models.Session, error) {
		return row, nil
	})
}

func (p *IdentityProvider) resolve(ctx context.Context, id string, snap uint64, load func(context.Context) (*models.Session, error)) (*auth.Principal, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Authenticate",
		attribute.String(telemetry.AttrSessionID, id),
		attribute.String(telemetry.AttrAuthMethod, auth.MethodSession),
	)
	defer span.End()

	principal, cached, err := p.resolveUncounted(ctx, id, snap, load)
	outcome := lockout.Outcome(err)
	span.SetAttributes(
		attribute.String(telemetry.AttrAuthOutcome, outcome),
		attribute.Bool("session.cached", cached),
	)
	p.metrics.RecordAttempt(ctx, auth.MethodSession, "", outcome)
	if err != nil {
		telemetry.RecordError(span, err)
		p.logger.Debug("session authentication failed", zap.String("session_id", id), zap.String("reason", outcome))
		return nil, p.guard.Conceal(err)
	}
	return principal, nil
}

// resolveUncounted serves id from the cache or the store. snap must be taken
// before load reads the store.
func (p *IdentityProvider) resolveUncounted(ctx context.Context, id string, snap uint64, load func(context.Context) (*models.Session, error)) (*auth.Principal, bool, error) {
	current := p.clock.Now()

	if e, ok := p.cache.get(id); ok {
		if current.Before(e.notAfter) {
			return e.principal, true, nil
		}
		p.cache.Evict(id)
		return nil, true, auth.NewAuthenticationError(auth.ReasonSessionExpired, id, nil)
	}

	row, err := load(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, auth.NewAuthenticationError(auth.ReasonSessionInvalid, id, nil)
		}
		return nil, false, err
	}
	s := fromModel(row)
	if s.IsAbandoned() {
		return nil, false, auth.NewAuthenticationError(auth.ReasonSessionAbandoned, id, nil)
	}
	if s.IsExpired(current) {
		return nil, false, auth.NewAuthenticationError(auth.ReasonSessionExpired, id, nil)
	}

	sids := s.SIDs()
	if len(sids) == 0 {
		return nil, false, auth.NewAuthenticationError(auth.ReasonSessionInvalid, id, nil)
	}

	identities := make([]*auth.Identity, 0, len(sids))
	for _, sid := range sids {
		bound, err := p.loadBound(ctx, sid)
		if err != nil {
			return nil, false, err
		}
		if err := p.guard.Check(bound.row); err != nil {
			return nil, false, err
		}
		identities = append(identities, auth.MarkAuthenticated(bound.identity, auth.MethodSession))
	}

	principal := auth.NewPrincipal(identities...).WithSession(s.ID, s.Claims)
	p.cache.add(s.ID, cacheEntry{principal: principal, notAfter: s.NotAfter}, snap)
	return principal, false, nil
}

type boundIdentity struct {
	row      *models.Identity
	identity *auth.Identity
}

// loadBound loads a bound identity, including a deleted one. A SID that no
// longer exists is InvalidIdentity.
func (p *IdentityProvider) loadBound(ctx context.Context, sid string) (*boundIdentity, error) {
	row, err := p.identities.GetBySID(ctx, sid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.NewAuthenticationError(auth.ReasonInvalidIdentity, sid, nil)
		}
		return nil, err
	}
	stored, err := p.claims.ListBySID(ctx, sid)
	if err != nil {
		return nil, err
	}
	return &boundIdentity{row: row, identity: identity.FromModel(row, stored)}, nil
}

// GetIdentities returns the identities bound to a session. None of them is
// authenticated. Identities deleted since the session was established are
// still returned; SIDs that no longer exist are skipped.
func (p *IdentityProvider) GetIdentities(ctx context.Context, s *Session) ([]*auth.Identity, error) {
	if s == nil {
		return nil, nil
	}
	row, err := p.sessions.GetByID(ctx, s.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var out []*auth.Identity
	for _, sid := range fromModel(row).SIDs() {
		bound, err := p.loadBound(ctx, sid)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidIdentity) {
				continue
			}
			return nil, err
		}
		out = append(out, bound.identity)
	}
	return out, nil
}
