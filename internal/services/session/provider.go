package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/bunx"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

const tracerName = "trust/services/session"

// minStep is the smallest increment applied when the clock has not moved
// past a window bound, so extended windows always move forward.
const minStep = time.Millisecond

// Demander checks that a principal holds a policy.
type Demander interface {
	Demand(ctx context.Context, principal *auth.Principal, oid string) error
}

// Dependencies for Provider construction.
type Dependencies struct {
	Sessions repository.SessionRepository
	PDP      Demander
	Cache    *Cache
	Clock    clockwork.Clock
	Metrics  *telemetry.AuthMetrics
	Logger   *zap.Logger
}

// Options configures session lifetimes.
type Options struct {
	Lifetime          time.Duration
	LongLivedLifetime time.Duration
}

// Provider establishes, extends and abandons sessions.
type Provider struct {
	sessions repository.SessionRepository
	pdp      Demander
	cache    *Cache
	clock    clockwork.Clock
	metrics  *telemetry.AuthMetrics
	logger   *zap.Logger
	opts     Options
}

// NewProvider creates a Provider.
func NewProvider(deps Dependencies, opts Options) *Provider {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.LongLivedLifetime < opts.Lifetime {
		opts.LongLivedLifetime = opts.Lifetime
	}
	return &Provider{
		sessions: deps.Sessions,
		pdp:      deps.PDP,
		cache:    deps.Cache,
		clock:    clock,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(deps.Logger).Named("session"),
		opts:     opts,
	}
}

func (p *Provider) lifetime(longLived bool) time.Duration {
	if longLived {
		return p.opts.LongLivedLifetime
	}
	return p.opts.Lifetime
}

// sessionClaims lists the claims of a new session: a SID claim per
// authenticated identity, the primary name, scopes, the application and
// device ids, then the request's purpose, language and client address.
func sessionClaims(principal *auth.Principal, req Request) auth.Claims {
	bound := principal.AuthenticatedIdentities()

	var claims auth.Claims
	for _, id := range bound {
		claims = append(claims, auth.SIDClaim(id.SID))
	}

	primary := bound[0]
	for _, id := range bound {
		if id.Kind == auth.KindUser {
			primary = id
			break
		}
	}
	claims = append(claims, auth.NameClaim(primary.Name))

	scopes := 0
	for _, s := range req.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			claims = append(claims, auth.ScopeClaim(s))
			scopes++
		}
	}
	if scopes == 0 {
		claims = append(claims, auth.ScopeClaim("*"))
	}

	for _, id := range bound {
		switch id.Kind {
		case auth.KindApplication:
			claims = append(claims, auth.ApplicationIDClaim(id.SID))
		case auth.KindDevice:
			claims = append(claims, auth.DeviceIDClaim(id.SID))
		}
	}

	if req.PurposeOfUse != "" {
		claims = append(claims, auth.CustomClaim(ClaimTypePurposeOfUse, req.PurposeOfUse))
	}
	if req.Language != "" {
		claims = append(claims, auth.CustomClaim(ClaimTypeLanguage, req.Language))
	}
	if req.ClientAddress != "" {
		claims = append(claims, auth.CustomClaim(ClaimTypeClientAddress, req.ClientAddress))
	}
	return claims
}

// Establish opens a session for an authenticated principal holding Login.
// The returned session carries the refresh token; it is never exposed again.
func (p *Provider) Establish(ctx context.Context, principal *auth.Principal, req Request) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Establish",
		attribute.String(telemetry.AttrIdentityName, principal.Name()),
	)
	defer span.End()

	if err := p.pdp.Demand(ctx, principal, auth.PolicyLogin); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	token, hash, err := auth.GenerateToken()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	start := storeTime(p.clock.Now())
	claims := sessionClaims(principal, req)
	row := &models.Session{
		ID:               bunx.NewUUIDv7(),
		RefreshTokenHash: hash,
		NotBefore:        start,
		NotAfter:         start.Add(p.lifetime(req.LongLived)),
		LongLived:        req.LongLived,
		ClientAddress:    req.ClientAddress,
		PurposeOfUse:     req.PurposeOfUse,
		Language:         req.Language,
		CreatedAt:        start,
	}
	for _, c := range claims {
		row.Claims = append(row.Claims, models.SessionClaim{Type: c.Type(), Value: c.Value})
	}

	if err := p.sessions.Create(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String(telemetry.AttrSessionID, row.ID))
	p.metrics.RecordSessionEvent(ctx, "established")
	p.logger.Info("session established",
		zap.String("session_id", row.ID),
		zap.String("principal", principal.Name()),
		zap.Bool("long_lived", req.LongLived),
	)

	out := fromModel(row)
	out.RefreshToken = token
	return out, nil
}

// Extend rotates the refresh token and moves the validity window forward.
// A spent or unknown token yields a wrapped ErrNotFound.
func (p *Provider) Extend(ctx context.Context, refreshToken string) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Extend")
	defer span.End()

	oldHash := auth.HashToken(refreshToken)
	row, err := p.sessions.GetByRefreshHash(ctx, oldHash)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrSessionID, row.ID))

	current := storeTime(p.clock.Now())
	if row.IsAbandoned() {
		return nil, auth.NewAuthenticationError(auth.ReasonSessionAbandoned, row.ID, nil)
	}
	if !current.Before(row.NotAfter) {
		return nil, auth.NewAuthenticationError(auth.ReasonSessionExpired, row.ID, nil)
	}

	token, newHash, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}

	notBefore := current
	if !notBefore.After(row.NotBefore) {
		notBefore = row.NotBefore.Add(minStep)
	}
	notAfter := notBefore.Add(p.lifetime(row.LongLived))
	if !notAfter.After(row.NotAfter) {
		notAfter = row.NotAfter.Add(minStep)
	}

	ok, err := p.sessions.Rotate(ctx, row.ID, oldHash, newHash, notBefore, notAfter, current)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("refresh token for session %s: %w", row.ID, repository.ErrNotFound)
	}
	p.cache.Evict(row.ID)

	p.metrics.RecordSessionEvent(ctx, "extended")
	p.logger.Debug("session extended", zap.String("session_id", row.ID), zap.Time("not_after", notAfter))

	out := fromModel(row)
	out.RefreshToken = token
	out.NotBefore = notBefore
	out.NotAfter = notAfter
	out.RefreshedAt = &current
	return out, nil
}

// Abandon makes a session permanently unusable. Abandoning an abandoned
// session succeeds.
func (p *Provider) Abandon(ctx context.Context, sessionID string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Abandon",
		attribute.String(telemetry.AttrSessionID, sessionID),
	)
	defer span.End()

	err := p.sessions.Abandon(ctx, sessionID, storeTime(p.clock.Now()))
	p.cache.Evict(sessionID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	p.metrics.RecordSessionEvent(ctx, "abandoned")
	p.logger.Info("session abandoned", zap.String("session_id", sessionID))
	return nil
}

// Get returns session metadata without the refresh token, or nil.
func (p *Provider) Get(ctx context.Context, sessionID string) (*Session, error) {
	row, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return fromModel(row), nil
}

// PurgeExpired deletes sessions whose window has closed and returns how
// many were removed.
func (p *Provider) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := p.sessions.DeleteExpired(ctx, storeTime(p.clock.Now()))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.metrics.RecordSessionEvent(ctx, "purged")
		p.logger.Info("expired sessions purged", zap.Int64("count", n))
	}
	return n, nil
}
