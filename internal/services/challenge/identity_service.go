package challenge

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/identity"
	"github.com/santedb/santedb-server-sub007/internal/services/lockout"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

const tracerName = "trust/services/challenge"

// IdentityDependencies for IdentityService construction.
type IdentityDependencies struct {
	Challenges repository.ChallengeRepository
	Identities repository.IdentityRepository
	Claims     repository.ClaimRepository
	Lockout    *lockout.Guard
	Metrics    *telemetry.AuthMetrics
	Logger     *zap.Logger

	Interceptors []identity.Interceptor
}

// IdentityService authenticates users by challenge answer. Failures count
// toward the same lockout as password failures.
type IdentityService struct {
	challenges   repository.ChallengeRepository
	identities   repository.IdentityRepository
	claims       repository.ClaimRepository
	guard        *lockout.Guard
	metrics      *telemetry.AuthMetrics
	logger       *zap.Logger
	interceptors []identity.Interceptor
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(deps IdentityDependencies) *IdentityService {
	return &IdentityService{
		challenges:   deps.Challenges,
		identities:   deps.Identities,
		claims:       deps.Claims,
		guard:        deps.Lockout,
		metrics:      deps.Metrics,
		logger:       logging.OrNop(deps.Logger).Named("challenge-identity"),
		interceptors: append([]identity.Interceptor(nil), deps.Interceptors...),
	}
}

// Authenticate verifies the answer of user to challengeID and returns an
// authenticated principal.
func (s *IdentityService) Authenticate(ctx context.Context, userName, challengeID, answer string) (*auth.Principal, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "challenge.Authenticate",
		attribute.String(telemetry.AttrIdentityName, userName),
		attribute.String(telemetry.AttrAuthMethod, auth.MethodChallenge),
	)
	defer span.End()

	principal, err := s.authenticate(ctx, userName, challengeID, answer)
	outcome := lockout.Outcome(err)
	span.SetAttributes(attribute.String(telemetry.AttrAuthOutcome, outcome))
	s.metrics.RecordAttempt(ctx, auth.MethodChallenge, string(auth.KindUser), outcome)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Info("challenge authentication failed", zap.String("name", userName), zap.String("reason", outcome))
		return nil, s.guard.Conceal(err)
	}
	return principal, nil
}

func (s *IdentityService) authenticate(ctx context.Context, userName, challengeID, answer string) (*auth.Principal, error) {
	attempt := identity.Attempt{Kind: auth.KindUser, Name: userName, Method: auth.MethodChallenge}
	if err := identity.RunInterceptors(ctx, s.interceptors, attempt); err != nil {
		return nil, err
	}

	row, err := s.identities.GetByName(ctx, string(auth.KindUser), userName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.NewAuthenticationError(auth.ReasonInvalidIdentity, userName, nil)
		}
		return nil, err
	}
	if err := s.guard.Check(row); err != nil {
		return nil, err
	}

	// A challenge the user never answered is a wrong answer, so it counts
	// toward lockout like any other.
	resp, err := s.challenges.GetResponse(ctx, row.SID, challengeID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if resp == nil || !auth.VerifySecret(resp.AnswerHash, NormalizeAnswer(answer)) {
		return nil, s.guard.RecordFailure(ctx, row)
	}

	if err := s.guard.RecordSuccess(ctx, row); err != nil {
		return nil, err
	}
	stored, err := s.claims.ListBySID(ctx, row.SID)
	if err != nil {
		return nil, err
	}
	id := auth.MarkAuthenticated(identity.FromModel(row, stored), auth.MethodChallenge)
	return auth.NewPrincipal(id), nil
}
