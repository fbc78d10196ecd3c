package iam

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/config"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/certificate"
	"github.com/santedb/santedb-server-sub007/internal/services/challenge"
	"github.com/santedb/santedb-server-sub007/internal/services/identity"
	"github.com/santedb/santedb-server-sub007/internal/services/lockout"
	"github.com/santedb/santedb-server-sub007/internal/services/policy"
	"github.com/santedb/santedb-server-sub007/internal/services/session"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

// Dependencies contains the runtime dependencies of the trust core.
type Dependencies struct {
	DB *bun.DB

	// Enforcer is created from DB when nil.
	Enforcer casbin.IEnforcer

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// Metrics may be nil; every recorder is nil-safe.
	Metrics *telemetry.AuthMetrics
	Logger  *zap.Logger
}

// Core holds every trust provider wired over one database.
type Core struct {
	Enforcer casbin.IEnforcer

	Lockout *lockout.Guard

	Policies *policy.InformationPoint
	Roles    *policy.RoleProvider

	Users        *identity.Provider
	Applications *identity.Provider
	Devices      *identity.Provider

	Certificates *certificate.Mapper

	Challenges        *challenge.Service
	ChallengeIdentity *challenge.IdentityService

	SessionCache    *session.Cache
	Sessions        *session.Provider
	SessionIdentity *session.IdentityProvider
}

// NewCore wires the trust core from cfg.
func NewCore(deps Dependencies, cfg *config.Config) (*Core, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	sec := cfg.Security

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := logging.OrNop(deps.Logger)

	enforcer := deps.Enforcer
	if enforcer == nil {
		e, err := auth.InitEnforcer(deps.DB)
		if err != nil {
			return nil, fmt.Errorf("initialize casbin enforcer: %w", err)
		}
		enforcer = e
	}

	interceptors, err := identity.ExpressionInterceptors(sec.DenyExpressions)
	if err != nil {
		return nil, fmt.Errorf("compile deny expressions: %w", err)
	}

	identities := repository.NewBunIdentityRepository(deps.DB)
	claims := repository.NewBunClaimRepository(deps.DB)
	certificates := repository.NewBunCertificateRepository(deps.DB)
	challenges := repository.NewBunChallengeRepository(deps.DB)
	sessions := repository.NewBunSessionRepository(deps.DB)
	policies := repository.NewBunPolicyRepository(deps.DB)
	roles := repository.NewBunRoleRepository(deps.DB)

	guard := lockout.NewGuard(lockout.Dependencies{
		Identities: identities,
		Clock:      clock,
		Metrics:    deps.Metrics,
		Logger:     logger,
	}, lockout.Policy{Threshold: sec.LockoutThreshold, Conceal: sec.ConcealLockout})

	pip := policy.NewInformationPoint(policy.Dependencies{
		Policies: policies,
		Enforcer: enforcer,
		Clock:    clock,
		Metrics:  deps.Metrics,
		Logger:   logger,
	})
	roleProvider := policy.NewRoleProvider(policy.RoleDependencies{
		Roles:      roles,
		Identities: identities,
		Enforcer:   enforcer,
		PDP:        pip,
		Clock:      clock,
		Logger:     logger,
	})

	identityDeps := identity.Dependencies{
		Identities: identities,
		Claims:     claims,
		Lockout:    guard,
		PDP:        pip,
		Clock:      clock,
		Metrics:    deps.Metrics,
		Logger:     logger,
	}
	options := func(role string) identity.Options {
		return identity.Options{BcryptCost: sec.BcryptCost, ProvisionRole: role, Interceptors: interceptors}
	}

	cache := session.NewCache(sec.SessionCacheSize, sec.SessionCacheTTL)

	return &Core{
		Enforcer: enforcer,
		Lockout:  guard,
		Policies: pip,
		Roles:    roleProvider,

		Users:        identity.NewUserProvider(identityDeps, roleProvider, options(sec.DefaultUserRole)),
		Applications: identity.NewApplicationProvider(identityDeps, pip, options(sec.ApplicationSkeletonRole)),
		Devices:      identity.NewDeviceProvider(identityDeps, pip, options(sec.DeviceSkeletonRole)),

		Certificates: certificate.NewMapper(certificate.Dependencies{
			Certificates: certificates,
			Identities:   identities,
			Claims:       claims,
			Lockout:      guard,
			PDP:          pip,
			Clock:        clock,
			Metrics:      deps.Metrics,
			Logger:       logger,
			Interceptors: interceptors,
		}),

		Challenges: challenge.NewService(challenge.Dependencies{
			Challenges: challenges,
			Identities: identities,
			PDP:        pip,
			Clock:      clock,
			Logger:     logger,
		}, sec.BcryptCost),
		ChallengeIdentity: challenge.NewIdentityService(challenge.IdentityDependencies{
			Challenges:   challenges,
			Identities:   identities,
			Claims:       claims,
			Lockout:      guard,
			Metrics:      deps.Metrics,
			Logger:       logger,
			Interceptors: interceptors,
		}),

		SessionCache: cache,
		Sessions: session.NewProvider(session.Dependencies{
			Sessions: sessions,
			PDP:      pip,
			Cache:    cache,
			Clock:    clock,
			Metrics:  deps.Metrics,
			Logger:   logger,
		}, session.Options{
			Lifetime:          sec.SessionLifetime,
			LongLivedLifetime: sec.LongLivedSessionLifetime,
		}),
		SessionIdentity: session.NewIdentityProvider(session.IdentityDependencies{
			Sessions:   sessions,
			Identities: identities,
			Claims:     claims,
			Lockout:    guard,
			Cache:      cache,
			Clock:      clock,
			Metrics:    deps.Metrics,
			Logger:     logger,
		}),
	}, nil
}

// Provider returns the identity provider for kind.
func (c *Core) Provider(kind auth.IdentityKind) (*identity.Provider, error) {
	switch kind {
	case auth.KindUser:
		return c.Users, nil
	case auth.KindApplication:
		return c.Applications, nil
	case auth.KindDevice:
		return c.Devices, nil
	}
	return nil, fmt.Errorf("unknown identity kind %q", kind)
}
