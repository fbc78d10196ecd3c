// Package iamtest builds a trust core over a migrated in-memory database
// with a fake clock, for service tests.
package iamtest

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/config"
	"github.com/santedb/santedb-server-sub007/internal/db/dbtest"
	"github.com/santedb/santedb-server-sub007/internal/services/iam"
)

// Epoch is the initial time of every fixture clock.
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// Fixture is a wired trust core with its database and clock.
type Fixture struct {
	*iam.Core

	DB     *bun.DB
	Clock  *clockwork.FakeClock
	Config *config.Config
	System *auth.Principal
}

// Option adjusts the configuration before the core is built.
type Option func(cfg *config.Config)

// WithLockoutThreshold sets the failure threshold.
func WithLockoutThreshold(n int) Option {
	return func(cfg *config.Config) { cfg.Security.LockoutThreshold = n }
}

// WithConcealLockout reports locked identities as invalid credentials.
func WithConcealLockout() Option {
	return func(cfg *config.Config) { cfg.Security.ConcealLockout = true }
}

// WithSessionCache sets the session resolver cache.
func WithSessionCache(size int, ttl time.Duration) Option {
	return func(cfg *config.Config) {
		cfg.Security.SessionCacheSize = size
		cfg.Security.SessionCacheTTL = ttl
	}
}

// WithDenyExpressions installs authentication deny expressions.
func WithDenyExpressions(exprs ...string) Option {
	return func(cfg *config.Config) { cfg.Security.DenyExpressions = exprs }
}

// New returns a fixture. Secrets are hashed at the minimum bcrypt cost.
func New(t testing.TB, opts ...Option) *Fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Security.BcryptCost = bcrypt.MinCost
	for _, opt := range opts {
		opt(cfg)
	}

	db := dbtest.New(t)
	clock := clockwork.NewFakeClockAt(Epoch)

	core, err := iam.NewCore(iam.Dependencies{DB: db, Clock: clock}, cfg)
	require.NoError(t, err)

	return &Fixture{
		Core:   core,
		DB:     db,
		Clock:  clock,
		Config: cfg,
		System: auth.SystemPrincipal(),
	}
}

// CreateUser creates a user as SYSTEM.
func (f *Fixture) CreateUser(t testing.TB, name, secret string) *auth.Identity {
	t.Helper()
	id, err := f.Users.CreateIdentity(context.Background(), name, secret, f.System)
	require.NoError(t, err)
	return id
}

// CreateDevice creates a device as SYSTEM.
func (f *Fixture) CreateDevice(t testing.TB, name, secret string) *auth.Identity {
	t.Helper()
	id, err := f.Devices.CreateIdentity(context.Background(), name, secret, f.System)
	require.NoError(t, err)
	return id
}

// CreateApplication creates an application as SYSTEM.
func (f *Fixture) CreateApplication(t testing.TB, name, secret string) *auth.Identity {
	t.Helper()
	id, err := f.Applications.CreateIdentity(context.Background(), name, secret, f.System)
	require.NoError(t, err)
	return id
}

// Login authenticates a user by password.
func (f *Fixture) Login(t testing.TB, name, secret string) *auth.Principal {
	t.Helper()
	p, err := f.Users.Authenticate(context.Background(), name, secret)
	require.NoError(t, err)
	return p
}

// Grant gives subject grant on oids as SYSTEM.
func (f *Fixture) Grant(t testing.TB, subject string, grant auth.Grant, oids ...string) {
	t.Helper()
	require.NoError(t, f.Policies.AddPolicies(context.Background(), subject, grant, oids, f.System))
}
