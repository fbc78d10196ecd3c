// Package identity implements the identity providers for users, applications
// and devices.
//
// The three providers share one implementation over the credential store.
// They differ only in the policy required to create an identity, the
// claim they attach on authentication, and how a new identity is
// provisioned: users join the default user role, while applications and
// devices receive a copy of the grants of their skeleton role.
package identity

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
	"github.com/santedb/santedb-server-sub007/internal/services/lockout"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

const tracerName = "trust/services/identity"

// Demander checks that a principal holds a policy.
type Demander interface {
	Demand(ctx context.Context, principal *auth.Principal, oid string) error
}

// RoleJoiner adds an identity subject to a role.
type RoleJoiner interface {
	AddSubjectToRole(ctx context.Context, subject, role string) error
}

// GrantCopier copies the direct grants of one subject onto another.
type GrantCopier interface {
	CopyGrants(ctx context.Context, from, to string) error
}

// Provisioner prepares a newly created identity, e.g. by granting it
// baseline policies.
type Provisioner func(ctx context.Context, identity *auth.Identity) error

// Dependencies for Provider construction.
type Dependencies struct {
	Identities repository.IdentityRepository
	Claims     repository.ClaimRepository
	Lockout    *lockout.Guard
	PDP        Demander
	Clock      clockwork.Clock
	Metrics    *telemetry.AuthMetrics
	Logger     *zap.Logger
}

// Options configures a Provider.
type Options struct {
	BcryptCost int

	// ProvisionRole is joined by new users, or whose grants are copied onto
	// new applications and devices. Empty skips provisioning.
	ProvisionRole string

	Interceptors []Interceptor
}

// Status is the administrative view of an identity's credential state.
type Status struct {
	SID            string
	Name           string
	Kind           auth.IdentityKind
	Locked         bool
	FailedAttempts int
	LockedAt       *time.Time
	LastAuthAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ObsoletedAt    *time.Time
}

// Provider is the identity provider for one identity kind.
type Provider struct {
	kind         auth.IdentityKind
	createPolicy string
	provision    Provisioner

	identities   repository.IdentityRepository
	claims       repository.ClaimRepository
	guard        *lockout.Guard
	pdp          Demander
	clock        clockwork.Clock
	metrics      *telemetry.AuthMetrics
	logger       *zap.Logger
	cost         int
	interceptors []Interceptor
}

// New creates a provider for kind. createPolicy is demanded before any
// identity is created; provision, if set, runs after the identity is stored.
func New(kind auth.IdentityKind, createPolicy string, provision Provisioner, deps Dependencies, opts Options) *Provider {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Provider{
		kind:         kind,
		createPolicy: createPolicy,
		provision:    provision,
		identities:   deps.Identities,
		claims:       deps.Claims,
		guard:        deps.Lockout,
		pdp:          deps.PDP,
		clock:        clock,
		metrics:      deps.Metrics,
		logger:       logging.OrNop(deps.Logger).Named(string(kind) + "-identity"),
		cost:         opts.BcryptCost,
		interceptors: append([]Interceptor(nil), opts.Interceptors...),
	}
}

// NewUserProvider creates the user identity provider. New users join
// opts.ProvisionRole.
func NewUserProvider(deps Dependencies, roles RoleJoiner, opts Options) *Provider {
	var provision Provisioner
	if opts.ProvisionRole != "" && roles != nil {
		role := opts.ProvisionRole
		provision = func(ctx context.Context, id *auth.Identity) error {
			return roles.AddSubjectToRole(ctx, id.Subject(), role)
		}
	}
	return New(auth.KindUser, auth.PolicyCreateIdentity, provision, deps, opts)
}

// NewApplicationProvider creates the application identity provider. New
// applications receive the grants of opts.ProvisionRole.
func NewApplicationProvider(deps Dependencies, grants GrantCopier, opts Options) *Provider {
	return New(auth.KindApplication, auth.PolicyCreateApplication, skeletonProvisioner(grants, opts.ProvisionRole), deps, opts)
}

// NewDeviceProvider creates the device identity provider. New devices
// receive the grants of opts.ProvisionRole.
func NewDeviceProvider(deps Dependencies, grants GrantCopier, opts Options) *Provider {
	return New(auth.KindDevice, auth.PolicyCreateDevice, skeletonProvisioner(grants, opts.ProvisionRole), deps, opts)
}

func skeletonProvisioner(grants GrantCopier, role string) Provisioner {
	if role == "" || grants == nil {
		return nil
	}
	return func(ctx context.Context, id *auth.Identity) error {
		return grants.CopyGrants(ctx, auth.RoleSubject(role), id.Subject())
	}
}

// Kind returns the identity kind served by the provider.
func (p *Provider) Kind() auth.IdentityKind {
	return p.kind
}

// FromModel builds an unauthenticated identity from its stored row and
// claims. The name and SID claims come first, followed by the kind claim
// for applications and devices, then stored claims in insertion order.
func FromModel(row *models.Identity, stored []models.IdentityClaim) *auth.Identity {
	kind := auth.IdentityKind(row.Kind)
	claims := auth.Claims{auth.NameClaim(row.Name), auth.SIDClaim(row.SID)}
	switch kind {
	case auth.KindApplication:
		claims = append(claims, auth.ApplicationIDClaim(row.SID))
	case auth.KindDevice:
		claims = append(claims, auth.DeviceIDClaim(row.SID))
	}
	for _, c := range stored {
		claims = append(claims, auth.ParseClaim(c.Type, c.Value))
	}
	return auth.NewIdentity(kind, row.SID, row.Name, claims)
}

func (p *Provider) load(ctx context.Context, row *models.Identity) (*auth.Identity, error) {
	stored, err := p.claims.ListBySID(ctx, row.SID)
	if err != nil {
		return nil, err
	}
	return FromModel(row, stored), nil
}

// lookup returns the live identity called name, or a wrapped ErrNotFound.
func (p *Provider) lookup(ctx context.Context, name string) (*models.Identity, error) {
	return p.identities.GetByName(ctx, string(p.kind), name)
}

// CreateIdentity stores a new identity on behalf of an authenticated
// principal holding the kind's creation policy.
func (p *Provider) CreateIdentity(ctx context.Context, name, secret string, onBehalfOf *auth.Principal) (*auth.Identity, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.CreateIdentity",
		attribute.String(telemetry.AttrIdentityKind, string(p.kind)),
		attribute.String(telemetry.AttrIdentityName, name),
	)
	defer span.End()

	if err := p.pdp.Demand(ctx, onBehalfOf, p.createPolicy); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("identity name is required")
	}
	hash, err := auth.HashSecret(secret, p.cost)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	row := &models.Identity{
		SID:        bunx.NewUUIDv7(),
		Kind:       string(p.kind),
		Name:       name,
		SecretHash: hash,
		CreatedAt:  now,
		CreatedBy:  onBehalfOf.Primary().SID,
		UpdatedAt:  now,
	}
	if err := p.identities.Create(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	created := FromModel(row, nil)

	if p.provision != nil {
		if err := p.provision(ctx, created); err != nil {
			telemetry.RecordError(span, err)
			if obsErr := p.identities.Obsolete(ctx, row.SID, now); obsErr != nil {
				p.logger.Error("failed to roll back unprovisioned identity",
					zap.String("sid", row.SID), zap.Error(obsErr))
			}
			return nil, fmt.Errorf("provision %s %q: %w", p.kind, name, err)
		}
	}

	span.SetAttributes(attribute.String(telemetry.AttrIdentitySID, row.SID))
	p.logger.Info("identity created",
		zap.String("sid", row.SID),
		zap.String("name", name),
		zap.String("by", onBehalfOf.Name()),
	)
	return created, nil
}

// GetIdentity returns the live identity called name, or nil.
func (p *Provider) GetIdentity(ctx context.Context, name string) (*auth.Identity, error) {
	row, err := p.lookup(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p.load(ctx, row)
}

// GetIdentityBySID returns the identity with sid, including deleted ones, or
// nil when it does not exist or belongs to another kind.
func (p *Provider) GetIdentityBySID(ctx context.Context, sid string) (*auth.Identity, error) {
	row, err := p.identities.GetBySID(ctx, sid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if row.Kind != string(p.kind) {
		return nil, nil
	}
	return p.load(ctx, row)
}

// GetStatus returns the credential state of the live identity called name,
// or nil.
func (p *Provider) GetStatus(ctx context.Context, name string) (*Status, error) {
	row, err := p.lookup(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Status{
		SID:            row.SID,
		Name:           row.Name,
		Kind:           auth.IdentityKind(row.Kind),
		Locked:         row.Locked,
		FailedAttempts: row.FailedAttempts,
		LockedAt:       row.LockedAt,
		LastAuthAt:     row.LastAuthAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		ObsoletedAt:    row.ObsoletedAt,
	}, nil
}

// ListIdentities returns every live identity of the provider's kind.
func (p *Provider) ListIdentities(ctx context.Context) ([]*auth.Identity, error) {
	rows, err := p.identities.List(ctx, string(p.kind))
	if err != nil {
		return nil, err
	}
	out := make([]*auth.Identity, 0, len(rows))
	for i := range rows {
		out = append(out, FromModel(&rows[i], nil))
	}
	return out, nil
}

// Authenticate verifies name and secret and returns an authenticated
// principal carrying the identity's claims.
func (p *Provider) Authenticate(ctx context.Context, name, secret string) (*auth.Principal, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.Authenticate",
		attribute.String(telemetry.AttrIdentityKind, string(p.kind)),
		attribute.String(telemetry.AttrIdentityName, name),
		attribute.String(telemetry.AttrAuthMethod, auth.MethodPassword),
	)
	defer span.End()

	principal, err := p.authenticate(ctx, name, secret)
	outcome := lockout.Outcome(err)
	span.SetAttributes(attribute.String(telemetry.AttrAuthOutcome, outcome))
	p.metrics.RecordAttempt(ctx, auth.MethodPassword, string(p.kind), outcome)
	if err != nil {
		telemetry.RecordError(span, err)
		p.logger.Info("authentication failed", zap.String("name", name), zap.String("reason", outcome))
		return nil, p.guard.Conceal(err)
	}
	p.logger.Debug("authentication succeeded", zap.String("name", name))
	return principal, nil
}

func (p *Provider) authenticate(ctx context.Context, name, secret string) (*auth.Principal, error) {
	attempt := Attempt{Kind: p.kind, Name: name, Method: auth.MethodPassword}
	if err := RunInterceptors(ctx, p.interceptors, attempt); err != nil {
		return nil, err
	}

	row, err := p.lookup(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.NewAuthenticationError(auth.ReasonInvalidIdentity, name, nil)
		}
		return nil, err
	}
	if err := p.guard.Check(row); err != nil {
		return nil, err
	}

	if !auth.VerifySecret(row.SecretHash, secret) {
		return nil, p.guard.RecordFailure(ctx, row)
	}
	if err := p.guard.RecordSuccess(ctx, row); err != nil {
		return nil, err
	}
	return p.Principal(ctx, row, auth.MethodPassword)
}

// Principal returns an authenticated principal for row. It is used by
// authentication routes that have already verified a credential for the
// identity.
func (p *Provider) Principal(ctx context.Context, row *models.Identity, method string) (*auth.Principal, error) {
	id, err := p.load(ctx, row)
	if err != nil {
		return nil, err
	}
	return auth.NewPrincipal(auth.MarkAuthenticated(id, method)), nil
}

// ChangeSecret replaces the secret of the identity called name. The acting
// principal must be authenticated; changing another identity's secret
// requires ChangePassword.
func (p *Provider) ChangeSecret(ctx context.Context, name, newSecret string, acting *auth.Principal) error {
	if !acting.IsAuthenticated() {
		return auth.NewPolicyViolation(acting, auth.PolicyChangePassword)
	}
	if !acting.ActsAs(p.kind, name) {
		if err := p.pdp.Demand(ctx, acting, auth.PolicyChangePassword); err != nil {
			return err
		}
	}

	hash, err := auth.HashSecret(newSecret, p.cost)
	if err != nil {
		return err
	}
	row, err := p.lookup(ctx, name)
	if err != nil {
		return err
	}
	if err := p.identities.UpdateSecret(ctx, row.SID, hash, p.clock.Now().UTC()); err != nil {
		return err
	}
	p.logger.Info("secret changed", zap.String("name", row.Name), zap.String("by", acting.Name()))
	return nil
}

// SetLockout locks or unlocks the identity called name. Unlocking also
// resets the failure counter. Requires AlterIdentity.
func (p *Provider) SetLockout(ctx context.Context, name string, locked bool, acting *auth.Principal) error {
	if err := p.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity); err != nil {
		return err
	}
	row, err := p.lookup(ctx, name)
	if err != nil {
		return err
	}
	if err := p.identities.SetLocked(ctx, row.SID, locked, p.clock.Now().UTC()); err != nil {
		return err
	}
	p.logger.Info("lockout changed", zap.String("name", row.Name), zap.Bool("locked", locked), zap.String("by", acting.Name()))
	return nil
}

// AddClaim stores a claim on the identity called name. Name and SID claims
// are derived from the identity and cannot be added. Requires AlterIdentity.
func (p *Provider) AddClaim(ctx context.Context, name string, claim auth.Claim, acting *auth.Principal) error {
	if err := p.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity); err != nil {
		return err
	}
	if reserved(claim) {
		return fmt.Errorf("claim type %q is reserved", claim.Type())
	}
	if strings.TrimSpace(claim.Type()) == "" {
		return fmt.Errorf("claim type is required")
	}
	row, err := p.lookup(ctx, name)
	if err != nil {
		return err
	}
	return p.claims.Add(ctx, &models.IdentityClaim{
		ID:          bunx.NewUUIDv7(),
		IdentitySID: row.SID,
		Type:        claim.Type(),
		Value:       claim.Value,
		CreatedAt:   p.clock.Now().UTC(),
	})
}

// reserved reports whether c is derived from the identity record.
func reserved(c auth.Claim) bool {
	return c.Kind == auth.ClaimKindName || c.Kind == auth.ClaimKindSID
}

// RemoveClaim removes every claim of claimType from the identity called
// name. Requires AlterIdentity.
func (p *Provider) RemoveClaim(ctx context.Context, name, claimType string, acting *auth.Principal) error {
	if err := p.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity); err != nil {
		return err
	}
	if reserved(auth.ParseClaim(claimType, "")) {
		return fmt.Errorf("claim type %q is reserved", claimType)
	}
	row, err := p.lookup(ctx, name)
	if err != nil {
		return err
	}
	_, err = p.claims.RemoveByType(ctx, row.SID, claimType)
	return err
}

// DeleteIdentity soft-deletes the identity called name. It stays resolvable
// by SID but never authenticates again. Requires AlterIdentity.
func (p *Provider) DeleteIdentity(ctx context.Context, name string, acting *auth.Principal) error {
	if err := p.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity); err != nil {
		return err
	}
	row, err := p.lookup(ctx, name)
	if err != nil {
		return err
	}
	if row.SID == auth.SystemSID {
		return fmt.Errorf("the %s identity cannot be deleted", auth.SystemName)
	}
	if err := p.identities.Obsolete(ctx, row.SID, p.clock.Now().UTC()); err != nil {
		return err
	}
	p.logger.Info("identity deleted", zap.String("sid", row.SID), zap.String("name", row.Name), zap.String("by", acting.Name()))
	return nil
}
