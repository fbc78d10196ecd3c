// Package certificate maps X.509 certificates onto identities and
// authenticates identities by certificate.
//
// Chain and signature validation happen before a certificate reaches the
// mapper; the mapper only decides whether a certificate is currently mapped
// and inside its validity window.
package certificate

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/bunx"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/identity"
	"github.com/santedb/santedb-server-sub007/internal/services/lockout"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

const tracerName = "trust/services/certificate"

// Dependencies for Mapper construction.
type Dependencies struct {
	Certificates repository.CertificateRepository
	Identities   repository.IdentityRepository
	Claims       repository.ClaimRepository
	Lockout      *lockout.Guard
	PDP          identity.Demander
	Clock        clockwork.Clock
	Metrics      *telemetry.AuthMetrics
	Logger       *zap.Logger

	Interceptors []identity.Interceptor
}

// Mapper is the certificate identity provider.
type Mapper struct {
	certificates repository.CertificateRepository
	identities   repository.IdentityRepository
	claims       repository.ClaimRepository
	guard        *lockout.Guard
	pdp          identity.Demander
	clock        clockwork.Clock
	metrics      *telemetry.AuthMetrics
	logger       *zap.Logger
	interceptors []identity.Interceptor
}

// NewMapper creates a Mapper.
func NewMapper(deps Dependencies) *Mapper {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Mapper{
		certificates: deps.Certificates,
		identities:   deps.Identities,
		claims:       deps.Claims,
		guard:        deps.Lockout,
		pdp:          deps.PDP,
		clock:        clock,
		metrics:      deps.Metrics,
		logger:       logging.OrNop(deps.Logger).Named("certificate"),
		interceptors: append([]identity.Interceptor(nil), deps.Interceptors...),
	}
}

var (
	ErrNoCertificate = errors.New("certificate is required")
	ErrNoIdentity    = errors.New("identity is required")
)

func required(id *auth.Identity, cert *x509.Certificate) error {
	if id == nil {
		return ErrNoIdentity
	}
	if cert == nil {
		return ErrNoCertificate
	}
	return nil
}

// Thumbprint returns the lower-case hex SHA-256 digest of the certificate's
// DER encoding, or "" for a nil certificate.
func Thumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// AddIdentityMap maps cert onto id. Mapping a certificate already mapped to
// the same identity is a no-op; a certificate mapped to another identity is
// rejected with ErrAlreadyExists. Requires AlterIdentity.
func (m *Mapper) AddIdentityMap(ctx context.Context, id *auth.Identity, cert *x509.Certificate, acting *auth.Principal) error {
	if err := m.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity); err != nil {
		return err
	}
	if err := required(id, cert); err != nil {
		return err
	}

	row, err := m.identities.GetBySID(ctx, id.SID)
	if err != nil {
		return err
	}
	if row.IsObsolete() {
		return fmt.Errorf("identity %s: %w", id.SID, repository.ErrNotFound)
	}

	thumb := Thumbprint(cert)
	existing, err := m.certificates.GetActiveByThumbprint(ctx, thumb)
	switch {
	case err == nil && existing.IdentitySID == row.SID:
		return nil
	case err == nil:
		return fmt.Errorf("certificate %s is mapped to another identity: %w", thumb, repository.ErrAlreadyExists)
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	if err := m.certificates.Create(ctx, &models.CertificateMap{
		ID:          bunx.NewUUIDv7(),
		IdentitySID: row.SID,
		Thumbprint:  thumb,
		Subject:     cert.Subject.String(),
		NotBefore:   cert.NotBefore.UTC(),
		NotAfter:    cert.NotAfter.UTC(),
		RawDER:      cert.Raw,
		CreatedAt:   m.clock.Now().UTC(),
	}); err != nil {
		return err
	}
	m.logger.Info("certificate mapped",
		zap.String("thumbprint", thumb),
		zap.String("sid", row.SID),
		zap.String("by", acting.Name()),
	)
	return nil
}

// RemoveIdentityMap removes the active mapping between cert and id.
// Requires AlterIdentity.
func (m *Mapper) RemoveIdentityMap(ctx context.Context, id *auth.Identity, cert *x509.Certificate, acting *auth.Principal) error {
	if err := m.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity); err != nil {
		return err
	}
	if err := required(id, cert); err != nil {
		return err
	}

	thumb := Thumbprint(cert)
	n, err := m.certificates.Obsolete(ctx, id.SID, thumb, m.clock.Now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("certificate %s for identity %s: %w", thumb, id.SID, repository.ErrNotFound)
	}
	m.logger.Info("certificate unmapped", zap.String("thumbprint", thumb), zap.String("sid", id.SID), zap.String("by", acting.Name()))
	return nil
}

// GetIdentityCertificate returns the most recently mapped active
// certificate of id, or a wrapped ErrNotFound.
func (m *Mapper) GetIdentityCertificate(ctx context.Context, id *auth.Identity) (*x509.Certificate, error) {
	if id == nil {
		return nil, ErrNoIdentity
	}
	row, err := m.certificates.GetLatestActiveForIdentity(ctx, id.SID)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(row.RawDER)
	if err != nil {
		return nil, fmt.Errorf("parse stored certificate %s: %w", row.Thumbprint, err)
	}
	return cert, nil
}

// GetCertificateIdentity returns the identity cert is actively mapped to,
// or nil.
func (m *Mapper) GetCertificateIdentity(ctx context.Context, cert *x509.Certificate) (*auth.Identity, error) {
	if cert == nil {
		return nil, ErrNoCertificate
	}
	mapping, err := m.certificates.GetActiveByThumbprint(ctx, Thumbprint(cert))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	row, err := m.identities.GetBySID(ctx, mapping.IdentitySID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	stored, err := m.claims.ListBySID(ctx, row.SID)
	if err != nil {
		return nil, err
	}
	return identity.FromModel(row, stored), nil
}

// Authenticate returns an authenticated principal for the identity cert is
// actively mapped to. A nil certificate is unmapped.
func (m *Mapper) Authenticate(ctx context.Context, cert *x509.Certificate) (*auth.Principal, error) {
	if cert == nil {
		m.metrics.RecordAttempt(ctx, auth.MethodCertificate, "", string(auth.ReasonCertificateUnmapped))
		return nil, auth.NewAuthenticationError(auth.ReasonCertificateUnmapped, "", ErrNoCertificate)
	}
	thumb := Thumbprint(cert)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "certificate.Authenticate",
		attribute.String(telemetry.AttrAuthMethod, auth.MethodCertificate),
		attribute.String("certificate.thumbprint", thumb),
	)
	defer span.End()

	principal, kind, err := m.authenticate(ctx, cert, thumb)
	outcome := lockout.Outcome(err)
	span.SetAttributes(attribute.String(telemetry.AttrAuthOutcome, outcome))
	m.metrics.RecordAttempt(ctx, auth.MethodCertificate, kind, outcome)
	if err != nil {
		telemetry.RecordError(span, err)
		m.logger.Info("certificate authentication failed", zap.String("thumbprint", thumb), zap.String("reason", outcome))
		return nil, m.guard.Conceal(err)
	}
	return principal, nil
}

func (m *Mapper) authenticate(ctx context.Context, cert *x509.Certificate, thumb string) (*auth.Principal, string, error) {
	mapping, err := m.certificates.GetActiveByThumbprint(ctx, thumb)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, "", err
		}
		if _, latestErr := m.certificates.GetLatestByThumbprint(ctx, thumb); latestErr == nil {
			return nil, "", auth.NewAuthenticationError(auth.ReasonCertificateRevoked, cert.Subject.String(), nil)
		}
		return nil, "", auth.NewAuthenticationError(auth.ReasonCertificateUnmapped, cert.Subject.String(), nil)
	}

	now := m.clock.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, "", auth.NewAuthenticationError(auth.ReasonCertificateExpired, cert.Subject.String(), nil)
	}

	row, err := m.identities.GetBySID(ctx, mapping.IdentitySID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", auth.NewAuthenticationError(auth.ReasonInvalidIdentity, cert.Subject.String(), nil)
		}
		return nil, "", err
	}

	attempt := identity.Attempt{Kind: auth.IdentityKind(row.Kind), Name: row.Name, Method: auth.MethodCertificate}
	if err := identity.RunInterceptors(ctx, m.interceptors, attempt); err != nil {
		return nil, row.Kind, err
	}
	if err := m.guard.Check(row); err != nil {
		return nil, row.Kind, err
	}

	stored, err := m.claims.ListBySID(ctx, row.SID)
	if err != nil {
		return nil, row.Kind, err
	}
	id := auth.MarkAuthenticated(identity.FromModel(row, stored), auth.MethodCertificate)
	return auth.NewPrincipal(id), row.Kind, nil
}
