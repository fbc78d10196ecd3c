// Package policy implements the policy information point and the role
// provider.
//
// Grants are casbin p rules (subject, policy OID, grant) and role membership
// is casbin g rules (identity subject, role subject). A principal's effective
// grant on a policy is the most restrictive grant among every rule that
// applies to it: rules on the policy itself or on any ancestor OID, held by
// any authenticated identity of the principal or by any role those
// identities belong to. No applicable rule means Deny.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

const tracerName = "trust/services/policy"

// Policy is a catalog entry.
type Policy struct {
	OID        string
	Name       string
	CanElevate bool
	CreatedAt  time.Time
}

// Instance is the effective grant of one policy for a principal.
type Instance struct {
	Policy Policy
	Grant  auth.Grant
}

// SubjectGrant is one grant held directly by a subject.
type SubjectGrant struct {
	Subject string
	OID     string
	Grant   auth.Grant
}

// Dependencies for InformationPoint construction.
type Dependencies struct {
	Policies repository.PolicyRepository
	Enforcer casbin.IEnforcer
	Clock    clockwork.Clock
	Metrics  *telemetry.AuthMetrics
	Logger   *zap.Logger
}

// InformationPoint resolves policy decisions for principals.
type InformationPoint struct {
	policies repository.PolicyRepository
	enforcer casbin.IEnforcer
	clock    clockwork.Clock
	metrics  *telemetry.AuthMetrics
	logger   *zap.Logger
}

// NewInformationPoint creates an InformationPoint.
func NewInformationPoint(deps Dependencies) *InformationPoint {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InformationPoint{
		policies: deps.Policies,
		enforcer: deps.Enforcer,
		clock:    clock,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(deps.Logger).Named("policy"),
	}
}

func policyFromModel(m *models.Policy) Policy {
	return Policy{OID: m.OID, Name: m.Name, CanElevate: m.CanElevate, CreatedAt: m.CreatedAt}
}

// GetPolicies returns the policy catalog ordered by OID.
func (p *InformationPoint) GetPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := p.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Policy, 0, len(rows))
	for i := range rows {
		out = append(out, policyFromModel(&rows[i]))
	}
	return out, nil
}

// GetPolicy returns a catalog entry, or nil when the OID is unknown.
func (p *InformationPoint) GetPolicy(ctx context.Context, oid string) (*Policy, error) {
	row, err := p.policies.GetByOID(ctx, oid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := policyFromModel(row)
	return &out, nil
}

// CreatePolicy adds a policy to the catalog. Requires AlterPolicy.
func (p *InformationPoint) CreatePolicy(ctx context.Context, policy Policy, acting *auth.Principal) (*Policy, error) {
	if err := p.Demand(ctx, acting, auth.PolicyAlterPolicy); err != nil {
		return nil, err
	}
	oid := strings.Trim(strings.TrimSpace(policy.OID), ".")
	if oid == "" || strings.TrimSpace(policy.Name) == "" {
		return nil, fmt.Errorf("policy oid and name are required")
	}

	row := &models.Policy{
		OID:        oid,
		Name:       strings.TrimSpace(policy.Name),
		CanElevate: policy.CanElevate,
		CreatedAt:  p.clock.Now().UTC(),
	}
	if err := p.policies.Create(ctx, row); err != nil {
		return nil, err
	}
	p.logger.Info("policy created", zap.String("oid", row.OID), zap.String("by", acting.Name()))
	out := policyFromModel(row)
	return &out, nil
}

// subjectsOf returns the subjects whose rules apply to principal: its
// authenticated identities and every role they belong to, directly or
// transitively.
func (p *InformationPoint) subjectsOf(principal *auth.Principal) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, subject := range principal.Subjects() {
		add(subject)
		roles, err := p.enforcer.GetImplicitRolesForUser(subject)
		if err != nil {
			return nil, fmt.Errorf("resolve roles for %s: %w", subject, err)
		}
		for _, r := range roles {
			add(r)
		}
	}
	return out, nil
}

// grantsOf collects the grants held by subjects, keyed by policy OID.
// Malformed rules are skipped.
func (p *InformationPoint) grantsOf(subjects []string) (map[string][]auth.Grant, error) {
	out := map[string][]auth.Grant{}
	for _, subject := range subjects {
		rules, err := p.enforcer.GetFilteredPolicy(0, subject)
		if err != nil {
			return nil, fmt.Errorf("load grants for %s: %w", subject, err)
		}
		for _, rule := range rules {
			if len(rule) < 3 {
				continue
			}
			g, err := auth.ParseGrant(rule[2])
			if err != nil {
				p.logger.Warn("skipping malformed grant", zap.Strings("rule", rule))
				continue
			}
			out[rule[1]] = append(out[rule[1]], g)
		}
	}
	return out, nil
}

// effective combines the grants that apply to oid. The second result is
// false when no grant applies.
func effective(grants map[string][]auth.Grant, oid string, canElevate bool) (auth.Grant, bool) {
	result := auth.GrantGrant
	found := false
	for _, ancestor := range auth.PolicyLineage(oid) {
		for _, g := range grants[ancestor] {
			result = auth.Restrict(result, g)
			found = true
		}
	}
	if !found {
		return auth.GrantDeny, false
	}
	if result == auth.GrantElevate && !canElevate {
		return auth.GrantDeny, true
	}
	return result, true
}

func (p *InformationPoint) canElevate(ctx context.Context, oid string) (bool, error) {
	policy, err := p.GetPolicy(ctx, oid)
	if err != nil {
		return false, err
	}
	return policy != nil && policy.CanElevate, nil
}

// GetPolicyInstance returns the effective grant of oid for principal.
func (p *InformationPoint) GetPolicyInstance(ctx context.Context, principal *auth.Principal, oid string) (auth.Grant, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "policy.GetPolicyInstance",
		attribute.String(telemetry.AttrPolicyOID, oid),
	)
	defer span.End()

	if !principal.IsAuthenticated() {
		p.metrics.RecordDecision(ctx, oid, auth.GrantDeny.String())
		return auth.GrantDeny, nil
	}

	subjects, err := p.subjectsOf(principal)
	if err != nil {
		telemetry.RecordError(span, err)
		return auth.GrantDeny, err
	}
	grants, err := p.grantsOf(subjects)
	if err != nil {
		telemetry.RecordError(span, err)
		return auth.GrantDeny, err
	}
	elevate, err := p.canElevate(ctx, oid)
	if err != nil {
		telemetry.RecordError(span, err)
		return auth.GrantDeny, err
	}

	grant, _ := effective(grants, oid, elevate)
	span.SetAttributes(attribute.String(telemetry.AttrPolicyGrant, grant.String()))
	p.metrics.RecordDecision(ctx, oid, grant.String())
	return grant, nil
}

// GetPoliciesFor returns the effective grant of every catalog policy that
// has at least one applicable rule for principal.
func (p *InformationPoint) GetPoliciesFor(ctx context.Context, principal *auth.Principal) ([]Instance, error) {
	if !principal.IsAuthenticated() {
		return nil, nil
	}
	subjects, err := p.subjectsOf(principal)
	if err != nil {
		return nil, err
	}
	grants, err := p.grantsOf(subjects)
	if err != nil {
		return nil, err
	}
	catalog, err := p.GetPolicies(ctx)
	if err != nil {
		return nil, err
	}

	var out []Instance
	for _, policy := range catalog {
		grant, ok := effective(grants, policy.OID, policy.CanElevate)
		if !ok {
			continue
		}
		out = append(out, Instance{Policy: policy, Grant: grant})
	}
	return out, nil
}

// Demand returns a PolicyViolationError unless principal holds Grant on oid.
func (p *InformationPoint) Demand(ctx context.Context, principal *auth.Principal, oid string) error {
	if !principal.IsAuthenticated() {
		return auth.NewPolicyViolation(principal, oid)
	}
	grant, err := p.GetPolicyInstance(ctx, principal, oid)
	if err != nil {
		return err
	}
	if grant != auth.GrantGrant {
		p.logger.Debug("policy demand refused",
			zap.String("principal", principal.Name()),
			zap.String("oid", oid),
			zap.Stringer("grant", grant),
		)
		return auth.NewPolicyViolation(principal, oid)
	}
	return nil
}

// AddPolicies records grant on each oid for subject, replacing any grant the
// subject already held on it. Requires AlterPolicy.
func (p *InformationPoint) AddPolicies(ctx context.Context, subject string, grant auth.Grant, oids []string, acting *auth.Principal) error {
	if err := p.Demand(ctx, acting, auth.PolicyAlterPolicy); err != nil {
		return err
	}
	if err := p.validateOIDs(ctx, oids); err != nil {
		return err
	}
	for _, oid := range oids {
		if err := p.setGrant(subject, oid, grant); err != nil {
			return err
		}
	}
	p.logger.Info("grants added",
		zap.String("subject", subject),
		zap.Stringer("grant", grant),
		zap.Strings("oids", oids),
		zap.String("by", acting.Name()),
	)
	return nil
}

// RemovePolicies removes every grant subject holds on the given oids.
// Requires AlterPolicy.
func (p *InformationPoint) RemovePolicies(ctx context.Context, subject string, oids []string, acting *auth.Principal) error {
	if err := p.Demand(ctx, acting, auth.PolicyAlterPolicy); err != nil {
		return err
	}
	for _, oid := range oids {
		if _, err := p.enforcer.RemoveFilteredPolicy(0, subject, oid); err != nil {
			return fmt.Errorf("remove grant %s on %s: %w", subject, oid, err)
		}
	}
	p.logger.Info("grants removed", zap.String("subject", subject), zap.Strings("oids", oids), zap.String("by", acting.Name()))
	return nil
}

// GetSubjectPolicies returns the grants held directly by subject, ordered
// by OID.
func (p *InformationPoint) GetSubjectPolicies(ctx context.Context, subject string) ([]SubjectGrant, error) {
	rules, err := p.enforcer.GetFilteredPolicy(0, subject)
	if err != nil {
		return nil, fmt.Errorf("load grants for %s: %w", subject, err)
	}
	out := make([]SubjectGrant, 0, len(rules))
	for _, rule := range rules {
		if len(rule) < 3 {
			continue
		}
		g, err := auth.ParseGrant(rule[2])
		if err != nil {
			continue
		}
		out = append(out, SubjectGrant{Subject: subject, OID: rule[1], Grant: g})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID < out[j].OID })
	return out, nil
}

// CopyGrants gives to a copy of every grant held directly by from. Callers
// check the policy that authorizes the copy.
func (p *InformationPoint) CopyGrants(ctx context.Context, from, to string) error {
	grants, err := p.GetSubjectPolicies(ctx, from)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if err := p.setGrant(to, g.OID, g.Grant); err != nil {
			return err
		}
	}
	return nil
}

func (p *InformationPoint) setGrant(subject, oid string, grant auth.Grant) error {
	if _, err := p.enforcer.RemoveFilteredPolicy(0, subject, oid); err != nil {
		return fmt.Errorf("replace grant %s on %s: %w", subject, oid, err)
	}
	if _, err := p.enforcer.AddPolicy(subject, oid, grant.String()); err != nil {
		return fmt.Errorf("add grant %s on %s: %w", subject, oid, err)
	}
	return nil
}

func (p *InformationPoint) validateOIDs(ctx context.Context, oids []string) error {
	if len(oids) == 0 {
		return fmt.Errorf("at least one policy oid is required")
	}
	for _, oid := range oids {
		policy, err := p.GetPolicy(ctx, oid)
		if err != nil {
			return err
		}
		if policy == nil {
			return fmt.Errorf("policy %s: %w", oid, repository.ErrNotFound)
		}
	}
	return nil
}
