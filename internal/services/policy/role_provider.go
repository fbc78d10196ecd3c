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
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
)

// Role is role metadata.
type Role struct {
	Name        string
	Description string
	CreatedAt   time.Time
}

// Demander checks that a principal holds a policy.
type Demander interface {
	Demand(ctx context.Context, principal *auth.Principal, oid string) error
}

// RoleDependencies for RoleProvider construction.
type RoleDependencies struct {
	Roles      repository.RoleRepository
	Identities repository.IdentityRepository
	Enforcer   casbin.IEnforcer
	PDP        Demander
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// RoleProvider manages roles and user membership. Membership lives in casbin
// g rules keyed by identity SID, so renaming never orphans a membership.
type RoleProvider struct {
	roles      repository.RoleRepository
	identities repository.IdentityRepository
	enforcer   casbin.IEnforcer
	pdp        Demander
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewRoleProvider creates a RoleProvider.
func NewRoleProvider(deps RoleDependencies) *RoleProvider {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoleProvider{
		roles:      deps.Roles,
		identities: deps.Identities,
		enforcer:   deps.Enforcer,
		pdp:        deps.PDP,
		clock:      clock,
		logger:     logging.OrNop(deps.Logger).Named("roles"),
	}
}

func roleFromModel(m *models.Role) Role {
	return Role{Name: m.Name, Description: m.Description, CreatedAt: m.CreatedAt}
}

// CreateRole adds a role. Requires CreateRoles.
func (r *RoleProvider) CreateRole(ctx context.Context, name, description string, acting *auth.Principal) (*Role, error) {
	if err := r.pdp.Demand(ctx, acting, auth.PolicyCreateRoles); err != nil {
		return nil, err
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}

	row := &models.Role{Name: name, Description: description, CreatedAt: r.clock.Now().UTC()}
	if err := r.roles.Create(ctx, row); err != nil {
		return nil, err
	}
	r.logger.Info("role created", zap.String("role", name), zap.String("by", acting.Name()))
	out := roleFromModel(row)
	return &out, nil
}

// GetRole returns a role, or nil when it does not exist.
func (r *RoleProvider) GetRole(ctx context.Context, name string) (*Role, error) {
	row, err := r.roles.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := roleFromModel(row)
	return &out, nil
}

// GetAllRoles returns every role ordered by name.
func (r *RoleProvider) GetAllRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.roles.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(rows))
	for i := range rows {
		out = append(out, roleFromModel(&rows[i]))
	}
	return out, nil
}

// GetRolesForUser returns the names of the roles a user belongs to directly.
// An unknown user has no roles.
func (r *RoleProvider) GetRolesForUser(ctx context.Context, userName string) ([]string, error) {
	user, err := r.identities.GetByName(ctx, string(auth.KindUser), userName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.RolesForSubject(auth.SubjectFor(auth.KindUser, user.SID))
}

// RolesForSubject returns the role names a subject belongs to directly.
func (r *RoleProvider) RolesForSubject(subject string) ([]string, error) {
	subjects, err := r.enforcer.GetRolesForUser(subject)
	if err != nil {
		return nil, fmt.Errorf("get roles for %s: %w", subject, err)
	}
	var out []string
	for _, s := range subjects {
		if name, ok := auth.RoleName(s); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

type membership struct {
	user    string
	subject string
	role    string
}

// resolve validates every user and role before any membership is touched.
func (r *RoleProvider) resolve(ctx context.Context, userNames, roleNames []string) ([]membership, error) {
	if len(userNames) == 0 || len(roleNames) == 0 {
		return nil, fmt.Errorf("at least one user and one role are required")
	}

	roles := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		role, err := r.roles.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role.Name)
	}

	var out []membership
	for _, name := range userNames {
		user, err := r.identities.GetByName(ctx, string(auth.KindUser), name)
		if err != nil {
			return nil, err
		}
		subject := auth.SubjectFor(auth.KindUser, user.SID)
		for _, role := range roles {
			out = append(out, membership{user: user.Name, subject: subject, role: role})
		}
	}
	return out, nil
}

// AddUsersToRoles adds every user to every role. Requires AlterRoles.
// Existing memberships are left as they are.
func (r *RoleProvider) AddUsersToRoles(ctx context.Context, userNames, roleNames []string, acting *auth.Principal) error {
	if err := r.pdp.Demand(ctx, acting, auth.PolicyAlterRoles); err != nil {
		return err
	}
	members, err := r.resolve(ctx, userNames, roleNames)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := r.AddSubjectToRole(ctx, m.subject, m.role); err != nil {
			return err
		}
	}
	r.logger.Info("users added to roles", zap.Strings("users", userNames), zap.Strings("roles", roleNames), zap.String("by", acting.Name()))
	return nil
}

// RemoveUsersFromRoles removes every user from every role. Requires
// AlterRoles. Nothing is removed unless every membership exists.
func (r *RoleProvider) RemoveUsersFromRoles(ctx context.Context, userNames, roleNames []string, acting *auth.Principal) error {
	if err := r.pdp.Demand(ctx, acting, auth.PolicyAlterRoles); err != nil {
		return err
	}
	members, err := r.resolve(ctx, userNames, roleNames)
	if err != nil {
		return err
	}
	for _, m := range members {
		ok, err := r.enforcer.HasRoleForUser(m.subject, auth.RoleSubject(m.role))
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return fmt.Errorf("membership %s in %s: %w", m.user, m.role, repository.ErrNotFound)
		}
	}
	for _, m := range members {
		if _, err := r.enforcer.DeleteRoleForUser(m.subject, auth.RoleSubject(m.role)); err != nil {
			return fmt.Errorf("remove %s from %s: %w", m.user, m.role, err)
		}
	}
	r.logger.Info("users removed from roles", zap.Strings("users", userNames), zap.Strings("roles", roleNames), zap.String("by", acting.Name()))
	return nil
}

// IsUserInRole reports whether a user belongs to a role directly.
func (r *RoleProvider) IsUserInRole(ctx context.Context, userName, roleName string) (bool, error) {
	user, err := r.identities.GetByName(ctx, string(auth.KindUser), userName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	ok, err := r.enforcer.HasRoleForUser(auth.SubjectFor(auth.KindUser, user.SID), auth.RoleSubject(roleName))
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// AddSubjectToRole adds any identity subject to an existing role. Callers
// check the policy that authorizes the change.
func (r *RoleProvider) AddSubjectToRole(ctx context.Context, subject, roleName string) error {
	role, err := r.roles.GetByName(ctx, roleName)
	if err != nil {
		return err
	}
	if _, err := r.enforcer.AddRoleForUser(subject, auth.RoleSubject(role.Name)); err != nil {
		return fmt.Errorf("add %s to %s: %w", subject, role.Name, err)
	}
	return nil
}
