package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// BunPolicyRepository implements PolicyRepository using Bun ORM
type BunPolicyRepository struct {
	db bun.IDB
}

// NewBunPolicyRepository creates a new Bun-based policy repository
func NewBunPolicyRepository(db bun.IDB) *BunPolicyRepository {
	return &BunPolicyRepository{db: db}
}

// Create inserts a catalog policy
func (r *BunPolicyRepository) Create(ctx context.Context, p *models.Policy) error {
	if _, err := r.db.NewInsert().Model(p).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy %s: %w", p.OID, ErrAlreadyExists)
		}
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

// GetByOID retrieves a catalog policy
func (r *BunPolicyRepository) GetByOID(ctx context.Context, oid string) (*models.Policy, error) {
	p := new(models.Policy)
	if err := r.db.NewSelect().Model(p).Where("oid = ?", oid).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("policy %s: %w", oid, ErrNotFound)
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// List returns the catalog ordered by OID
func (r *BunPolicyRepository) List(ctx context.Context) ([]models.Policy, error) {
	var policies []models.Policy
	if err := r.db.NewSelect().Model(&policies).Order("oid").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db bun.IDB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db bun.IDB) *BunRoleRepository {
	return &BunRoleRepository{db: db}
}

// Create inserts role metadata
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	if _, err := r.db.NewInsert().Model(role).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %s: %w", role.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// GetByName retrieves role metadata; names are stored upper-case
func (r *BunRoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	role := new(models.Role)
	if err := r.db.NewSelect().Model(role).Where("name = upper(?)", name).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("role %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// List returns every role ordered by name
func (r *BunRoleRepository) List(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.NewSelect().Model(&roles).Order("name").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
