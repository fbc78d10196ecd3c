package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// BunClaimRepository implements ClaimRepository using Bun ORM
type BunClaimRepository struct {
	db bun.IDB
}

// NewBunClaimRepository creates a new Bun-based claim repository
func NewBunClaimRepository(db bun.IDB) *BunClaimRepository {
	return &BunClaimRepository{db: db}
}

// Add stores a claim against an identity
func (r *BunClaimRepository) Add(ctx context.Context, claim *models.IdentityClaim) error {
	if _, err := r.db.NewInsert().Model(claim).Exec(ctx); err != nil {
		return fmt.Errorf("add claim: %w", err)
	}
	return nil
}

// RemoveByType deletes every claim of the given type (case-insensitive)
func (r *BunClaimRepository) RemoveByType(ctx context.Context, sid, claimType string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.IdentityClaim)(nil)).
		Where("identity_sid = ?", sid).
		Where("lower(claim_type) = lower(?)", claimType).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove claims: %w", err)
	}
	return n, nil
}

// ListBySID returns the claims of an identity in insertion order
func (r *BunClaimRepository) ListBySID(ctx context.Context, sid string) ([]models.IdentityClaim, error) {
	var claims []models.IdentityClaim
	err := r.db.NewSelect().
		Model(&claims).
		Where("identity_sid = ?", sid).
		Order("created_at", "id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return claims, nil
}
