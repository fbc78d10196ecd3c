package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// BunIdentityRepository implements IdentityRepository using Bun ORM
type BunIdentityRepository struct {
	db bun.IDB
}

// NewBunIdentityRepository creates a new Bun-based identity repository
func NewBunIdentityRepository(db bun.IDB) *BunIdentityRepository {
	return &BunIdentityRepository{db: db}
}

// Create inserts a new identity
func (r *BunIdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	_, err := r.db.NewInsert().Model(identity).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("identity %s %q: %w", identity.Kind, identity.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// GetByName retrieves a live identity by kind and case-insensitive name
func (r *BunIdentityRepository) GetByName(ctx context.Context, kind, name string) (*models.Identity, error) {
	identity := new(models.Identity)
	err := r.db.NewSelect().
		Model(identity).
		Where("kind = ?", kind).
		Where("lower(name) = lower(?)", name).
		Where("obsoleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("identity %s %q: %w", kind, name, ErrNotFound)
		}
		return nil, fmt.Errorf("get identity by name: %w", err)
	}
	return identity, nil
}

// GetBySID retrieves an identity by SID, including obsoleted identities
func (r *BunIdentityRepository) GetBySID(ctx context.Context, sid string) (*models.Identity, error) {
	identity := new(models.Identity)
	err := r.db.NewSelect().
		Model(identity).
		Where("sid = ?", sid).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("identity %s: %w", sid, ErrNotFound)
		}
		return nil, fmt.Errorf("get identity by sid: %w", err)
	}
	return identity, nil
}

// List retrieves live identities of a kind; an empty kind lists every kind
func (r *BunIdentityRepository) List(ctx context.Context, kind string) ([]models.Identity, error) {
	var identities []models.Identity
	q := r.db.NewSelect().
		Model(&identities).
		Where("obsoleted_at IS NULL").
		Order("kind", "name")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return identities, nil
}

// UpdateSecret replaces the secret hash of a live identity
func (r *BunIdentityRepository) UpdateSecret(ctx context.Context, sid, secretHash string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("secret_hash = ?", secretHash).
		Set("updated_at = ?", at).
		Where("sid = ?", sid).
		Where("obsoleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	return requireAffected(res, "identity "+sid)
}

// SetLocked sets or clears the lock flag. Clearing also resets the failure counter.
func (r *BunIdentityRepository) SetLocked(ctx context.Context, sid string, locked bool, at time.Time) error {
	q := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("locked = ?", locked).
		Set("updated_at = ?", at).
		Where("sid = ?", sid).
		Where("obsoleted_at IS NULL")
	if locked {
		q = q.Set("locked_at = ?", at)
	} else {
		q = q.Set("locked_at = NULL").Set("failed_attempts = 0")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("set locked: %w", err)
	}
	return requireAffected(res, "identity "+sid)
}

// Obsolete soft-deletes an identity
func (r *BunIdentityRepository) Obsolete(ctx context.Context, sid string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("obsoleted_at = ?", at).
		Set("updated_at = ?", at).
		Where("sid = ?", sid).
		Where("obsoleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("obsolete identity: %w", err)
	}
	return requireAffected(res, "identity "+sid)
}

// RecordFailure increments failed_attempts and applies the lock threshold in
// a single UPDATE ... RETURNING, so concurrent failures each observe a
// distinct count and exactly one of them flips the lock.
func (r *BunIdentityRepository) RecordFailure(ctx context.Context, sid string, threshold int, at time.Time) (*FailureResult, error) {
	var (
		attempts int
		locked   bool
	)
	err := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("failed_attempts = failed_attempts + 1").
		Set("locked = CASE WHEN ? > 0 AND failed_attempts + 1 >= ? THEN ? ELSE locked END", threshold, threshold, true).
		Set("locked_at = CASE WHEN locked = ? AND ? > 0 AND failed_attempts + 1 >= ? THEN ? ELSE locked_at END", false, threshold, threshold, at).
		Set("updated_at = ?", at).
		Where("sid = ?", sid).
		Where("obsoleted_at IS NULL").
		Returning("failed_attempts, locked").
		Scan(ctx, &attempts, &locked)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("identity %s: %w", sid, ErrNotFound)
		}
		return nil, fmt.Errorf("record failure: %w", err)
	}
	if attempts == 0 {
		return nil, fmt.Errorf("identity %s: %w", sid, ErrNotFound)
	}

	return &FailureResult{
		FailedAttempts: attempts,
		Locked:         locked,
		LockedNow:      locked && threshold > 0 && attempts == threshold,
	}, nil
}

// RecordSuccess resets the failure counter of a live, unlocked identity
func (r *BunIdentityRepository) RecordSuccess(ctx context.Context, sid string, at time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("failed_attempts = 0").
		Set("last_auth_at = ?", at).
		Where("sid = ?", sid).
		Where("locked = ?", false).
		Where("obsoleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("record success: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record success: %w", err)
	}
	return n > 0, nil
}
