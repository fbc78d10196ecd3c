package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// BunCertificateRepository implements CertificateRepository using Bun ORM
type BunCertificateRepository struct {
	db bun.IDB
}

// NewBunCertificateRepository creates a new Bun-based certificate repository
func NewBunCertificateRepository(db bun.IDB) *BunCertificateRepository {
	return &BunCertificateRepository{db: db}
}

// Create inserts a certificate mapping
func (r *BunCertificateRepository) Create(ctx context.Context, m *models.CertificateMap) error {
	_, err := r.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("certificate %s: %w", m.Thumbprint, ErrAlreadyExists)
		}
		return fmt.Errorf("create certificate map: %w", err)
	}
	return nil
}

// GetActiveByThumbprint retrieves the active mapping for a thumbprint
func (r *BunCertificateRepository) GetActiveByThumbprint(ctx context.Context, thumbprint string) (*models.CertificateMap, error) {
	m := new(models.CertificateMap)
	err := r.db.NewSelect().
		Model(m).
		Where("thumbprint = ?", thumbprint).
		Where("obsoleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("certificate %s: %w", thumbprint, ErrNotFound)
		}
		return nil, fmt.Errorf("get certificate map: %w", err)
	}
	return m, nil
}

// GetLatestByThumbprint retrieves the newest mapping for a thumbprint, active or not
func (r *BunCertificateRepository) GetLatestByThumbprint(ctx context.Context, thumbprint string) (*models.CertificateMap, error) {
	m := new(models.CertificateMap)
	err := r.db.NewSelect().
		Model(m).
		Where("thumbprint = ?", thumbprint).
		Order("created_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("certificate %s: %w", thumbprint, ErrNotFound)
		}
		return nil, fmt.Errorf("get certificate map: %w", err)
	}
	return m, nil
}

// GetLatestActiveForIdentity retrieves the newest active mapping of an identity
func (r *BunCertificateRepository) GetLatestActiveForIdentity(ctx context.Context, sid string) (*models.CertificateMap, error) {
	m := new(models.CertificateMap)
	err := r.db.NewSelect().
		Model(m).
		Where("identity_sid = ?", sid).
		Where("obsoleted_at IS NULL").
		Order("created_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("certificate for identity %s: %w", sid, ErrNotFound)
		}
		return nil, fmt.Errorf("get identity certificate: %w", err)
	}
	return m, nil
}

// Obsolete deactivates the active mapping between an identity and a thumbprint
func (r *BunCertificateRepository) Obsolete(ctx context.Context, sid, thumbprint string, at time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.CertificateMap)(nil)).
		Set("obsoleted_at = ?", at).
		Where("identity_sid = ?", sid).
		Where("thumbprint = ?", thumbprint).
		Where("obsoleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("obsolete certificate map: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("obsolete certificate map: %w", err)
	}
	return n, nil
}
