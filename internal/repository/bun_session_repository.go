package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// BunSessionRepository implements SessionRepository using Bun ORM
type BunSessionRepository struct {
	db bun.IDB
}

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db bun.IDB) *BunSessionRepository {
	return &BunSessionRepository{db: db}
}

// Create inserts a new session together with its claims
func (r *BunSessionRepository) Create(ctx context.Context, session *models.Session) error {
	for i := range session.Claims {
		session.Claims[i].SessionID = session.ID
		session.Claims[i].Seq = i
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(session).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("session %s: %w", session.ID, ErrAlreadyExists)
			}
			return fmt.Errorf("create session: %w", err)
		}
		if len(session.Claims) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&session.Claims).Exec(ctx); err != nil {
			return fmt.Errorf("create session claims: %w", err)
		}
		return nil
	})
}

func (r *BunSessionRepository) selectSession(session *models.Session) *bun.SelectQuery {
	return r.db.NewSelect().
		Model(session).
		Relation("Claims", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("seq")
		})
}

// GetByID retrieves a session and its claims by ID
func (r *BunSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	session := new(models.Session)
	err := r.selectSession(session).Where("s.id = ?", id).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetByRefreshHash retrieves a session by the hash of its current refresh token
func (r *BunSessionRepository) GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	session := new(models.Session)
	err := r.selectSession(session).Where("s.refresh_token_hash = ?", hash).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("session by refresh token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get session by refresh token: %w", err)
	}
	return session, nil
}

// Rotate swaps the refresh token hash and validity window in a single
// conditional UPDATE. A concurrent rotation or abandonment makes it lose.
func (r *BunSessionRepository) Rotate(ctx context.Context, id, oldHash, newHash string, notBefore, notAfter, at time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("refresh_token_hash = ?", newHash).
		Set("not_before = ?", notBefore).
		Set("not_after = ?", notAfter).
		Set("refreshed_at = ?", at).
		Where("id = ?", id).
		Where("refresh_token_hash = ?", oldHash).
		Where("abandoned_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	return n == 1, nil
}

// Abandon marks a session abandoned. Abandoning twice keeps the first timestamp.
func (r *BunSessionRepository) Abandon(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("abandoned_at = ?", at).
		Where("id = ?", id).
		Where("abandoned_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("abandon session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("abandon session: %w", err)
	}
	if n > 0 {
		return nil
	}

	exists, err := r.db.NewSelect().
		Model((*models.Session)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("abandon session: %w", err)
	}
	if !exists {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteExpired removes sessions whose validity ended before the cutoff.
// Claims go with them through ON DELETE CASCADE.
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("not_after < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}
