package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// BunChallengeRepository implements ChallengeRepository using Bun ORM
type BunChallengeRepository struct {
	db bun.IDB
}

// NewBunChallengeRepository creates a new Bun-based challenge repository
func NewBunChallengeRepository(db bun.IDB) *BunChallengeRepository {
	return &BunChallengeRepository{db: db}
}

// List returns the active challenge catalog
func (r *BunChallengeRepository) List(ctx context.Context) ([]models.Challenge, error) {
	var challenges []models.Challenge
	err := r.db.NewSelect().
		Model(&challenges).
		Where("obsoleted_at IS NULL").
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	return challenges, nil
}

// GetByID retrieves an active challenge
func (r *BunChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	challenge := new(models.Challenge)
	err := r.db.NewSelect().
		Model(challenge).
		Where("id = ?", id).
		Where("obsoleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return challenge, nil
}

// UpsertResponse stores or replaces the answer of an identity to a challenge
func (r *BunChallengeRepository) UpsertResponse(ctx context.Context, resp *models.ChallengeResponse) error {
	_, err := r.db.NewInsert().
		Model(resp).
		On("CONFLICT (identity_sid, challenge_id) DO UPDATE").
		Set("answer_hash = EXCLUDED.answer_hash").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert challenge response: %w", err)
	}
	return nil
}

// GetResponse retrieves one stored answer
func (r *BunChallengeRepository) GetResponse(ctx context.Context, sid, challengeID string) (*models.ChallengeResponse, error) {
	resp := new(models.ChallengeResponse)
	err := r.db.NewSelect().
		Model(resp).
		Where("identity_sid = ?", sid).
		Where("challenge_id = ?", challengeID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("challenge response %s/%s: %w", sid, challengeID, ErrNotFound)
		}
		return nil, fmt.Errorf("get challenge response: %w", err)
	}
	return resp, nil
}

// ListResponses returns the answered challenges of an identity with their catalog entry
func (r *BunChallengeRepository) ListResponses(ctx context.Context, sid string) ([]models.ChallengeResponse, error) {
	var responses []models.ChallengeResponse
	err := r.db.NewSelect().
		Model(&responses).
		Relation("Challenge").
		Where("cr.identity_sid = ?", sid).
		Where("challenge.obsoleted_at IS NULL").
		Order("cr.challenge_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list challenge responses: %w", err)
	}
	return responses, nil
}

// DeleteResponse removes one stored answer
func (r *BunChallengeRepository) DeleteResponse(ctx context.Context, sid, challengeID string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.ChallengeResponse)(nil)).
		Where("identity_sid = ?", sid).
		Where("challenge_id = ?", challengeID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete challenge response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete challenge response: %w", err)
	}
	return n, nil
}
