package repository

import (
	"context"
	"time"

	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// FailureResult is the counter state after an atomic failure increment.
type FailureResult struct {
	FailedAttempts int
	Locked         bool
	// LockedNow is true when this increment flipped the identity to locked.
	LockedNow bool
}

// IdentityRepository exposes persistence operations for the credential store.
//
// Lookups by name only see live identities; lookups by SID also return
// obsoleted ones so historical references stay resolvable.
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) error
	GetByName(ctx context.Context, kind, name string) (*models.Identity, error)
	GetBySID(ctx context.Context, sid string) (*models.Identity, error)
	List(ctx context.Context, kind string) ([]models.Identity, error)
	UpdateSecret(ctx context.Context, sid, secretHash string, at time.Time) error
	SetLocked(ctx context.Context, sid string, locked bool, at time.Time) error
	Obsolete(ctx context.Context, sid string, at time.Time) error

	// RecordFailure increments the failure counter and locks the identity
	// when the new count reaches threshold, in one statement.
	RecordFailure(ctx context.Context, sid string, threshold int, at time.Time) (*FailureResult, error)

	// RecordSuccess resets the failure counter if the identity is still live
	// and unlocked. It reports false when the guard did not match.
	RecordSuccess(ctx context.Context, sid string, at time.Time) (bool, error)
}

// ClaimRepository exposes persistence operations for identity claims.
type ClaimRepository interface {
	Add(ctx context.Context, claim *models.IdentityClaim) error
	RemoveByType(ctx context.Context, sid, claimType string) (int64, error)
	ListBySID(ctx context.Context, sid string) ([]models.IdentityClaim, error)
}

// CertificateRepository exposes persistence operations for certificate maps.
type CertificateRepository interface {
	Create(ctx context.Context, m *models.CertificateMap) error
	// GetActiveByThumbprint returns the active mapping for a thumbprint.
	GetActiveByThumbprint(ctx context.Context, thumbprint string) (*models.CertificateMap, error)
	// GetLatestByThumbprint returns the newest mapping, active or not.
	GetLatestByThumbprint(ctx context.Context, thumbprint string) (*models.CertificateMap, error)
	// GetLatestActiveForIdentity returns the newest active mapping of an identity.
	GetLatestActiveForIdentity(ctx context.Context, sid string) (*models.CertificateMap, error)
	Obsolete(ctx context.Context, sid, thumbprint string, at time.Time) (int64, error)
}

// ChallengeRepository exposes persistence operations for the challenge
// catalog and per-identity responses.
type ChallengeRepository interface {
	List(ctx context.Context) ([]models.Challenge, error)
	GetByID(ctx context.Context, id string) (*models.Challenge, error)
	UpsertResponse(ctx context.Context, r *models.ChallengeResponse) error
	GetResponse(ctx context.Context, sid, challengeID string) (*models.ChallengeResponse, error)
	ListResponses(ctx context.Context, sid string) ([]models.ChallengeResponse, error)
	DeleteResponse(ctx context.Context, sid, challengeID string) (int64, error)
}

// SessionRepository exposes persistence operations for sessions.
type SessionRepository interface {
	// Create inserts the session and its claims in one transaction.
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error)

	// Rotate swaps the refresh token hash if it still equals oldHash and the
	// session is not abandoned. It reports false when the swap lost.
	Rotate(ctx context.Context, id, oldHash, newHash string, notBefore, notAfter, at time.Time) (bool, error)

	// Abandon marks the session abandoned; already-abandoned sessions keep
	// their original timestamp.
	Abandon(ctx context.Context, id string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PolicyRepository exposes persistence operations for the policy catalog.
type PolicyRepository interface {
	Create(ctx context.Context, p *models.Policy) error
	GetByOID(ctx context.Context, oid string) (*models.Policy, error)
	List(ctx context.Context) ([]models.Policy, error)
}

// RoleRepository exposes persistence operations for role metadata.
type RoleRepository interface {
	Create(ctx context.Context, r *models.Role) error
	GetByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]models.Role, error)
}
