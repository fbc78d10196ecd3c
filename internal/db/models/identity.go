package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Identity is the credential store record shared by every identity provider.
// Names are unique per kind among identities that are not obsoleted.
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:i"`

	SID            string     `bun:"sid,pk,type:uuid"`
	Kind           string     `bun:"kind,notnull,type:varchar(16)"`
	Name           string     `bun:"name,notnull,type:varchar(255)"`
	SecretHash     string     `bun:"secret_hash,notnull,default:''"` // bcrypt; empty never verifies
	FailedAttempts int        `bun:"failed_attempts,notnull,default:0"`
	Locked         bool       `bun:"locked,notnull,default:false"`
	LockedAt       *time.Time `bun:"locked_at"`
	LastAuthAt     *time.Time `bun:"last_auth_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	CreatedBy      string     `bun:"created_by,notnull,type:uuid"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	ObsoletedAt    *time.Time `bun:"obsoleted_at"`
}

// IsObsolete reports whether the identity was deleted.
func (i *Identity) IsObsolete() bool {
	return i != nil && i.ObsoletedAt != nil
}

// IdentityClaim is one (type, value) claim stored against an identity.
type IdentityClaim struct {
	bun.BaseModel `bun:"table:identity_claims,alias:ic"`

	ID          string    `bun:"id,pk,type:uuid"`
	IdentitySID string    `bun:"identity_sid,notnull,type:uuid"`
	Type        string    `bun:"claim_type,notnull,type:varchar(255)"`
	Value       string    `bun:"claim_value,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// CertificateMap links an X.509 certificate (by SHA-256 thumbprint) to an identity.
// At most one mapping per thumbprint is active (obsoleted_at IS NULL).
type CertificateMap struct {
	bun.BaseModel `bun:"table:certificate_maps,alias:cm"`

	ID          string     `bun:"id,pk,type:uuid"`
	IdentitySID string     `bun:"identity_sid,notnull,type:uuid"`
	Thumbprint  string     `bun:"thumbprint,notnull,type:varchar(64)"`
	Subject     string     `bun:"subject,notnull"`
	NotBefore   time.Time  `bun:"not_before,notnull"`
	NotAfter    time.Time  `bun:"not_after,notnull"`
	RawDER      []byte     `bun:"raw_der,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	ObsoletedAt *time.Time `bun:"obsoleted_at"`
}

// Challenge is an entry in the system-wide security challenge catalog.
type Challenge struct {
	bun.BaseModel `bun:"table:challenges,alias:ch"`

	ID          string     `bun:"id,pk,type:uuid"`
	Text        string     `bun:"text,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	ObsoletedAt *time.Time `bun:"obsoleted_at"`
}

// ChallengeResponse stores the hashed answer of one identity to one challenge.
type ChallengeResponse struct {
	bun.BaseModel `bun:"table:challenge_responses,alias:cr"`

	IdentitySID string    `bun:"identity_sid,pk,type:uuid"`
	ChallengeID string    `bun:"challenge_id,pk,type:uuid"`
	AnswerHash  string    `bun:"answer_hash,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Challenge *Challenge `bun:"rel:belongs-to,join:challenge_id=id"`
}
