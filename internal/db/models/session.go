package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Session binds one or more identities for a validity window.
// Only the SHA-256 hash of the refresh token is stored.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID               string     `bun:"id,pk,type:uuid"`
	RefreshTokenHash string     `bun:"refresh_token_hash,notnull,unique"`
	NotBefore        time.Time  `bun:"not_before,notnull"`
	NotAfter         time.Time  `bun:"not_after,notnull"`
	LongLived        bool       `bun:"long_lived,notnull,default:false"`
	ClientAddress    string     `bun:"client_address,notnull,default:''"`
	PurposeOfUse     string     `bun:"purpose_of_use,notnull,default:''"`
	Language         string     `bun:"language,notnull,default:''"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	RefreshedAt      *time.Time `bun:"refreshed_at"`
	AbandonedAt      *time.Time `bun:"abandoned_at"`

	Claims []SessionClaim `bun:"rel:has-many,join:id=session_id"`
}

// IsAbandoned reports whether the session was abandoned.
func (s *Session) IsAbandoned() bool {
	return s != nil && s.AbandonedAt != nil
}

// SessionClaim is one claim of a session, kept in insertion order by Seq.
type SessionClaim struct {
	bun.BaseModel `bun:"table:session_claims,alias:sc"`

	SessionID string `bun:"session_id,pk,type:uuid"`
	Seq       int    `bun:"seq,pk,type:integer,notnull"`
	Type      string `bun:"claim_type,notnull,type:varchar(255)"`
	Value     string `bun:"claim_value,notnull"`
}
