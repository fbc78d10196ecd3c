package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Policy is an entry in the global policy catalog.
type Policy struct {
	bun.BaseModel `bun:"table:policies,alias:p"`

	OID        string    `bun:"oid,pk,type:varchar(128)"`
	Name       string    `bun:"name,notnull,unique"`
	CanElevate bool      `bun:"can_elevate,notnull,default:false"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Role defines role metadata. Membership and grants live in policy_rules.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	Name        string    `bun:"name,pk,type:varchar(128)"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
