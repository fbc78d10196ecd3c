package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/uptrace/bun"

	casbinbunadapter "github.com/santedb/santedb-server-sub007/internal/auth/bunadapter"
)

//go:embed model.conf
var casbinModelContent string

// InitEnforcer creates a Casbin enforcer over the shared *bun.DB.
//
// Policy grants are stored as p rules (subject, policy OID, grant) and role
// membership as g rules (identity subject, role subject). Auto-save is on so
// every mutation is persisted as it is made.
func InitEnforcer(db *bun.DB) (casbin.IEnforcer, error) {
	adapter, err := casbinbunadapter.NewAdapter(db)
	if err != nil {
		return nil, fmt.Errorf("create casbin adapter: %w", err)
	}

	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	enforcer.EnableAutoSave(true)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return enforcer, nil
}
