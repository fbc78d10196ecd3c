package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/auth/bunadapter"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

type tableSpec struct {
	name        string
	model       any
	foreignKeys []string
	indexes     []string
}

var trustTables = []tableSpec{
	{
		name:  "identities",
		model: (*models.Identity)(nil),
		indexes: []string{
			// Names are unique per kind (case-insensitive) among live identities.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_kind_name ON identities (kind, lower(name)) WHERE obsoleted_at IS NULL`,
		},
	},
	{
		name:        "identity_claims",
		model:       (*models.IdentityClaim)(nil),
		foreignKeys: []string{`("identity_sid") REFERENCES "identities" ("sid") ON DELETE CASCADE`},
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_identity_claims_sid_type ON identity_claims (identity_sid, claim_type)`,
		},
	},
	{
		name:        "certificate_maps",
		model:       (*models.CertificateMap)(nil),
		foreignKeys: []string{`("identity_sid") REFERENCES "identities" ("sid") ON DELETE CASCADE`},
		indexes: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_certificate_maps_active_thumbprint ON certificate_maps (thumbprint) WHERE obsoleted_at IS NULL`,
			`CREATE INDEX IF NOT EXISTS idx_certificate_maps_identity ON certificate_maps (identity_sid)`,
		},
	},
	{
		name:  "challenges",
		model: (*models.Challenge)(nil),
	},
	{
		name:  "challenge_responses",
		model: (*models.ChallengeResponse)(nil),
		foreignKeys: []string{
			`("identity_sid") REFERENCES "identities" ("sid") ON DELETE CASCADE`,
			`("challenge_id") REFERENCES "challenges" ("id") ON DELETE CASCADE`,
		},
	},
	{
		name:  "sessions",
		model: (*models.Session)(nil),
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_not_after ON sessions (not_after)`,
		},
	},
	{
		name:        "session_claims",
		model:       (*models.SessionClaim)(nil),
		foreignKeys: []string{`("session_id") REFERENCES "sessions" ("id") ON DELETE CASCADE`},
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_session_claims_type_value ON session_claims (claim_type, claim_value)`,
		},
	},
	{
		name:  "policies",
		model: (*models.Policy)(nil),
	},
	{
		name:  "roles",
		model: (*models.Role)(nil),
	},
	{
		name:  "policy_rules",
		model: (*bunadapter.Rule)(nil),
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_policy_rules_subject ON policy_rules (ptype, v0)`,
		},
	},
}

// up_20261001000000 creates the identity, certificate, challenge, session,
// policy and casbin rule tables
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	for _, t := range trustTables {
		fmt.Printf(" [up] creating %s table...", t.name)
		q := db.NewCreateTable().Model(t.model).IfNotExists()
		for _, fk := range t.foreignKeys {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
		for _, idx := range t.indexes {
			if _, err := db.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("failed to create %s index: %w", t.name, err)
			}
		}
		fmt.Println(" OK")
	}
	return nil
}

// down_20261001000000 drops the tables in reverse dependency order
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	for i := len(trustTables) - 1; i >= 0; i-- {
		t := trustTables[i]
		fmt.Printf(" [down] dropping %s table...", t.name)
		q := db.NewDropTable().Model(t.model).IfExists()
		if IsPostgreSQL(db) {
			q = q.Cascade()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", t.name, err)
		}
		fmt.Println(" OK")
	}
	return nil
}
