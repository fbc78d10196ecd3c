package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/auth/bunadapter"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// Seeded role names.
const (
	RoleAdministrators = "ADMINISTRATORS"
	RoleUsers          = "USERS"
	RoleSynchronizers  = "SYNCHRONIZERS"
	RoleApplications   = "APPLICATIONS"
)

var seedPolicies = []models.Policy{
	{OID: auth.PolicyUnrestrictedAll, Name: "Unrestricted All"},
	{OID: auth.PolicyUnrestrictedAdministration, Name: "Unrestricted Administration"},
	{OID: auth.PolicyChangePassword, Name: "Change Password"},
	{OID: auth.PolicyCreateRoles, Name: "Create Roles"},
	{OID: auth.PolicyAlterRoles, Name: "Alter Roles"},
	{OID: auth.PolicyCreateIdentity, Name: "Create Identity"},
	{OID: auth.PolicyCreateDevice, Name: "Create Device"},
	{OID: auth.PolicyCreateApplication, Name: "Create Application"},
	{OID: auth.PolicyAlterIdentity, Name: "Alter Identity"},
	{OID: auth.PolicyAlterPolicy, Name: "Alter Policy"},
	{OID: auth.PolicyLogin, Name: "Login"},
	{OID: auth.PolicyUnrestrictedClinicalData, Name: "Unrestricted Clinical Data", CanElevate: true},
	{OID: auth.PolicyReadMetadata, Name: "Read Metadata"},
}

var seedRoles = []models.Role{
	{Name: RoleAdministrators, Description: "Administrative users"},
	{Name: RoleUsers, Description: "Interactive users"},
	{Name: RoleSynchronizers, Description: "Grant skeleton copied onto new devices"},
	{Name: RoleApplications, Description: "Grant skeleton copied onto new applications"},
}

// Seeded challenge ids are stable so deployments can reference them.
var seedChallenges = []models.Challenge{
	{ID: "0191f3c4-5a10-7000-8000-000000000001", Text: "What was the name of your first pet?"},
	{ID: "0191f3c4-5a10-7000-8000-000000000002", Text: "In what city were you born?"},
	{ID: "0191f3c4-5a10-7000-8000-000000000003", Text: "What was the make of your first car?"},
	{ID: "0191f3c4-5a10-7000-8000-000000000004", Text: "What is your favourite book?"},
}

func seedGrants() []*bunadapter.Rule {
	baseline := []string{auth.PolicyLogin, auth.PolicyReadMetadata}
	admin := append([]string{auth.PolicyUnrestrictedAdministration}, baseline...)

	grants := map[string][]string{
		auth.SubjectFor(auth.KindUser, auth.SystemSID): admin,
		auth.RoleSubject(RoleAdministrators):           admin,
		auth.RoleSubject(RoleUsers):                    baseline,
		auth.RoleSubject(RoleSynchronizers):            baseline,
		auth.RoleSubject(RoleApplications):             baseline,
	}

	var rules []*bunadapter.Rule
	for subject, oids := range grants {
		for _, oid := range oids {
			rules = append(rules, bunadapter.NewRule("p", subject, oid, auth.GrantGrant.String()))
		}
	}
	return rules
}

// up_20261001000001 seeds the policy catalog, the SYSTEM identity, default
// roles with their grants, and the challenge catalog
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	now := time.Now().UTC()

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		fmt.Print(" [up] seeding policy catalog...")
		for i := range seedPolicies {
			p := seedPolicies[i]
			p.CreatedAt = now
			if _, err := tx.NewInsert().Model(&p).On("CONFLICT (oid) DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("failed to seed policy %s: %w", p.OID, err)
			}
		}
		fmt.Println(" OK")

		fmt.Print(" [up] seeding system identity...")
		system := &models.Identity{
			SID:       auth.SystemSID,
			Kind:      string(auth.KindUser),
			Name:      auth.SystemName,
			CreatedAt: now,
			CreatedBy: auth.SystemSID,
			UpdatedAt: now,
		}
		if _, err := tx.NewInsert().Model(system).On("CONFLICT (sid) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed system identity: %w", err)
		}
		fmt.Println(" OK")

		fmt.Print(" [up] seeding default roles...")
		for i := range seedRoles {
			r := seedRoles[i]
			r.CreatedAt = now
			if _, err := tx.NewInsert().Model(&r).On("CONFLICT (name) DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("failed to seed role %s: %w", r.Name, err)
			}
		}
		for _, rule := range seedGrants() {
			if _, err := tx.NewInsert().Model(rule).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("failed to seed grant %s: %w", rule, err)
			}
		}
		fmt.Println(" OK")

		fmt.Print(" [up] seeding challenge catalog...")
		for i := range seedChallenges {
			c := seedChallenges[i]
			c.CreatedAt = now
			if _, err := tx.NewInsert().Model(&c).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("failed to seed challenge %s: %w", c.ID, err)
			}
		}
		fmt.Println(" OK")
		return nil
	})
}

// down_20261001000001 removes the seeded rows
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		fmt.Print(" [down] removing seed data...")
		for _, rule := range seedGrants() {
			if _, err := tx.NewDelete().Model((*bunadapter.Rule)(nil)).
				Where("ptype = ? AND v0 = ? AND v1 = ?", rule.Ptype, rule.V0, rule.V1).
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to remove grant %s: %w", rule, err)
			}
		}

		ids := make([]string, 0, len(seedChallenges))
		for _, c := range seedChallenges {
			ids = append(ids, c.ID)
		}
		if _, err := tx.NewDelete().Model((*models.Challenge)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove challenges: %w", err)
		}

		names := make([]string, 0, len(seedRoles))
		for _, r := range seedRoles {
			names = append(names, r.Name)
		}
		if _, err := tx.NewDelete().Model((*models.Role)(nil)).Where("name IN (?)", bun.In(names)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove roles: %w", err)
		}

		if _, err := tx.NewDelete().Model((*models.Identity)(nil)).Where("sid = ?", auth.SystemSID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove system identity: %w", err)
		}

		oids := make([]string, 0, len(seedPolicies))
		for _, p := range seedPolicies {
			oids = append(oids, p.OID)
		}
		if _, err := tx.NewDelete().Model((*models.Policy)(nil)).Where("oid IN (?)", bun.In(oids)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove policies: %w", err)
		}
		fmt.Println(" OK")
		return nil
	})
}
