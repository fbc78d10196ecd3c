package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/auth/bunadapter"
	"github.com/santedb/santedb-server-sub007/internal/db/dbtest"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/migrations"
)

func TestMigrations_SeedData(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	var policies []models.Policy
	require.NoError(t, db.NewSelect().Model(&policies).Scan(ctx))
	assert.Len(t, policies, 13)

	clinical := new(models.Policy)
	require.NoError(t, db.NewSelect().Model(clinical).Where("oid = ?", auth.PolicyUnrestrictedClinicalData).Scan(ctx))
	assert.True(t, clinical.CanElevate)

	system := new(models.Identity)
	require.NoError(t, db.NewSelect().Model(system).Where("sid = ?", auth.SystemSID).Scan(ctx))
	assert.Equal(t, auth.SystemName, system.Name)
	assert.Empty(t, system.SecretHash)

	var roles []models.Role
	require.NoError(t, db.NewSelect().Model(&roles).Order("name").Scan(ctx))
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		migrations.RoleAdministrators,
		migrations.RoleApplications,
		migrations.RoleSynchronizers,
		migrations.RoleUsers,
	}, names)

	var rules []bunadapter.Rule
	require.NoError(t, db.NewSelect().Model(&rules).
		Where("v0 = ?", auth.SubjectFor(auth.KindUser, auth.SystemSID)).
		Scan(ctx))
	assert.Len(t, rules, 3)
	for _, r := range rules {
		assert.NotEqual(t, auth.PolicyUnrestrictedClinicalData, r.V1)
	}

	count, err := db.NewSelect().Model((*models.Challenge)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestMigrations_Rollback(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	group, err := migrator.Rollback(ctx)
	require.NoError(t, err)
	assert.NotZero(t, group.ID)

	_, err = db.NewSelect().Model((*models.Identity)(nil)).Count(ctx)
	assert.Error(t, err, "identities table should be gone after rollback")
}

func TestMigrations_LiveNameUniqueness(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	first := &models.Identity{SID: "0191f3c4-0000-7000-8000-00000000aaaa", Kind: "user", Name: "alice", CreatedBy: auth.SystemSID}
	_, err := db.NewInsert().Model(first).Exec(ctx)
	require.NoError(t, err)

	dup := &models.Identity{SID: "0191f3c4-0000-7000-8000-00000000bbbb", Kind: "user", Name: "ALICE", CreatedBy: auth.SystemSID}
	_, err = db.NewInsert().Model(dup).Exec(ctx)
	require.Error(t, err, "names are unique per kind regardless of case")

	otherKind := &models.Identity{SID: "0191f3c4-0000-7000-8000-00000000cccc", Kind: "device", Name: "alice", CreatedBy: auth.SystemSID}
	_, err = db.NewInsert().Model(otherKind).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewUpdate().Model((*models.Identity)(nil)).
		Set("obsoleted_at = CURRENT_TIMESTAMP").
		Where("sid = ?", first.SID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(dup).Exec(ctx)
	assert.NoError(t, err, "an obsoleted name can be reused")
}
