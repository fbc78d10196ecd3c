package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/bunx"
	"github.com/santedb/santedb-server-sub007/internal/db/dbtest"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

func TestBunClaimRepository(t *testing.T) {
	db := dbtest.New(t)
	identities := NewBunIdentityRepository(db)
	repo := NewBunClaimRepository(db)
	ctx := context.Background()

	id := createTestIdentity(t, identities, "user", "claims")

	for i, v := range []string{"a", "b"} {
		require.NoError(t, repo.Add(ctx, &models.IdentityClaim{
			ID:          bunx.NewUUIDv7(),
			IdentitySID: id.SID,
			Type:        "department",
			Value:       v,
			CreatedAt:   testNow.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Add(ctx, &models.IdentityClaim{
		ID: bunx.NewUUIDv7(), IdentitySID: id.SID, Type: "email", Value: "c@example.org", CreatedAt: testNow.Add(time.Minute),
	}))

	claims, err := repo.ListBySID(ctx, id.SID)
	require.NoError(t, err)
	require.Len(t, claims, 3)
	assert.Equal(t, "a", claims[0].Value)
	assert.Equal(t, "b", claims[1].Value)

	n, err := repo.RemoveByType(ctx, id.SID, "DEPARTMENT")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	claims, err = repo.ListBySID(ctx, id.SID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "email", claims[0].Type)

	n, err = repo.RemoveByType(ctx, id.SID, "department")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBunCertificateRepository(t *testing.T) {
	db := dbtest.New(t)
	identities := NewBunIdentityRepository(db)
	repo := NewBunCertificateRepository(db)
	ctx := context.Background()

	owner := createTestIdentity(t, identities, "device", "cert-owner")
	other := createTestIdentity(t, identities, "device", "cert-other")

	newMap := func(sid, thumb string, created time.Time) *models.CertificateMap {
		return &models.CertificateMap{
			ID:          bunx.NewUUIDv7(),
			IdentitySID: sid,
			Thumbprint:  thumb,
			Subject:     "CN=" + thumb,
			NotBefore:   testNow.Add(-time.Hour),
			NotAfter:    testNow.Add(time.Hour),
			RawDER:      []byte{0x30, 0x00},
			CreatedAt:   created,
		}
	}

	require.NoError(t, repo.Create(ctx, newMap(owner.SID, "aa", testNow)))
	require.NoError(t, repo.Create(ctx, newMap(owner.SID, "bb", testNow.Add(time.Minute))))

	t.Run("active thumbprint is unique", func(t *testing.T) {
		err := repo.Create(ctx, newMap(other.SID, "aa", testNow))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("latest active for identity", func(t *testing.T) {
		m, err := repo.GetLatestActiveForIdentity(ctx, owner.SID)
		require.NoError(t, err)
		assert.Equal(t, "bb", m.Thumbprint)
	})

	t.Run("obsolete and lookups", func(t *testing.T) {
		n, err := repo.Obsolete(ctx, owner.SID, "bb", testNow)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = repo.GetActiveByThumbprint(ctx, "bb")
		assert.ErrorIs(t, err, ErrNotFound)

		latest, err := repo.GetLatestByThumbprint(ctx, "bb")
		require.NoError(t, err)
		assert.NotNil(t, latest.ObsoletedAt)

		m, err := repo.GetLatestActiveForIdentity(ctx, owner.SID)
		require.NoError(t, err)
		assert.Equal(t, "aa", m.Thumbprint)

		n, err = repo.Obsolete(ctx, owner.SID, "bb", testNow)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = repo.GetLatestActiveForIdentity(ctx, other.SID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revoked thumbprint can be remapped", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newMap(other.SID, "bb", testNow.Add(2*time.Minute))))
		m, err := repo.GetActiveByThumbprint(ctx, "bb")
		require.NoError(t, err)
		assert.Equal(t, other.SID, m.IdentitySID)
	})
}

func TestBunChallengeRepository(t *testing.T) {
	db := dbtest.New(t)
	identities := NewBunIdentityRepository(db)
	repo := NewBunChallengeRepository(db)
	ctx := context.Background()

	catalog, err := repo.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, catalog)
	challenge := catalog[0]

	got, err := repo.GetByID(ctx, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Text, got.Text)

	_, err = repo.GetByID(ctx, bunx.NewUUIDv7())
	assert.ErrorIs(t, err, ErrNotFound)

	user := createTestIdentity(t, identities, "user", "challenged")

	require.NoError(t, repo.UpsertResponse(ctx, &models.ChallengeResponse{
		IdentitySID: user.SID, ChallengeID: challenge.ID, AnswerHash: "first", UpdatedAt: testNow,
	}))
	require.NoError(t, repo.UpsertResponse(ctx, &models.ChallengeResponse{
		IdentitySID: user.SID, ChallengeID: challenge.ID, AnswerHash: "second", UpdatedAt: testNow.Add(time.Minute),
	}))

	resp, err := repo.GetResponse(ctx, user.SID, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.AnswerHash)

	responses, err := repo.ListResponses(ctx, user.SID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Challenge)
	assert.Equal(t, challenge.Text, responses[0].Challenge.Text)

	n, err := repo.DeleteResponse(ctx, user.SID, challenge.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetResponse(ctx, user.SID, challenge.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBunSessionRepository(t *testing.T) {
	db := dbtest.New(t)
	repo := NewBunSessionRepository(db)
	ctx := context.Background()

	newSession := func(hash string, notAfter time.Time) *models.Session {
		return &models.Session{
			ID:               bunx.NewUUIDv7(),
			RefreshTokenHash: hash,
			NotBefore:        testNow,
			NotAfter:         notAfter,
			CreatedAt:        testNow,
			Claims: []models.SessionClaim{
				{Type: auth.ClaimTypeSID, Value: "sid-1"},
				{Type: auth.ClaimTypeName, Value: "alice"},
				{Type: auth.ClaimTypeScope, Value: "*"},
			},
		}
	}

	s := newSession("hash-1", testNow.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, s))

	t.Run("claims keep insertion order", func(t *testing.T) {
		got, err := repo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, got.Claims, 3)
		assert.Equal(t, auth.ClaimTypeSID, got.Claims[0].Type)
		assert.Equal(t, auth.ClaimTypeName, got.Claims[1].Type)
		assert.Equal(t, auth.ClaimTypeScope, got.Claims[2].Type)
	})

	t.Run("rotate is compare-and-swap", func(t *testing.T) {
		nb, na := testNow.Add(time.Minute), testNow.Add(2*time.Hour)
		ok, err := repo.Rotate(ctx, s.ID, "hash-1", "hash-2", nb, na, nb)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Rotate(ctx, s.ID, "hash-1", "hash-3", nb, na, nb)
		require.NoError(t, err)
		assert.False(t, ok, "a spent hash must not rotate again")

		_, err = repo.GetByRefreshHash(ctx, "hash-1")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := repo.GetByRefreshHash(ctx, "hash-2")
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.True(t, got.NotAfter.Equal(na))
		require.NotNil(t, got.RefreshedAt)
	})

	t.Run("abandon is idempotent and blocks rotation", func(t *testing.T) {
		require.NoError(t, repo.Abandon(ctx, s.ID, testNow))
		require.NoError(t, repo.Abandon(ctx, s.ID, testNow.Add(time.Hour)))

		got, err := repo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.True(t, got.IsAbandoned())
		assert.True(t, got.AbandonedAt.Equal(testNow))

		ok, err := repo.Rotate(ctx, s.ID, "hash-2", "hash-4", testNow, testNow, testNow)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, repo.Abandon(ctx, bunx.NewUUIDv7(), testNow), ErrNotFound)
	})

	t.Run("delete expired cascades claims", func(t *testing.T) {
		old := newSession("hash-old", testNow.Add(-time.Minute))
		require.NoError(t, repo.Create(ctx, old))

		n, err := repo.DeleteExpired(ctx, testNow)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = repo.GetByID(ctx, old.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		count, err := db.NewSelect().Model((*models.SessionClaim)(nil)).Where("session_id = ?", old.ID).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestBunPolicyAndRoleRepository(t *testing.T) {
	db := dbtest.New(t)
	policies := NewBunPolicyRepository(db)
	roles := NewBunRoleRepository(db)
	ctx := context.Background()

	t.Run("seeded catalog", func(t *testing.T) {
		p, err := policies.GetByOID(ctx, auth.PolicyLogin)
		require.NoError(t, err)
		assert.False(t, p.CanElevate)

		all, err := policies.List(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, all)
	})

	t.Run("create policy", func(t *testing.T) {
		p := &models.Policy{OID: auth.PolicyUnrestrictedAll + ".99", Name: "Custom", CreatedAt: testNow}
		require.NoError(t, policies.Create(ctx, p))
		assert.ErrorIs(t, policies.Create(ctx, p), ErrAlreadyExists)

		_, err := policies.GetByOID(ctx, "1.2.3")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("roles", func(t *testing.T) {
		require.NoError(t, roles.Create(ctx, &models.Role{Name: "CLINICIANS", CreatedAt: testNow}))
		assert.ErrorIs(t, roles.Create(ctx, &models.Role{Name: "CLINICIANS", CreatedAt: testNow}), ErrAlreadyExists)

		r, err := roles.GetByName(ctx, "clinicians")
		require.NoError(t, err)
		assert.Equal(t, "CLINICIANS", r.Name)

		_, err = roles.GetByName(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := roles.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})
}
