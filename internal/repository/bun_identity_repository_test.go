package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/bunx"
	"github.com/santedb/santedb-server-sub007/internal/db/dbtest"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func createTestIdentity(t *testing.T, repo IdentityRepository, kind, name string) *models.Identity {
	t.Helper()

	identity := &models.Identity{
		SID:        bunx.NewUUIDv7(),
		Kind:       kind,
		Name:       name,
		SecretHash: "hash",
		CreatedAt:  testNow,
		CreatedBy:  auth.SystemSID,
		UpdatedAt:  testNow,
	}
	require.NoError(t, repo.Create(context.Background(), identity))
	return identity
}

func TestBunIdentityRepository_CRUD(t *testing.T) {
	db := dbtest.New(t)
	repo := NewBunIdentityRepository(db)
	ctx := context.Background()

	alice := createTestIdentity(t, repo, "user", "alice")

	t.Run("get by name is case-insensitive", func(t *testing.T) {
		got, err := repo.GetByName(ctx, "user", "ALICE")
		require.NoError(t, err)
		assert.Equal(t, alice.SID, got.SID)
		assert.Equal(t, "alice", got.Name)
	})

	t.Run("get by name respects kind", func(t *testing.T) {
		_, err := repo.GetByName(ctx, "device", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate live name", func(t *testing.T) {
		dup := &models.Identity{SID: bunx.NewUUIDv7(), Kind: "user", Name: "Alice", CreatedBy: auth.SystemSID, CreatedAt: testNow, UpdatedAt: testNow}
		err := repo.Create(ctx, dup)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("update secret", func(t *testing.T) {
		require.NoError(t, repo.UpdateSecret(ctx, alice.SID, "new-hash", testNow))
		got, err := repo.GetBySID(ctx, alice.SID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.SecretHash)
	})

	t.Run("list filters by kind", func(t *testing.T) {
		createTestIdentity(t, repo, "device", "dev-list")
		users, err := repo.List(ctx, "user")
		require.NoError(t, err)
		for _, u := range users {
			assert.Equal(t, "user", u.Kind)
		}
		all, err := repo.List(ctx, "")
		require.NoError(t, err)
		assert.Greater(t, len(all), len(users))
	})

	t.Run("obsolete hides from name lookup but not sid lookup", func(t *testing.T) {
		bob := createTestIdentity(t, repo, "user", "bob")
		require.NoError(t, repo.Obsolete(ctx, bob.SID, testNow))

		_, err := repo.GetByName(ctx, "user", "bob")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := repo.GetBySID(ctx, bob.SID)
		require.NoError(t, err)
		assert.True(t, got.IsObsolete())

		assert.ErrorIs(t, repo.Obsolete(ctx, bob.SID, testNow), ErrNotFound)
		assert.ErrorIs(t, repo.UpdateSecret(ctx, bob.SID, "x", testNow), ErrNotFound)
	})

	t.Run("unknown sid", func(t *testing.T) {
		_, err := repo.GetBySID(ctx, bunx.NewUUIDv7())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBunIdentityRepository_Lockout(t *testing.T) {
	db := dbtest.New(t)
	repo := NewBunIdentityRepository(db)
	ctx := context.Background()

	t.Run("locks exactly at threshold", func(t *testing.T) {
		id := createTestIdentity(t, repo, "user", "lock-threshold")

		for i := 1; i <= 2; i++ {
			res, err := repo.RecordFailure(ctx, id.SID, 3, testNow)
			require.NoError(t, err)
			assert.Equal(t, i, res.FailedAttempts)
			assert.False(t, res.Locked)
			assert.False(t, res.LockedNow)
		}

		res, err := repo.RecordFailure(ctx, id.SID, 3, testNow)
		require.NoError(t, err)
		assert.Equal(t, 3, res.FailedAttempts)
		assert.True(t, res.Locked)
		assert.True(t, res.LockedNow)

		res, err = repo.RecordFailure(ctx, id.SID, 3, testNow)
		require.NoError(t, err)
		assert.True(t, res.Locked)
		assert.False(t, res.LockedNow, "only the crossing increment reports the transition")

		got, err := repo.GetBySID(ctx, id.SID)
		require.NoError(t, err)
		assert.True(t, got.Locked)
		require.NotNil(t, got.LockedAt)
	})

	t.Run("zero threshold never locks", func(t *testing.T) {
		id := createTestIdentity(t, repo, "user", "lock-disabled")
		for i := 0; i < 10; i++ {
			res, err := repo.RecordFailure(ctx, id.SID, 0, testNow)
			require.NoError(t, err)
			assert.False(t, res.Locked)
		}
	})

	t.Run("success resets only when unlocked", func(t *testing.T) {
		id := createTestIdentity(t, repo, "user", "lock-success")

		_, err := repo.RecordFailure(ctx, id.SID, 2, testNow)
		require.NoError(t, err)
		ok, err := repo.RecordSuccess(ctx, id.SID, testNow)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetBySID(ctx, id.SID)
		require.NoError(t, err)
		assert.Zero(t, got.FailedAttempts)
		require.NotNil(t, got.LastAuthAt)

		require.NoError(t, repo.SetLocked(ctx, id.SID, true, testNow))
		ok, err = repo.RecordSuccess(ctx, id.SID, testNow)
		require.NoError(t, err)
		assert.False(t, ok, "a locked identity must not be reset")
	})

	t.Run("unlock clears counter", func(t *testing.T) {
		id := createTestIdentity(t, repo, "user", "lock-clear")
		for i := 0; i < 3; i++ {
			_, err := repo.RecordFailure(ctx, id.SID, 3, testNow)
			require.NoError(t, err)
		}
		require.NoError(t, repo.SetLocked(ctx, id.SID, false, testNow))

		got, err := repo.GetBySID(ctx, id.SID)
		require.NoError(t, err)
		assert.False(t, got.Locked)
		assert.Nil(t, got.LockedAt)
		assert.Zero(t, got.FailedAttempts)
	})

	t.Run("concurrent failures lock once", func(t *testing.T) {
		id := createTestIdentity(t, repo, "user", "lock-concurrent")

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			lockedNow int
			counts    = map[int]bool{}
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := repo.RecordFailure(ctx, id.SID, 5, testNow)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				counts[res.FailedAttempts] = true
				if res.LockedNow {
					lockedNow++
				}
			}()
		}
		wg.Wait()

		assert.Len(t, counts, workers, "every increment observes a distinct count")
		assert.Equal(t, 1, lockedNow)
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, err := repo.RecordFailure(ctx, bunx.NewUUIDv7(), 3, testNow)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBunIdentityRepository_RecordFailurePostgres(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	repo := NewBunIdentityRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE "identities" .*failed_attempts = failed_attempts \+ 1.*RETURNING failed_attempts, locked`).
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked"}).AddRow(5, true))

	res, err := repo.RecordFailure(ctx, "0191f3c4-0000-7000-8000-000000000001", 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, res.FailedAttempts)
	assert.True(t, res.LockedNow)

	mock.ExpectQuery(`UPDATE "identities"`).WillReturnError(errors.New("connection reset"))
	_, err = repo.RecordFailure(ctx, "0191f3c4-0000-7000-8000-000000000001", 5, testNow)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
