package challenge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/challenge"
	"github.com/santedb/santedb-server-sub007/internal/services/iam/iamtest"
)

const (
	petChallenge  = "0191f3c4-5a10-7000-8000-000000000001"
	cityChallenge = "0191f3c4-5a10-7000-8000-000000000002"
)

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Rex", "rex"},
		{"  Mr.   Whiskers \t", "mr. whiskers"},
		{"STRASSE", "strasse"},
		{"Ｒｅｘ", "rex"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, challenge.NormalizeAnswer(tt.in))
		})
	}
}

func TestService_Catalog(t *testing.T) {
	f := iamtest.New(t)
	catalog, err := f.Challenges.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 4)
	assert.Equal(t, petChallenge, catalog[0].ID)
	assert.NotEmpty(t, catalog[0].Text)
}

func TestService_SetGetRemove(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	f.CreateUser(t, "bob", "Hunter22!")
	alice := f.Login(t, "alice", "Passw0rd!")
	bob := f.Login(t, "bob", "Hunter22!")

	require.NoError(t, f.Challenges.Set(ctx, "alice", petChallenge, "Rex", alice))
	f.Clock.Advance(time.Minute)
	require.NoError(t, f.Challenges.Set(ctx, "alice", cityChallenge, "Lisbon", f.System))

	self, err := f.Challenges.Get(ctx, "alice", alice)
	require.NoError(t, err)
	require.Len(t, self, 2)
	assert.Equal(t, petChallenge, self[0].ChallengeID)
	assert.NotEmpty(t, self[0].Text)
	require.NotNil(t, self[0].ConfiguredAt)
	assert.True(t, self[0].ConfiguredAt.Equal(iamtest.Epoch))

	others, err := f.Challenges.Get(ctx, "alice", auth.AnonymousPrincipal())
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Nil(t, others[0].ConfiguredAt, "only the user sees when answers were set")

	unknown, err := f.Challenges.Get(ctx, "nobody", alice)
	require.NoError(t, err)
	assert.Empty(t, unknown)

	err = f.Challenges.Set(ctx, "alice", petChallenge, "Fido", bob)
	assert.ErrorIs(t, err, &auth.PolicyViolationError{PolicyOID: auth.PolicyAlterIdentity})
	err = f.Challenges.Set(ctx, "alice", petChallenge, "Fido", auth.AnonymousPrincipal())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	err = f.Challenges.Set(ctx, "alice", "0191f3c4-5a10-7000-8000-0000000000ff", "x", alice)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	err = f.Challenges.Set(ctx, "alice", petChallenge, "   ", alice)
	assert.ErrorIs(t, err, auth.ErrEmptySecret)

	require.NoError(t, f.Challenges.Remove(ctx, "alice", cityChallenge, alice))
	err = f.Challenges.Remove(ctx, "alice", cityChallenge, alice)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	remaining, err := f.Challenges.Get(ctx, "alice", alice)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, petChallenge, remaining[0].ChallengeID)
}

func TestIdentityService_Authenticate(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")
	require.NoError(t, f.Challenges.Set(ctx, "alice", petChallenge, "Mr. Whiskers", alice))

	p, err := f.ChallengeIdentity.Authenticate(ctx, "alice", petChallenge, "  mr.  WHISKERS ")
	require.NoError(t, err)
	assert.True(t, p.IsAuthenticated())
	assert.Equal(t, "alice", p.Name())
	assert.Equal(t, auth.MethodChallenge, p.UserIdentity().AuthenticationMethod())

	// A replaced answer no longer matches.
	require.NoError(t, f.Challenges.Set(ctx, "alice", petChallenge, "Rex", alice))
	_, err = f.ChallengeIdentity.Authenticate(ctx, "alice", petChallenge, "Mr. Whiskers")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	_, err = f.ChallengeIdentity.Authenticate(ctx, "alice", cityChallenge, "Lisbon")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential, "an unanswered challenge is a wrong answer")

	_, err = f.ChallengeIdentity.Authenticate(ctx, "nobody", petChallenge, "Rex")
	assert.ErrorIs(t, err, auth.ErrInvalidIdentity)
}

func TestIdentityService_SharesLockout(t *testing.T) {
	f := iamtest.New(t, iamtest.WithLockoutThreshold(3))
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	require.NoError(t, f.Challenges.Set(ctx, "alice", petChallenge, "Rex", f.System))

	_, err := f.Users.Authenticate(ctx, "alice", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredential)
	for i := 0; i < 2; i++ {
		_, err := f.ChallengeIdentity.Authenticate(ctx, "alice", petChallenge, "Fido")
		require.ErrorIs(t, err, auth.ErrInvalidCredential)
	}

	_, err = f.ChallengeIdentity.Authenticate(ctx, "alice", petChallenge, "Rex")
	assert.ErrorIs(t, err, auth.ErrLocked)
	_, err = f.Users.Authenticate(ctx, "alice", "Passw0rd!")
	assert.ErrorIs(t, err, auth.ErrLocked)
}
