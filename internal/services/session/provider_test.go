package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/iam/iamtest"
	"github.com/santedb/santedb-server-sub007/internal/services/session"
)

func establish(t *testing.T, f *iamtest.Fixture, p *auth.Principal, req session.Request) *session.Session {
	t.Helper()
	s, err := f.Sessions.Establish(context.Background(), p, req)
	require.NoError(t, err)
	return s
}

func TestProvider_Establish(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	user := f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	s := establish(t, f, alice, session.Request{
		ClientAddress: "10.0.0.7",
		PurposeOfUse:  "TREAT",
		Language:      "en",
	})
	assert.NotEmpty(t, s.ID)
	assert.Len(t, s.RefreshToken, 2*auth.TokenLength)
	assert.True(t, s.NotBefore.Equal(iamtest.Epoch))
	assert.Equal(t, f.Config.Security.SessionLifetime, s.NotAfter.Sub(s.NotBefore))
	assert.False(t, s.IsAbandoned())

	assert.Equal(t, []string{user.SID}, s.SIDs())
	require.NotNil(t, s.Claims.FindFirst(auth.ClaimTypeName))
	assert.Equal(t, "alice", s.Claims.FindFirst(auth.ClaimTypeName).Value)
	require.NotNil(t, s.Claims.FindFirst(auth.ClaimTypeScope))
	assert.Equal(t, "*", s.Claims.FindFirst(auth.ClaimTypeScope).Value)
	require.NotNil(t, s.Claims.FindFirst(session.ClaimTypePurposeOfUse))
	assert.Equal(t, "TREAT", s.Claims.FindFirst(session.ClaimTypePurposeOfUse).Value)

	got, err := f.Sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.RefreshToken, "the refresh token is never read back")
	assert.Equal(t, "10.0.0.7", got.ClientAddress)
	assert.Equal(t, s.Claims, got.Claims)

	missing, err := f.Sessions.Get(ctx, "0191f3c4-0000-7000-8000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProvider_Establish_Scopes(t *testing.T) {
	f := iamtest.New(t)
	f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	s := establish(t, f, alice, session.Request{Scopes: []string{"read", " ", "write"}, LongLived: true})
	var scopes []string
	for _, c := range s.Claims.OfKind(auth.ClaimKindScope) {
		scopes = append(scopes, c.Value)
	}
	assert.Equal(t, []string{"read", "write"}, scopes)
	assert.Equal(t, f.Config.Security.LongLivedSessionLifetime, s.NotAfter.Sub(s.NotBefore))
}

func TestProvider_Establish_RequiresLogin(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	user := f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	_, err := f.Sessions.Establish(ctx, auth.AnonymousPrincipal(), session.Request{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	bare := auth.NewPrincipal(alice.Identities()[0].Unauthenticated())
	_, err = f.Sessions.Establish(ctx, bare, session.Request{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	f.Grant(t, user.Subject(), auth.GrantDeny, auth.PolicyLogin)
	_, err = f.Sessions.Establish(ctx, alice, session.Request{})
	assert.ErrorIs(t, err, &auth.PolicyViolationError{PolicyOID: auth.PolicyLogin})
}

func TestProvider_Extend_Monotonic(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	s := establish(t, f, f.Login(t, "alice", "Passw0rd!"), session.Request{})

	// The clock has not moved; the window still moves forward.
	ext, err := f.Sessions.Extend(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, s.ID, ext.ID)
	assert.NotEqual(t, s.RefreshToken, ext.RefreshToken)
	assert.True(t, ext.NotBefore.After(s.NotBefore))
	assert.True(t, ext.NotAfter.After(s.NotAfter))
	require.NotNil(t, ext.RefreshedAt)

	_, err = f.Sessions.Extend(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, repository.ErrNotFound, "a rotated token is spent")

	f.Clock.Advance(10 * time.Minute)
	ext2, err := f.Sessions.Extend(ctx, ext.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ext2.NotBefore.Equal(iamtest.Epoch.Add(10*time.Minute)))
	assert.True(t, ext2.NotAfter.After(ext.NotAfter))

	stored, err := f.Sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.NotAfter.Equal(ext2.NotAfter))

	_, err = f.Sessions.Extend(ctx, "not-a-token")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProvider_Extend_TerminalStates(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	abandoned := establish(t, f, alice, session.Request{})
	require.NoError(t, f.Sessions.Abandon(ctx, abandoned.ID))
	_, err := f.Sessions.Extend(ctx, abandoned.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrSessionAbandoned)

	expired := establish(t, f, alice, session.Request{})
	f.Clock.Advance(f.Config.Security.SessionLifetime)
	_, err = f.Sessions.Extend(ctx, expired.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrSessionExpired, "the window closes at NotAfter")
}

func TestProvider_Abandon(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	s := establish(t, f, f.Login(t, "alice", "Passw0rd!"), session.Request{})

	require.NoError(t, f.Sessions.Abandon(ctx, s.ID))
	first, err := f.Sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, first.AbandonedAt)

	f.Clock.Advance(time.Minute)
	require.NoError(t, f.Sessions.Abandon(ctx, s.ID), "abandoning twice succeeds")
	second, err := f.Sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, first.AbandonedAt.Equal(*second.AbandonedAt))

	err = f.Sessions.Abandon(ctx, "0191f3c4-0000-7000-8000-000000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProvider_PurgeExpired(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	short := establish(t, f, alice, session.Request{})
	long := establish(t, f, alice, session.Request{LongLived: true})

	n, err := f.Sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.Clock.Advance(time.Hour)
	n, err = f.Sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := f.Sessions.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := f.Sessions.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
