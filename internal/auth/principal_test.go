package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_AuthenticationState(t *testing.T) {
	id := NewIdentity(KindUser, "sid-1", "alice", Claims{NameClaim("alice")})
	assert.False(t, id.IsAuthenticated())

	authed := MarkAuthenticated(id, MethodPassword)
	assert.True(t, authed.IsAuthenticated())
	assert.Equal(t, MethodPassword, authed.AuthenticationMethod())
	assert.False(t, id.IsAuthenticated(), "marking returns a copy")

	stripped := authed.Unauthenticated()
	assert.False(t, stripped.IsAuthenticated())
	assert.Empty(t, stripped.AuthenticationMethod())
	assert.Equal(t, authed.Claims, stripped.Claims)

	assert.Nil(t, MarkAuthenticated(nil, MethodPassword))
}

func TestIdentity_Is(t *testing.T) {
	id := NewIdentity(KindDevice, "sid", "DEV01", nil)
	assert.True(t, id.Is(KindDevice, "dev01"))
	assert.False(t, id.Is(KindUser, "DEV01"))
	assert.Equal(t, "device:sid", id.Subject())
}

func TestPrincipal_Composite(t *testing.T) {
	user := MarkAuthenticated(NewIdentity(KindUser, "u", "alice", Claims{SIDClaim("u")}), MethodPassword)
	app := MarkAuthenticated(NewIdentity(KindApplication, "a", "portal", Claims{SIDClaim("a")}), MethodPassword)
	dev := NewIdentity(KindDevice, "d", "DEV01", Claims{SIDClaim("d")})

	p := NewPrincipal(dev, nil, app, user)

	require.Len(t, p.Identities(), 3)
	assert.True(t, p.IsAuthenticated())
	assert.Len(t, p.AuthenticatedIdentities(), 2)
	assert.Equal(t, "alice", p.Primary().Name)
	assert.Equal(t, "alice", p.Name())
	assert.Equal(t, "portal", p.ApplicationIdentity().Name)
	assert.Equal(t, "DEV01", p.DeviceIdentity().Name)
	assert.ElementsMatch(t, []string{"app:a", "user:u"}, p.Subjects())

	assert.True(t, p.ActsAs(KindUser, "ALICE"))
	assert.False(t, p.ActsAs(KindDevice, "DEV01"), "unauthenticated identities do not act")
	assert.Len(t, p.Claims().FindAll(ClaimTypeSID), 3)
}

func TestPrincipal_WithSession(t *testing.T) {
	user := MarkAuthenticated(NewIdentity(KindUser, "u", "alice", nil), MethodSession)
	p := NewPrincipal(user).WithSession("s-1", Claims{ScopeClaim("*")})

	assert.Equal(t, "s-1", p.SessionID())
	scope := p.FindFirst(ClaimTypeScope)
	require.NotNil(t, scope)
	assert.Equal(t, "*", scope.Value)
}

func TestPrincipal_AnonymousAndSystem(t *testing.T) {
	anon := AnonymousPrincipal()
	assert.False(t, anon.IsAuthenticated())
	assert.Equal(t, AnonymousName, anon.Name())
	assert.Nil(t, anon.Primary())
	assert.Empty(t, anon.Subjects())

	sys := SystemPrincipal()
	assert.True(t, sys.IsAuthenticated())
	assert.True(t, sys.IsSystem())
	assert.Equal(t, SystemName, sys.Name())
	assert.Equal(t, []string{PrefixUser + SystemSID}, sys.Subjects())

	var nilPrincipal *Principal
	assert.False(t, nilPrincipal.IsAuthenticated())
	assert.Equal(t, AnonymousName, nilPrincipal.Name())
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "role:CLINICIANS", RoleSubject("clinicians"))

	name, ok := RoleName("role:CLINICIANS")
	assert.True(t, ok)
	assert.Equal(t, "CLINICIANS", name)
	_, ok = RoleName("user:x")
	assert.False(t, ok)

	for _, kind := range []IdentityKind{KindUser, KindApplication, KindDevice} {
		gotKind, sid, err := ParseSubject(SubjectFor(kind, "sid"))
		require.NoError(t, err)
		assert.Equal(t, kind, gotKind)
		assert.Equal(t, "sid", sid)
	}

	_, _, err := ParseSubject("role:X")
	assert.Error(t, err)
}
