package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/iam/iamtest"
	"github.com/santedb/santedb-server-sub007/internal/services/policy"
)

func grantOf(t *testing.T, f *iamtest.Fixture, p *auth.Principal, oid string) auth.Grant {
	t.Helper()
	g, err := f.Policies.GetPolicyInstance(context.Background(), p, oid)
	require.NoError(t, err)
	return g
}

func TestGetPolicyInstance_DefaultDenyClinical(t *testing.T) {
	f := iamtest.New(t)
	f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	assert.Equal(t, auth.GrantGrant, grantOf(t, f, f.System, auth.PolicyAlterIdentity))
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, f.System, auth.PolicyUnrestrictedClinicalData),
		"administrative grants never imply clinical access")
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, alice, auth.PolicyUnrestrictedClinicalData))
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, alice, auth.PolicyLogin))
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, alice, auth.PolicyAlterPolicy))
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, auth.AnonymousPrincipal(), auth.PolicyLogin))
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, f.System, "9.9.9"), "unknown policies are denied")
}

func TestGetPolicyInstance_MostRestrictiveWins(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	user := f.CreateUser(t, "alice", "Passw0rd!")

	_, err := f.Roles.CreateRole(ctx, "clinicians", "", f.System)
	require.NoError(t, err)
	require.NoError(t, f.Roles.AddUsersToRoles(ctx, []string{"alice"}, []string{"CLINICIANS"}, f.System))
	f.Grant(t, auth.RoleSubject("CLINICIANS"), auth.GrantGrant, auth.PolicyUnrestrictedClinicalData)

	alice := f.Login(t, "alice", "Passw0rd!")
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, alice, auth.PolicyUnrestrictedClinicalData))
	require.NoError(t, f.Policies.Demand(ctx, alice, auth.PolicyUnrestrictedClinicalData))

	// A direct Elevate is more restrictive than the role's Grant.
	f.Grant(t, user.Subject(), auth.GrantElevate, auth.PolicyUnrestrictedClinicalData)
	assert.Equal(t, auth.GrantElevate, grantOf(t, f, alice, auth.PolicyUnrestrictedClinicalData))
	err = f.Policies.Demand(ctx, alice, auth.PolicyUnrestrictedClinicalData)
	assert.ErrorIs(t, err, &auth.PolicyViolationError{PolicyOID: auth.PolicyUnrestrictedClinicalData})

	// Elevate on a policy that cannot be elevated is a Deny.
	f.Grant(t, user.Subject(), auth.GrantElevate, auth.PolicyReadMetadata)
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, alice, auth.PolicyReadMetadata))

	// Replacing the direct grant restores the role's Grant.
	f.Grant(t, user.Subject(), auth.GrantGrant, auth.PolicyReadMetadata)
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, alice, auth.PolicyReadMetadata))
}

func TestGetPolicyInstance_AncestorGrants(t *testing.T) {
	f := iamtest.New(t)
	user := f.CreateUser(t, "root", "Passw0rd!")
	f.Grant(t, user.Subject(), auth.GrantGrant, auth.PolicyRoot)
	p := f.Login(t, "root", "Passw0rd!")

	assert.Equal(t, auth.GrantGrant, grantOf(t, f, p, auth.PolicyAlterRoles))
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, p, auth.PolicyUnrestrictedClinicalData))

	f.Grant(t, user.Subject(), auth.GrantDeny, auth.PolicyUnrestrictedAdministration)
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, p, auth.PolicyAlterRoles), "a deny on an ancestor applies to descendants")
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, p, auth.PolicyLogin))
}

func TestGetPolicyInstance_CompositePrincipal(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	dev := f.CreateDevice(t, "DEV01", "S3cr3t!")

	alice := f.Login(t, "alice", "Passw0rd!")
	device, err := f.Devices.Authenticate(ctx, "DEV01", "S3cr3t!")
	require.NoError(t, err)
	both := auth.NewPrincipal(append(alice.Identities(), device.Identities()...)...)

	assert.Equal(t, auth.GrantGrant, grantOf(t, f, both, auth.PolicyLogin))

	f.Grant(t, dev.Subject(), auth.GrantDeny, auth.PolicyLogin)
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, alice, auth.PolicyLogin))
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, both, auth.PolicyLogin), "every bound identity's rules apply")
}

func TestGetPoliciesFor(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	instances, err := f.Policies.GetPoliciesFor(ctx, alice)
	require.NoError(t, err)
	got := map[string]auth.Grant{}
	for _, i := range instances {
		got[i.Policy.OID] = i.Grant
	}
	assert.Equal(t, map[string]auth.Grant{
		auth.PolicyLogin:        auth.GrantGrant,
		auth.PolicyReadMetadata: auth.GrantGrant,
	}, got)

	none, err := f.Policies.GetPoliciesFor(ctx, auth.AnonymousPrincipal())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAddAndRemovePolicies(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	user := f.CreateUser(t, "alice", "Passw0rd!")
	alice := f.Login(t, "alice", "Passw0rd!")

	err := f.Policies.AddPolicies(ctx, user.Subject(), auth.GrantGrant, []string{auth.PolicyAlterPolicy}, alice)
	assert.ErrorIs(t, err, &auth.PolicyViolationError{PolicyOID: auth.PolicyAlterPolicy})

	err = f.Policies.AddPolicies(ctx, user.Subject(), auth.GrantGrant, []string{auth.PolicyLogin, "9.9.9"}, f.System)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	direct, err := f.Policies.GetSubjectPolicies(ctx, user.Subject())
	require.NoError(t, err)
	assert.Empty(t, direct, "an unknown oid rejects the whole request")

	f.Grant(t, user.Subject(), auth.GrantGrant, auth.PolicyCreateRoles, auth.PolicyAlterRoles)
	direct, err = f.Policies.GetSubjectPolicies(ctx, user.Subject())
	require.NoError(t, err)
	assert.Equal(t, []policy.SubjectGrant{
		{Subject: user.Subject(), OID: auth.PolicyCreateRoles, Grant: auth.GrantGrant},
		{Subject: user.Subject(), OID: auth.PolicyAlterRoles, Grant: auth.GrantGrant},
	}, direct)

	require.NoError(t, f.Policies.RemovePolicies(ctx, user.Subject(), []string{auth.PolicyCreateRoles}, f.System))
	assert.Equal(t, auth.GrantDeny, grantOf(t, f, alice, auth.PolicyCreateRoles))
	assert.Equal(t, auth.GrantGrant, grantOf(t, f, alice, auth.PolicyAlterRoles))
}

func TestCreatePolicy(t *testing.T) {
	f := iamtest.New(t)
	ctx := context.Background()
	oid := auth.PolicyRoot + ".4"

	created, err := f.Policies.CreatePolicy(ctx, policy.Policy{OID: oid, Name: "Export Data", CanElevate: true}, f.System)
	require.NoError(t, err)
	assert.Equal(t, oid, created.OID)

	got, err := f.Policies.GetPolicy(ctx, oid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CanElevate)

	_, err = f.Policies.CreatePolicy(ctx, policy.Policy{OID: oid, Name: "Duplicate"}, f.System)
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	_, err = f.Policies.CreatePolicy(ctx, policy.Policy{OID: oid + ".1", Name: "Anon"}, auth.AnonymousPrincipal())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	missing, err := f.Policies.GetPolicy(ctx, "9.9.9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	catalog, err := f.Policies.GetPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog, 14)
}
