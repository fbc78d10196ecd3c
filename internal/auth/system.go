package auth

// SystemSID is the well-known SID of the SYSTEM identity seeded by migrations.
// It is used for bootstrap and administrative operations; its grants live in
// the policy store like any other identity.
const SystemSID = "00000000-0000-0000-0000-000000000000"

const (
	SystemName    = "SYSTEM"
	AnonymousName = "ANONYMOUS"
)

// SystemPrincipal returns an authenticated principal for the SYSTEM identity.
func SystemPrincipal() *Principal {
	id := NewIdentity(KindUser, SystemSID, SystemName, Claims{NameClaim(SystemName), SIDClaim(SystemSID)})
	return NewPrincipal(MarkAuthenticated(id, MethodSystem))
}

// AnonymousPrincipal returns a principal with no identities.
func AnonymousPrincipal() *Principal {
	return NewPrincipal()
}
