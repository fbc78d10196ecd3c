package auth

import "strings"

// IdentityKind identifies the principal kind an identity belongs to.
type IdentityKind string

const (
	KindUser        IdentityKind = "user"
	KindApplication IdentityKind = "application"
	KindDevice      IdentityKind = "device"
)

// Valid reports whether k is one of the known kinds.
func (k IdentityKind) Valid() bool {
	switch k {
	case KindUser, KindApplication, KindDevice:
		return true
	}
	return false
}

// Authentication methods recorded on authenticated identities.
const (
	MethodPassword    = "password"
	MethodCertificate = "certificate"
	MethodChallenge   = "challenge"
	MethodSession     = "session"
	MethodSystem      = "system"
)

// Identity is a named credential holder of a specific kind.
//
// An Identity reports IsAuthenticated only when produced by an authentication
// result (see MarkAuthenticated). Identities loaded from storage or copied via
// Unauthenticated never carry that state.
type Identity struct {
	SID    string
	Name   string
	Kind   IdentityKind
	Claims Claims

	authenticated bool
	method        string
}

// NewIdentity returns an unauthenticated identity.
func NewIdentity(kind IdentityKind, sid, name string, claims Claims) *Identity {
	return &Identity{SID: sid, Name: name, Kind: kind, Claims: claims.Clone()}
}

// MarkAuthenticated returns a copy of id flagged as authenticated by method.
// Only authentication paths call this.
func MarkAuthenticated(id *Identity, method string) *Identity {
	if id == nil {
		return nil
	}
	out := id.Unauthenticated()
	out.authenticated = true
	out.method = method
	return out
}

func (i *Identity) IsAuthenticated() bool {
	return i != nil && i.authenticated
}

// AuthenticationMethod returns how the identity was authenticated, or "".
func (i *Identity) AuthenticationMethod() string {
	if i == nil {
		return ""
	}
	return i.method
}

// Unauthenticated returns a copy with authentication state cleared.
func (i *Identity) Unauthenticated() *Identity {
	if i == nil {
		return nil
	}
	return &Identity{SID: i.SID, Name: i.Name, Kind: i.Kind, Claims: i.Claims.Clone()}
}

// Subject returns the casbin subject for this identity.
func (i *Identity) Subject() string {
	return SubjectFor(i.Kind, i.SID)
}

// FindFirst looks up a claim on the identity.
func (i *Identity) FindFirst(claimType string) *Claim {
	if i == nil {
		return nil
	}
	return i.Claims.FindFirst(claimType)
}

// Is reports whether the identity has the given kind and name; names compare
// case-insensitively.
func (i *Identity) Is(kind IdentityKind, name string) bool {
	return i != nil && i.Kind == kind && strings.EqualFold(i.Name, name)
}
