package auth

import (
	"fmt"
	"strings"
)

// Prefix constants for casbin subjects. Identities are keyed by SID so
// renames never orphan grants; roles are keyed by name.
const (
	PrefixUser        = "user:"
	PrefixApplication = "app:"
	PrefixDevice      = "device:"
	PrefixRole        = "role:"
)

// SubjectFor returns the casbin subject of an identity.
// Example: SubjectFor(KindDevice, "0190...") → "device:0190..."
func SubjectFor(kind IdentityKind, sid string) string {
	switch kind {
	case KindApplication:
		return PrefixApplication + sid
	case KindDevice:
		return PrefixDevice + sid
	default:
		return PrefixUser + sid
	}
}

// RoleSubject returns the casbin subject of a role.
// Example: RoleSubject("ADMINISTRATORS") → "role:ADMINISTRATORS"
func RoleSubject(name string) string {
	return PrefixRole + strings.ToUpper(name)
}

// RoleName extracts the role name from a role subject.
func RoleName(subject string) (string, bool) {
	if !strings.HasPrefix(subject, PrefixRole) {
		return "", false
	}
	return strings.TrimPrefix(subject, PrefixRole), true
}

// ParseSubject splits an identity subject into its kind and SID.
func ParseSubject(subject string) (IdentityKind, string, error) {
	switch {
	case strings.HasPrefix(subject, PrefixUser):
		return KindUser, strings.TrimPrefix(subject, PrefixUser), nil
	case strings.HasPrefix(subject, PrefixApplication):
		return KindApplication, strings.TrimPrefix(subject, PrefixApplication), nil
	case strings.HasPrefix(subject, PrefixDevice):
		return KindDevice, strings.TrimPrefix(subject, PrefixDevice), nil
	}
	return "", "", fmt.Errorf("invalid identity subject: %q", subject)
}
