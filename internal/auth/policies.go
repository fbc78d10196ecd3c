package auth

import (
	"fmt"
	"strings"
)

// Well-known policy OIDs. Policies form a dotted hierarchy: a grant on an
// ancestor applies to every descendant.
const (
	PolicyRoot = "1.3.6.1.4.1.33349.3.1.5.9.2"

	PolicyUnrestrictedAll            = PolicyRoot
	PolicyUnrestrictedAdministration = PolicyRoot + ".0"
	PolicyChangePassword             = PolicyUnrestrictedAdministration + ".1"
	PolicyCreateRoles                = PolicyUnrestrictedAdministration + ".2"
	PolicyAlterRoles                 = PolicyUnrestrictedAdministration + ".3"
	PolicyCreateIdentity             = PolicyUnrestrictedAdministration + ".4"
	PolicyCreateDevice               = PolicyUnrestrictedAdministration + ".5"
	PolicyCreateApplication          = PolicyUnrestrictedAdministration + ".6"
	PolicyAlterIdentity              = PolicyUnrestrictedAdministration + ".7"
	PolicyAlterPolicy                = PolicyUnrestrictedAdministration + ".8"
	PolicyLogin                      = PolicyRoot + ".1"
	PolicyUnrestrictedClinicalData   = PolicyRoot + ".2"
	PolicyReadMetadata               = PolicyRoot + ".3"
)

// Grant is the outcome of a policy decision. Values are ordered from most
// to least restrictive.
type Grant int

const (
	GrantDeny Grant = iota
	GrantElevate
	GrantGrant
)

func (g Grant) String() string {
	switch g {
	case GrantGrant:
		return "grant"
	case GrantElevate:
		return "elevate"
	default:
		return "deny"
	}
}

// ParseGrant parses the stored form of a grant.
func ParseGrant(s string) (Grant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grant":
		return GrantGrant, nil
	case "elevate":
		return GrantElevate, nil
	case "deny":
		return GrantDeny, nil
	}
	return GrantDeny, fmt.Errorf("invalid grant type: %q", s)
}

// Restrict combines two grants; the more restrictive one wins.
func Restrict(a, b Grant) Grant {
	if a < b {
		return a
	}
	return b
}

// PolicyLineage returns oid followed by each of its ancestors.
// Example: "1.2.3" → ["1.2.3", "1.2", "1"]
func PolicyLineage(oid string) []string {
	oid = strings.Trim(oid, ".")
	if oid == "" {
		return nil
	}
	out := []string{oid}
	for i := len(oid) - 1; i > 0; i-- {
		if oid[i] == '.' {
			out = append(out, oid[:i])
		}
	}
	return out
}
