package auth

import "strings"

// ClaimKind discriminates the closed set of claims the trust core understands.
type ClaimKind int

const (
	ClaimKindCustom ClaimKind = iota
	ClaimKindName
	ClaimKindSID
	ClaimKindScope
	ClaimKindApplicationID
	ClaimKindDeviceID
)

// Claim type identifiers used for storage and lookup.
const (
	ClaimTypeName          = "name"
	ClaimTypeSID           = "sid"
	ClaimTypeScope         = "scope"
	ClaimTypeApplicationID = "application_id"
	ClaimTypeDeviceID      = "device_id"
)

var claimTypes = map[ClaimKind]string{
	ClaimKindName:          ClaimTypeName,
	ClaimKindSID:           ClaimTypeSID,
	ClaimKindScope:         ClaimTypeScope,
	ClaimKindApplicationID: ClaimTypeApplicationID,
	ClaimKindDeviceID:      ClaimTypeDeviceID,
}

// Claim is a typed (type, value) assertion. Use the constructors; the zero
// value is an empty custom claim.
type Claim struct {
	Kind  ClaimKind
	Value string

	// custom holds the type of a ClaimKindCustom claim.
	custom string
}

func NameClaim(name string) Claim        { return Claim{Kind: ClaimKindName, Value: name} }
func SIDClaim(sid string) Claim          { return Claim{Kind: ClaimKindSID, Value: sid} }
func ScopeClaim(scope string) Claim      { return Claim{Kind: ClaimKindScope, Value: scope} }
func ApplicationIDClaim(id string) Claim { return Claim{Kind: ClaimKindApplicationID, Value: id} }
func DeviceIDClaim(id string) Claim      { return Claim{Kind: ClaimKindDeviceID, Value: id} }

// CustomClaim builds a claim of an arbitrary type. Reserved type names are
// mapped back onto their typed kind so a stored "sid" claim is always a SID.
func CustomClaim(claimType, value string) Claim {
	return ParseClaim(claimType, value)
}

// ParseClaim rebuilds a Claim from its stored type and value. Reserved
// types match case-insensitively.
func ParseClaim(claimType, value string) Claim {
	for kind, t := range claimTypes {
		if strings.EqualFold(t, claimType) {
			return Claim{Kind: kind, Value: value}
		}
	}
	return Claim{Kind: ClaimKindCustom, Value: value, custom: claimType}
}

// Type returns the storage type of the claim.
func (c Claim) Type() string {
	if c.Kind == ClaimKindCustom {
		return c.custom
	}
	return claimTypes[c.Kind]
}

func (c Claim) String() string {
	return c.Type() + "=" + c.Value
}

// Claims is an ordered claim list.
type Claims []Claim

// FindFirst returns the first claim whose type matches claimType
// (case-insensitive), or nil.
func (cs Claims) FindFirst(claimType string) *Claim {
	for i := range cs {
		if strings.EqualFold(cs[i].Type(), claimType) {
			c := cs[i]
			return &c
		}
	}
	return nil
}

// FindAll returns every claim of the given type in order.
func (cs Claims) FindAll(claimType string) Claims {
	var out Claims
	for _, c := range cs {
		if strings.EqualFold(c.Type(), claimType) {
			out = append(out, c)
		}
	}
	return out
}

// OfKind returns every claim of the given kind in order.
func (cs Claims) OfKind(kind ClaimKind) Claims {
	var out Claims
	for _, c := range cs {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns an independent copy of the list.
func (cs Claims) Clone() Claims {
	if cs == nil {
		return nil
	}
	out := make(Claims, len(cs))
	copy(out, cs)
	return out
}
