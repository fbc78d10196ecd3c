package auth

// Principal is the runtime, possibly composite, representation of a caller.
//
// A principal is immutable once built. It carries one or more identities
// (user, application, device) and, when resolved from a session, the session
// id and claims. A principal is authenticated when at least one of its
// identities came from an authentication result.
type Principal struct {
	identities []*Identity
	sessionID  string
	claims     Claims
}

// NewPrincipal builds a principal over the given identities. Nil entries are
// dropped.
func NewPrincipal(identities ...*Identity) *Principal {
	p := &Principal{}
	for _, id := range identities {
		if id != nil {
			p.identities = append(p.identities, id)
		}
	}
	return p
}

// WithSession returns a copy bound to a session.
func (p *Principal) WithSession(sessionID string, claims Claims) *Principal {
	out := &Principal{
		identities: append([]*Identity(nil), p.identities...),
		sessionID:  sessionID,
		claims:     claims.Clone(),
	}
	return out
}

// Identities returns the bound identities in order.
func (p *Principal) Identities() []*Identity {
	if p == nil {
		return nil
	}
	return append([]*Identity(nil), p.identities...)
}

// IsAuthenticated reports whether any bound identity is authenticated.
func (p *Principal) IsAuthenticated() bool {
	return len(p.authenticated()) > 0
}

func (p *Principal) authenticated() []*Identity {
	if p == nil {
		return nil
	}
	var out []*Identity
	for _, id := range p.identities {
		if id.IsAuthenticated() {
			out = append(out, id)
		}
	}
	return out
}

// AuthenticatedIdentities returns only the identities that were authenticated.
func (p *Principal) AuthenticatedIdentities() []*Identity {
	return p.authenticated()
}

func (p *Principal) firstOfKind(kind IdentityKind) *Identity {
	if p == nil {
		return nil
	}
	for _, id := range p.identities {
		if id.Kind == kind {
			return id
		}
	}
	return nil
}

func (p *Principal) UserIdentity() *Identity        { return p.firstOfKind(KindUser) }
func (p *Principal) ApplicationIdentity() *Identity { return p.firstOfKind(KindApplication) }
func (p *Principal) DeviceIdentity() *Identity      { return p.firstOfKind(KindDevice) }

// Primary returns the user identity when present, otherwise the first bound
// identity.
func (p *Principal) Primary() *Identity {
	if u := p.UserIdentity(); u != nil {
		return u
	}
	if p == nil || len(p.identities) == 0 {
		return nil
	}
	return p.identities[0]
}

// Name returns the primary identity name, or AnonymousName.
func (p *Principal) Name() string {
	if id := p.Primary(); id != nil {
		return id.Name
	}
	return AnonymousName
}

// SessionID returns the backing session id, if any.
func (p *Principal) SessionID() string {
	if p == nil {
		return ""
	}
	return p.sessionID
}

// Claims returns session claims followed by the claims of each identity.
func (p *Principal) Claims() Claims {
	if p == nil {
		return nil
	}
	out := p.claims.Clone()
	for _, id := range p.identities {
		out = append(out, id.Claims...)
	}
	return out
}

// FindFirst looks up a claim across session and identity claims.
func (p *Principal) FindFirst(claimType string) *Claim {
	return p.Claims().FindFirst(claimType)
}

// Subjects returns the casbin subjects of the authenticated identities.
func (p *Principal) Subjects() []string {
	var out []string
	for _, id := range p.authenticated() {
		out = append(out, id.Subject())
	}
	return out
}

// ActsAs reports whether the principal carries an authenticated identity of
// the given kind and name.
func (p *Principal) ActsAs(kind IdentityKind, name string) bool {
	for _, id := range p.authenticated() {
		if id.Is(kind, name) {
			return true
		}
	}
	return false
}

// IsSystem reports whether the principal is the well-known system principal.
func (p *Principal) IsSystem() bool {
	for _, id := range p.authenticated() {
		if id.SID == SystemSID {
			return true
		}
	}
	return false
}
