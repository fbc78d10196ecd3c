package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when an operation requires an authenticated
// principal and receives an anonymous one or a bare identity.
var ErrUnauthenticated = errors.New("principal is not authenticated")

// AuthenticationReason classifies authentication failures.
type AuthenticationReason string

const (
	ReasonInvalidCredential   AuthenticationReason = "invalid_credential"
	ReasonLocked              AuthenticationReason = "locked"
	ReasonInvalidIdentity     AuthenticationReason = "invalid_identity"
	ReasonCancelled           AuthenticationReason = "cancelled"
	ReasonSessionExpired      AuthenticationReason = "session_expired"
	ReasonSessionAbandoned    AuthenticationReason = "session_abandoned"
	ReasonSessionInvalid      AuthenticationReason = "session_invalid"
	ReasonCertificateUnmapped AuthenticationReason = "certificate_unmapped"
	ReasonCertificateRevoked  AuthenticationReason = "certificate_revoked"
	ReasonCertificateExpired  AuthenticationReason = "certificate_expired"
)

// AuthenticationError is the typed failure of every Authenticate operation.
// Compare with errors.Is against the Err* sentinels below.
type AuthenticationError struct {
	Reason AuthenticationReason
	// Name is the identity name or session id the attempt targeted.
	Name string
	Err  error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed: " + string(e.Reason)
	if e.Name != "" {
		msg = fmt.Sprintf("authentication failed for %q: %s", e.Name, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Is matches another AuthenticationError with the same reason.
func (e *AuthenticationError) Is(target error) bool {
	var t *AuthenticationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

var (
	ErrInvalidCredential   = &AuthenticationError{Reason: ReasonInvalidCredential}
	ErrLocked              = &AuthenticationError{Reason: ReasonLocked}
	ErrInvalidIdentity     = &AuthenticationError{Reason: ReasonInvalidIdentity}
	ErrCancelled           = &AuthenticationError{Reason: ReasonCancelled}
	ErrSessionExpired      = &AuthenticationError{Reason: ReasonSessionExpired}
	ErrSessionAbandoned    = &AuthenticationError{Reason: ReasonSessionAbandoned}
	ErrSessionInvalid      = &AuthenticationError{Reason: ReasonSessionInvalid}
	ErrCertificateUnmapped = &AuthenticationError{Reason: ReasonCertificateUnmapped}
	ErrCertificateRevoked  = &AuthenticationError{Reason: ReasonCertificateRevoked}
	ErrCertificateExpired  = &AuthenticationError{Reason: ReasonCertificateExpired}
)

// NewAuthenticationError builds an error for the given reason and target.
func NewAuthenticationError(reason AuthenticationReason, name string, cause error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Name: name, Err: cause}
}

// PolicyViolationError reports that a principal lacks the policy required
// for an operation.
type PolicyViolationError struct {
	PolicyOID string
	Principal string
	// Unauthenticated is set when the principal carried no authenticated identity.
	Unauthenticated bool
}

func (e *PolicyViolationError) Error() string {
	if e.Unauthenticated {
		return fmt.Sprintf("policy violation: unauthenticated principal cannot demand %s", e.PolicyOID)
	}
	return fmt.Sprintf("policy violation: %s does not hold %s", e.Principal, e.PolicyOID)
}

func (e *PolicyViolationError) Unwrap() error {
	if e.Unauthenticated {
		return ErrUnauthenticated
	}
	return nil
}

// Is matches a PolicyViolationError with the same OID, or any violation when
// the target OID is empty.
func (e *PolicyViolationError) Is(target error) bool {
	t, ok := target.(*PolicyViolationError)
	if !ok {
		return false
	}
	return t.PolicyOID == "" || t.PolicyOID == e.PolicyOID
}

// ErrPolicyViolation matches any PolicyViolationError.
var ErrPolicyViolation = &PolicyViolationError{}

// NewPolicyViolation builds the violation for p and oid.
func NewPolicyViolation(p *Principal, oid string) *PolicyViolationError {
	return &PolicyViolationError{
		PolicyOID:       oid,
		Principal:       p.Name(),
		Unauthenticated: !p.IsAuthenticated(),
	}
}
