// Package iam assembles the trust core.
//
// Core is the composition root shared by the CLI and tests. It owns no
// behavior of its own; each provider lives in its own package:
//
//   - identity: user, application and device identity providers
//   - lockout: the failure counter shared by every credential route
//   - certificate: certificate mapping and authentication
//   - challenge: security challenge answers and challenge authentication
//   - session: session lifecycle, session resolution and the resolver cache
//   - policy: the policy information point and the role provider
//
// Request flow:
//
//	credential → identity/certificate/challenge Authenticate → Principal
//	       ↓
//	   session.Establish(principal) → refresh token
//	       ↓
//	   session.Authenticate(session) → composite Principal
//	       ↓
//	   policy.Demand(principal, oid)
package iam
