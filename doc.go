// Package sessionguard provides the secure session lifecycle and risk-scoring
// engine for regulated-domain web applications: issuing, validating, renewing,
// rotating, and terminating time-bounded access sessions for authenticated
// principals under a strict security policy (single concurrent session per
// principal, fixed maximum lifetime, IP/device binding, anti-hijacking risk
// scoring).
//
// The package is a library with no wire protocol of its own. Request-handling
// code constructs a [Manager] through [Builder.Build] and invokes it
// synchronously; Manager methods are safe to call from multiple goroutines.
// Two background maintenance tasks (security sweep and cleanup) run on
// independent timers and go through the same synchronized store operations as
// foreground calls.
//
// # Architecture boundaries
//
// sessionguard is the public surface. It exposes [Manager], [Builder],
// [Config], and value types (SecurityContext, ValidationResult, AuditEvent).
// The session record model and the authoritative store live in the session
// subpackage; tag computation and identifier generation live under internal/
// and are never exported.
//
// # What this package must NOT do
//
//   - Authenticate principals. Callers hand it an already-authenticated
//     principal identifier.
//   - Inspect encrypted session payloads. The encryption collaborator
//     produces opaque blobs that are stored and forwarded as-is.
//   - Block lifecycle operations on audit delivery. Audit emission is
//     fire-and-forget through a buffered dispatcher.
package sessionguard
