// Package session defines the session record model and the authoritative
// in-process store with its secondary indices.
//
// The store is the single mutual-exclusion domain for all session state:
// every compound read-then-write sequence the lifecycle manager needs
// (exclusive insert, full id rotation, purge) is exposed as one atomic
// store operation, so callers never hold multi-call races.
package session
