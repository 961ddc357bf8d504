// Package internal holds identifier generation and device fingerprint
// derivation shared by the sessionguard engine. Nothing here is part of the
// public API.
package internal
